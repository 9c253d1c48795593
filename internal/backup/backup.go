// Package backup provides tar.gz-based backup and restore of the PrintFleet
// database and configuration.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

// Backup creates a tar.gz archive containing the SQLite database and an
// optional config file. It performs a WAL checkpoint before copying the
// database to ensure consistency.
func Backup(ctx context.Context, dbPath, configPath, outputPath string) (err error) {
	// Verify database exists.
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("database file not found: %w", err)
	}

	// Checkpoint WAL to flush pending writes.
	if err := checkpointWAL(ctx, dbPath); err != nil {
		return fmt.Errorf("WAL checkpoint failed: %w", err)
	}

	// Create the output archive.
	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)
	defer func() {
		// Close in order; a failed flush leaves a truncated archive.
		for _, c := range []io.Closer{tw, gw, outFile} {
			if cerr := c.Close(); err == nil && cerr != nil {
				err = fmt.Errorf("finishing archive: %w", cerr)
			}
		}
		if err != nil {
			_ = os.Remove(outputPath)
		}
	}()

	// Add the database file.
	if err := addFileToTar(tw, dbPath, filepath.Base(dbPath)); err != nil {
		return fmt.Errorf("adding database to archive: %w", err)
	}

	// Add the config file if specified and it exists.
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := addFileToTar(tw, configPath, filepath.Base(configPath)); err != nil {
				return fmt.Errorf("adding config to archive: %w", err)
			}
		}
		// If the config file doesn't exist, skip silently.
	}

	return nil
}

// checkpointWAL opens the database, runs a TRUNCATE checkpoint to flush the
// WAL, and closes the connection.
func checkpointWAL(ctx context.Context, dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// addFileToTar adds a single file to the tar archive under the given name.
func addFileToTar(tw *tar.Writer, filePath, archiveName string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = archiveName

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	_, err = io.Copy(tw, f)
	return err
}

// Restore extracts an archive written by Backup. The database entry is
// written to dbPath and any other entry, the config file, to configDir.
// Existing files are refused unless overwrite is set, and are replaced only
// after the whole entry has been written.
func Restore(_ context.Context, archivePath, dbPath, configDir string, overwrite bool) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	defer gr.Close()

	var restored []string
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return restored, fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := filepath.Base(hdr.Name)
		if name != hdr.Name || strings.HasPrefix(name, ".") {
			return restored, fmt.Errorf("unexpected archive entry %q", hdr.Name)
		}

		target := filepath.Join(configDir, name)
		if name == filepath.Base(dbPath) {
			target = dbPath
		}
		if _, err := os.Stat(target); err == nil && !overwrite {
			return restored, fmt.Errorf("%s already exists, use --force to overwrite", target)
		}
		if err := writeAtomic(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
			return restored, fmt.Errorf("restoring %s: %w", name, err)
		}
		restored = append(restored, target)
	}
	if len(restored) == 0 {
		return nil, errors.New("archive contains no files")
	}
	return restored, nil
}

// writeAtomic copies r into a temp file beside path, then renames it over path.
func writeAtomic(path string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".restore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	// Stale WAL files would be replayed over the restored database.
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
	return os.Rename(tmp.Name(), path)
}
