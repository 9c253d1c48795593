package spool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Media types the pipeline recognizes.
const (
	MediaPDF  = "application/pdf"
	MediaDOC  = "application/msword"
	MediaDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MediaODT  = "application/vnd.oasis.opendocument.text"
	MediaRTF  = "application/rtf"
	MediaRaw  = "application/octet-stream"
)

var extensionTypes = map[string]string{
	".pdf":  MediaPDF,
	".doc":  MediaDOC,
	".docx": MediaDOCX,
	".odt":  MediaODT,
	".rtf":  MediaRTF,
	".txt":  "text/plain",
	".ps":   "application/postscript",
	".pcl":  "application/vnd.hp-pcl",
	".prn":  MediaRaw,
}

// IsWordProcessing reports whether mediaType needs conversion before printing.
func IsWordProcessing(mediaType string) bool {
	switch normalizeMediaType(mediaType) {
	case MediaDOC, MediaDOCX, MediaODT, MediaRTF, "text/rtf":
		return true
	}
	return false
}

// IsPDF reports whether mediaType is a paginated PDF document.
func IsPDF(mediaType string) bool {
	return normalizeMediaType(mediaType) == MediaPDF
}

// DetectMediaType returns declared when it is meaningful, otherwise the
// type implied by the file name extension.
func DetectMediaType(declared, filename string) string {
	declared = normalizeMediaType(declared)
	if declared != "" && declared != MediaRaw {
		return declared
	}
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}
	return MediaRaw
}

// ExtensionFor returns a file extension for mediaType, or "".
func ExtensionFor(mediaType string) string {
	mediaType = normalizeMediaType(mediaType)
	for ext, t := range extensionTypes {
		if t == mediaType && t != MediaRaw {
			return ext
		}
	}
	return ""
}

func normalizeMediaType(t string) string {
	t, _, _ = strings.Cut(t, ";")
	return strings.ToLower(strings.TrimSpace(t))
}

// Converter turns a word-processing document into a PDF written to outDir.
type Converter interface {
	Convert(ctx context.Context, src, outDir string) (string, error)
}

// SofficeConverter converts documents with a headless LibreOffice.
type SofficeConverter struct {
	Binary  string
	Timeout time.Duration
}

// NewSofficeConverter returns a converter running binary, bounded by timeout.
func NewSofficeConverter(binary string, timeout time.Duration) *SofficeConverter {
	if binary == "" {
		binary = "soffice"
	}
	return &SofficeConverter{Binary: binary, Timeout: timeout}
}

// Convert runs `soffice --headless --convert-to pdf --outdir outDir src` and
// returns the path of the produced PDF.
func (c *SofficeConverter) Convert(ctx context.Context, src, outDir string) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	// A private profile lets concurrent conversions run side by side.
	profile, err := os.MkdirTemp(outDir, "profile-*")
	if err != nil {
		return "", fmt.Errorf("create converter profile: %w", err)
	}
	defer os.RemoveAll(profile)

	cmd := exec.CommandContext(ctx, c.Binary,
		"-env:UserInstallation=file://"+filepath.ToSlash(profile),
		"--headless", "--norestore",
		"--convert-to", "pdf",
		"--outdir", outDir,
		src,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s: %w", c.Binary, ctx.Err())
		}
		return "", fmt.Errorf("%s: %w: %s", c.Binary, err, strings.TrimSpace(stderr.String()))
	}

	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	out := filepath.Join(outDir, base+".pdf")
	info, err := os.Stat(out)
	if err != nil {
		return "", fmt.Errorf("%s produced no output: %w", c.Binary, err)
	}
	if info.Size() == 0 {
		_ = os.Remove(out)
		return "", errors.New(c.Binary + " produced an empty document")
	}
	return out, nil
}
