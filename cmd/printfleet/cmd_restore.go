package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/HerbHall/printfleet/internal/backup"
	"github.com/HerbHall/printfleet/internal/config"
)

func runRestore(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	input := fs.String("input", "", "backup archive to restore (required)")
	configFile := fs.String("config", "", "config file to read database.path from")
	configDir := fs.String("config-dir", ".", "target directory for the restored config file")
	force := fs.Bool("force", false, "overwrite existing files")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *input == "" {
		fmt.Fprintln(os.Stderr, "error: --input is required")
		fs.Usage()
		os.Exit(1)
	}

	v, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "restore failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	files, err := backup.Restore(ctx, *input, v.GetString("database.path"), *configDir, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "restore failed: %v\n", err)
		os.Exit(1)
	}
	for _, f := range files {
		fmt.Printf("Restored %s\n", f)
	}
}
