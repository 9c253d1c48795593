package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/HerbHall/printfleet/internal/backup"
	"github.com/HerbHall/printfleet/internal/config"
)

func runBackup(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	output := fs.String("output", "", "output file path (default: printfleet-backup-{timestamp}.tar.gz)")
	configFile := fs.String("config", "", "config file to read database.path from and include in the backup")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	v, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	if *output == "" {
		*output = fmt.Sprintf("printfleet-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
	}

	ctx := context.Background()
	if err := backup.Backup(ctx, v.GetString("database.path"), v.ConfigFileUsed(), *output); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Backup created: %s\n", *output)
}
