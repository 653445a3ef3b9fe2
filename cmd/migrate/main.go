// ABOUTME: Migration utility for the contactsync database
// ABOUTME: Applies, rolls back, inspects, or forces schema versions, with an optional backup first
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/harperreed/contactsync/config"
	"github.com/harperreed/contactsync/db"
	"github.com/harperreed/contactsync/logging"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	dbPath := flag.String("db", "", "Path to database file (default from config)")
	backup := flag.Bool("backup", true, "Create backup before changing the schema")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: migrate [-db path] [-backup=false] up|down|version|force N\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := logging.New(logging.Options{Level: os.Getenv("CONTACTSYNC_LOG_LEVEL")})

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	path := *dbPath
	if path == "" {
		cfg, err := config.Load("")
		if err != nil {
			logger.Fatal("failed to load config", "error", err)
		}
		path = cfg.Database.Path
	}

	if *backup && command != "version" {
		backupPath, err := db.Backup(path, time.Now())
		if err != nil {
			logger.Fatal("backup failed", "error", err)
		}
		if backupPath != "" {
			logger.Info("database backed up", "path", backupPath)
		}
	}

	if err := db.RunMigrate(logger, path, command, flag.Args()[1:]); err != nil {
		logger.Fatal("migration failed", "error", err)
	}
}
