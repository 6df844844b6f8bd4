package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"ticketwatch/internal/notify"
	"ticketwatch/internal/store"
)

const (
	stateDir        = "dev/.state"
	localConfigPath = "config.local.json5"
)

func cmd(name string, args ...string) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	fullCmd := name
	for _, a := range args {
		fullCmd += " "
		fullCmd += a
	}

	fmt.Printf("$ %s\n", fullCmd)
	err := cmd.Run()
	if err != nil {
		os.Exit(1)
	}
}

func CreateLocalStack() error {
	err := os.Chdir("dev/local_stack")
	if err != nil {
		return err
	}
	cmd("docker", "compose", "up", "-d")
	return os.Chdir("../..")
}

func databasePath() string {
	return filepath.Join(stateDir, "ticketwatch.db")
}

// CreateDatabase applies the schema to the dev database, the schema is
// idempotent so an existing database is left as is.
func CreateDatabase() error {
	path := databasePath()
	fmt.Println("preparing database at", path)
	db, err := store.Open(context.Background(), path)
	if err != nil {
		return err
	}
	return db.Close()
}

type localConfig struct {
	Database       string             `json:"database"`
	DiagnosticsDir string             `json:"diagnostics_dir"`
	RedisURL       string             `json:"redis_url,omitempty"`
	Smtp           *notify.SmtpConfig `json:"smtp,omitempty"`
	Browser        map[string]any     `json:"browser"`
}

func WriteLocalConfig(stack bool) error {
	_, err := os.Stat(localConfigPath)
	if err == nil {
		slog.Info("local config already exists, leaving it alone", "path", localConfigPath)
		return nil
	}

	cfg := localConfig{
		Database:       databasePath(),
		DiagnosticsDir: filepath.Join(stateDir, "diagnostics"),
		Browser: map[string]any{
			"profile_dir": filepath.Join(stateDir, "chrome-profile"),
			"headful":     true,
		},
	}
	if stack {
		cfg.RedisURL = "redis://localhost:6379/0"
		cfg.Smtp = &notify.SmtpConfig{
			Server:       "localhost",
			Port:         1025,
			EmailAddress: "alerts@ticketwatch.local",
			Recipients:   []string{"dev@ticketwatch.local"},
		}
	}

	// json is valid json5
	contents, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	slog.Info("writing local config", "path", localConfigPath)
	return os.WriteFile(localConfigPath, contents, 0666)
}
