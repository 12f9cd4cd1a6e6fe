// Package session manages per-run session directories: each CLI run gets
// a timestamped directory holding the structured log and a backup of the
// config it ran with.
package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Manager owns one run's session directory
type Manager struct {
	sessionDir string
	logger     *slog.Logger
}

// NewManager creates a timestamped session directory under outputDir
func NewManager(outputDir string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02T15-04-05")
	sessionDir := filepath.Join(outputDir, "session_"+timestamp)
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	logger.Info("Created session directory", "path", sessionDir)
	return &Manager{
		sessionDir: sessionDir,
		logger:     logger,
	}, nil
}

// Dir returns the session directory path
func (m *Manager) Dir() string {
	return m.sessionDir
}

// LogPath returns the session log file path
func (m *Manager) LogPath() string {
	return filepath.Join(m.sessionDir, "session.log")
}

// BackupConfig copies the config file into the session directory so a run
// can always be traced back to the exact configuration that produced it.
func (m *Manager) BackupConfig(configPath string) error {
	source, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	backupPath := filepath.Join(m.sessionDir, filepath.Base(configPath)+".bak")
	if err := os.WriteFile(backupPath, source, 0644); err != nil {
		return fmt.Errorf("failed to write config backup: %w", err)
	}

	m.logger.Info("Backed up config file", "path", backupPath)
	return nil
}
