// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

// Package config loads and saves the vault's key = value configuration
// file. Lines starting with '#' are comments, unknown keys are ignored and
// the first '=' on a line separates key from value.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the vault settings.
type Config struct {
	DataDir       string
	ListenAddr    string
	LogLevel      string
	LogFile       string
	SessionTTL    time.Duration
	KeyRingTTL    time.Duration
	EncryptionAlg string // key-transfer algorithm for new roles
	SignLedger    bool   // sign ledger entries when the acting role's key is reachable
}

const (
	keyDataDir       = "datadir"
	keyListen        = "listen"
	keyLogLevel      = "loglevel"
	keyLogFile       = "logfile"
	keySessionTTL    = "sessionttl"
	keyKeyRingTTL    = "keyringttl"
	keyEncryptionAlg = "encryption"
	keySignLedger    = "signledger"
)

// DefaultDataDir returns ~/.pdvault, or .pdvault in the working directory
// when the home directory cannot be determined.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pdvault"
	}
	return filepath.Join(home, ".pdvault")
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:       DefaultDataDir(),
		ListenAddr:    ":8080",
		LogLevel:      "info",
		SessionTTL:    12 * time.Hour,
		KeyRingTTL:    15 * time.Minute,
		EncryptionAlg: "secp256k1-ecies",
		SignLedger:    true,
	}
}

// ConfigPath returns the config file location inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(filepath.Clean(dataDir), "config")
}

// DatabasePath returns the bbolt file location inside dataDir.
func DatabasePath(dataDir string) string {
	return filepath.Join(filepath.Clean(dataDir), "vault.db")
}

// LoadConfig reads path on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return cfg, fmt.Errorf("config: open: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, err := parseKeyValue(line)
		if err != nil {
			return cfg, fmt.Errorf("%w: line %d: %q", err, lineNo, line)
		}
		if err := cfg.set(key, value); err != nil {
			return cfg, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("config: read: %w", err)
	}
	return cfg, nil
}

func parseKeyValue(line string) (string, string, error) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", ErrInvalidConfigLine
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return "", "", ErrInvalidConfigLine
	}
	return key, strings.TrimSpace(value), nil
}

func (c *Config) set(key, value string) error {
	switch key {
	case keyDataDir:
		c.DataDir = value
	case keyListen:
		c.ListenAddr = value
	case keyLogLevel:
		c.LogLevel = value
	case keyLogFile:
		c.LogFile = value
	case keySessionTTL, keyKeyRingTTL:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidDuration, key, err)
		}
		if key == keySessionTTL {
			c.SessionTTL = d
		} else {
			c.KeyRingTTL = d
		}
	case keyEncryptionAlg:
		c.EncryptionAlg = value
	case keySignLedger:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidBool, value)
		}
		c.SignLedger = b
	}
	return nil
}

// SaveConfig writes cfg to path, creating parent directories.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("# PDVault Configuration\n\n")
	fmt.Fprintf(&b, "%s = %s\n", keyDataDir, cfg.DataDir)
	fmt.Fprintf(&b, "%s = %s\n", keyListen, cfg.ListenAddr)
	fmt.Fprintf(&b, "%s = %s\n", keyLogLevel, cfg.LogLevel)
	fmt.Fprintf(&b, "%s = %s\n", keyLogFile, cfg.LogFile)
	fmt.Fprintf(&b, "%s = %s\n", keySessionTTL, cfg.SessionTTL)
	fmt.Fprintf(&b, "%s = %s\n", keyKeyRingTTL, cfg.KeyRingTTL)
	fmt.Fprintf(&b, "%s = %s\n", keyEncryptionAlg, cfg.EncryptionAlg)
	fmt.Fprintf(&b, "%s = %t\n", keySignLedger, cfg.SignLedger)

	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}
