// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import "errors"

var (
	// ErrInvalidListenAddr indicates the listen address is malformed.
	ErrInvalidListenAddr = errors.New("config: invalid listen address")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrEmptyDataDir indicates the data directory path is empty.
	ErrEmptyDataDir = errors.New("config: data directory must not be empty")

	// ErrInvalidTTL indicates a non-positive session or key ring lifetime.
	ErrInvalidTTL = errors.New("config: lifetimes must be positive")

	// ErrInvalidDuration indicates a duration value that does not parse.
	ErrInvalidDuration = errors.New("config: invalid duration")

	// ErrInvalidBool indicates a boolean value that does not parse.
	ErrInvalidBool = errors.New("config: invalid boolean")

	// ErrInvalidEncryptionAlg indicates an unknown key-transfer algorithm.
	ErrInvalidEncryptionAlg = errors.New("config: invalid encryption algorithm (must be \"secp256k1-ecies\" or \"age-x25519\")")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")

	// ErrInvalidConfigLine indicates a line in the config file is malformed.
	ErrInvalidConfigLine = errors.New("config: invalid configuration line")
)
