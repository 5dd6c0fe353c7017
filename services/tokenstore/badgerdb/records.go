// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerdb implements the tokenstore.Records contract on
// BadgerDB for deployments that must survive restarts.
//
// Credentials are stored as JSON values under "cred:{subjectID}" keys.
// BadgerDB gives low-latency local access with no external dependency,
// which fits the single-node deployment model of this service.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/trendavatar/services/faults"
	"github.com/AleutianAI/trendavatar/services/tokenstore"
)

const keyPrefix = "cred:"

// Records is a BadgerDB-backed credential store.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type Records struct {
	db *badger.DB
}

// Config holds configuration for opening the store.
type Config struct {
	// Path is the directory for database files. Required unless
	// InMemory is set.
	Path string

	// InMemory disables persistence. For tests.
	InMemory bool

	// Logger receives BadgerDB's internal log output. Badger logging
	// is disabled when nil.
	Logger *slog.Logger
}

// Open opens (creating if needed) the credential database.
func Open(cfg Config) (*Records, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Records{db: db}, nil
}

// Close closes the underlying database.
func (r *Records) Close() error {
	return r.db.Close()
}

// Load implements tokenstore.Records.
func (r *Records) Load(_ context.Context, subjectID string) (tokenstore.Credential, error) {
	var cred tokenstore.Credential
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + subjectID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cred)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return tokenstore.Credential{}, fmt.Errorf("credential for %s: %w", subjectID, faults.ErrNotFound)
	}
	if err != nil {
		return tokenstore.Credential{}, fmt.Errorf("load credential for %s: %w", subjectID, err)
	}
	return cred, nil
}

// Save implements tokenstore.Records.
func (r *Records) Save(_ context.Context, cred tokenstore.Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+cred.SubjectID), data)
	})
	if err != nil {
		return fmt.Errorf("save credential for %s: %w", cred.SubjectID, err)
	}
	return nil
}

// Delete implements tokenstore.Records.
func (r *Records) Delete(_ context.Context, subjectID string) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + subjectID))
	})
	if err != nil {
		return fmt.Errorf("delete credential for %s: %w", subjectID, err)
	}
	return nil
}

// List implements tokenstore.Records.
func (r *Records) List(_ context.Context) ([]string, error) {
	var ids []string
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			ids = append(ids, strings.TrimPrefix(key, keyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return ids, nil
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
