// Package store is the relational persistence layer backing the subset of
// workflow-session state described in §3 ("a subset persists in the
// relational store for history") plus the tables §6 names explicitly: users,
// cloud connections, projects, generations, deployment-operation logs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			github_login TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cloud_connections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			caller_id TEXT NOT NULL UNIQUE,
			role_arn TEXT NOT NULL DEFAULT '',
			nonce TEXT NOT NULL,
			account_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			verified_at TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS projects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			installation_id INTEGER NOT NULL,
			repo_owner TEXT NOT NULL,
			repo_name TEXT NOT NULL,
			deployment_shape TEXT NOT NULL,
			framework TEXT NOT NULL DEFAULT '',
			application_url TEXT,
			terraform_outputs TEXT,
			deployment_summary TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(installation_id, repo_owner, repo_name)
		);`,
		`CREATE TABLE IF NOT EXISTS generations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL,
			session_id TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			pr_url TEXT,
			pr_merged INTEGER NOT NULL DEFAULT 0,
			artifact_keys TEXT,
			stage_memory_id TEXT,
			error TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS deployment_operations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL,
			session_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
