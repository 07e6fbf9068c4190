// Package userstore is the local, read-through store for user and item
// projections: a small SQLite-backed store satisfying a read-only
// contract (GetUser, GetItem), plus the one write path the render
// pipeline needs — recording a successful render's hash and object
// keys. It uses a dual-connection layout: a single writer connection
// for serialized writes, a separate reader pool for concurrent reads,
// WAL mode, and a busy timeout.
package userstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/allaspectsdev/avatarforge/internal/avatar"
)

// Store is a SQLite-backed read-through store for user and item
// projections.
type Store struct {
	writer    *sql.DB
	reader    *sql.DB
	path      string
	closeOnce sync.Once
}

// Open creates a new Store backed by the SQLite database at path,
// creating the parent directory and schema if necessary.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("userstore: create directory %s: %w", dir, err)
	}

	writerDSN := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	writer, err := sql.Open("sqlite", writerDSN)
	if err != nil {
		return nil, fmt.Errorf("userstore: open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)
	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("userstore: ping writer: %w", err)
	}

	readerDSN := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=query_only(ON)"
	reader, err := sql.Open("sqlite", readerDSN)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("userstore: open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(4)
	reader.SetConnMaxLifetime(0)
	if err := reader.Ping(); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("userstore: ping reader: %w", err)
	}

	s := &Store{writer: writer, reader: reader, path: path}
	if _, err := s.writer.Exec(schemaUsers); err != nil {
		s.Close()
		return nil, fmt.Errorf("userstore: create users table: %w", err)
	}
	if _, err := s.writer.Exec(schemaItems); err != nil {
		s.Close()
		return nil, fmt.Errorf("userstore: create items table: %w", err)
	}
	return s, nil
}

// Close closes both connections. Safe to call multiple times.
func (s *Store) Close() error {
	var firstErr error
	s.closeOnce.Do(func() {
		if s.writer != nil {
			if err := s.writer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if s.reader != nil {
			if err := s.reader.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

// Path returns the filesystem path of the database.
func (s *Store) Path() string { return s.path }

// Ping verifies both connections are alive.
func (s *Store) Ping() error {
	if err := s.writer.Ping(); err != nil {
		return fmt.Errorf("userstore: writer ping: %w", err)
	}
	if err := s.reader.Ping(); err != nil {
		return fmt.Errorf("userstore: reader ping: %w", err)
	}
	return nil
}

// SeedUser inserts or replaces a user row, encoding its customization
// as JSON. Used by setup tooling and tests; the live read path never
// needs to write a customization, only the render-result fields below.
func (s *Store) SeedUser(u *avatar.User) error {
	blob, err := encodeCustomization(&u.Customization)
	if err != nil {
		return fmt.Errorf("userstore: encode customization: %w", err)
	}
	_, err = s.writer.Exec(
		`INSERT INTO users (username, customization_json, customization_hash, avatar_key, clothing_key, thumbnail_key)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET
		   customization_json=excluded.customization_json,
		   customization_hash=excluded.customization_hash,
		   avatar_key=excluded.avatar_key,
		   clothing_key=excluded.clothing_key,
		   thumbnail_key=excluded.thumbnail_key`,
		u.Username, blob, u.CustomizationHash, u.AvatarKey, u.ClothingKey, u.ThumbnailKey,
	)
	if err != nil {
		return fmt.Errorf("userstore: seed user %s: %w", u.Username, err)
	}
	return nil
}

// SeedItem inserts or replaces an item row.
func (s *Store) SeedItem(item *avatar.Item) error {
	_, err := s.writer.Exec(
		`INSERT INTO items (id, description) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET description=excluded.description`,
		item.ID, item.Description,
	)
	if err != nil {
		return fmt.Errorf("userstore: seed item %s: %w", item.ID, err)
	}
	return nil
}

// GetUser looks up a user projection by username. Returns
// sql.ErrNoRows (unwrapped, so callers can errors.Is against it) when
// the user is unknown.
func (s *Store) GetUser(username string) (*avatar.User, error) {
	row := s.reader.QueryRow(
		`SELECT username, customization_json, customization_hash, avatar_key, clothing_key, thumbnail_key
		 FROM users WHERE username = ?`, username,
	)
	var (
		u    avatar.User
		blob string
	)
	if err := row.Scan(&u.Username, &blob, &u.CustomizationHash, &u.AvatarKey, &u.ClothingKey, &u.ThumbnailKey); err != nil {
		return nil, err
	}
	c, err := decodeCustomization(blob)
	if err != nil {
		return nil, fmt.Errorf("userstore: decode customization for %s: %w", username, err)
	}
	u.Customization = *c
	return &u, nil
}

// GetItem looks up an item projection by id.
func (s *Store) GetItem(id string) (*avatar.Item, error) {
	row := s.reader.QueryRow(`SELECT id, description FROM items WHERE id = ?`, id)
	var item avatar.Item
	if err := row.Scan(&item.ID, &item.Description); err != nil {
		return nil, err
	}
	return &item, nil
}

// RecordRender updates a user's customizationHash and the three
// object-store keys after a successful render, the last step of the
// serialized write sequence. A failure leaves the previous hash in
// place, so stale keys are never paired with a fresh hash: the next
// request simply re-renders.
func (s *Store) RecordRender(username string, hash uint32, avatarKey, clothingKey, thumbnailKey string) error {
	_, err := s.writer.Exec(
		`UPDATE users SET customization_hash = ?, avatar_key = ?, clothing_key = ?, thumbnail_key = ? WHERE username = ?`,
		hash, avatarKey, clothingKey, thumbnailKey, username,
	)
	if err != nil {
		return fmt.Errorf("userstore: record render for %s: %w", username, err)
	}
	return nil
}
