package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/kanban/board"
)

// ErrEmailTaken is returned by CreateUser when the address is already registered.
var ErrEmailTaken = errors.New("email already registered")

// Open opens (creating if needed) the SQLite database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection keeps transactions serialized.
	db.SetMaxOpenConns(1)

	// Create users table
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		image TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create users table: %w", err)
	}

	// Create boards table (one JSON snapshot per board)
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create boards table: %w", err)
	}

	log.WithField("path", path).Debug("Database initialized")
	return &Store{db: db}, nil
}

// Store handles database operations for boards and users
type Store struct {
	db *sql.DB
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LoadBoard retrieves a board snapshot
func (s *Store) LoadBoard(ctx context.Context, boardID string) (*board.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, "SELECT data FROM boards WHERE id = ?", boardID)

	var data string
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("board %s: %w", boardID, board.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query board: %w", err)
	}

	var snap board.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal board: %w", err)
	}
	snap.Normalize()
	return &snap, nil
}

// SaveBoard saves or updates a board snapshot
func (s *Store) SaveBoard(ctx context.Context, snap *board.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal board: %w", err)
	}

	// Begin transaction
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO boards (id, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, snap.Board.ID, string(data), snap.Board.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert board: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListBoards returns the header of every stored board
func (s *Store) ListBoards(ctx context.Context) ([]board.Board, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM boards ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query boards: %w", err)
	}
	defer rows.Close()

	boards := []board.Board{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan board: %w", err)
		}
		var header struct {
			Board board.Board `json:"board"`
		}
		if err := json.Unmarshal([]byte(data), &header); err != nil {
			return nil, fmt.Errorf("failed to unmarshal board: %w", err)
		}
		boards = append(boards, header.Board)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read boards: %w", err)
	}
	return boards, nil
}

// DeleteBoard removes a board
func (s *Store) DeleteBoard(ctx context.Context, boardID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM boards WHERE id = ?", boardID)
	if err != nil {
		return fmt.Errorf("failed to delete board: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("board %s: %w", boardID, board.ErrNotFound)
	}
	return nil
}

// UserRecord is a registered account with its password hash
type UserRecord struct {
	board.User
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUser inserts a new account
func (s *Store) CreateUser(ctx context.Context, rec UserRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Check if email exists
	var existing string
	err = tx.QueryRowContext(ctx, "SELECT id FROM users WHERE email = ?", rec.Email).Scan(&existing)
	if err == nil {
		return ErrEmailTaken
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("failed to query user: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO users (id, email, name, image, password_hash) VALUES (?, ?, ?, ?, ?)",
		rec.ID, rec.Email, rec.Name, rec.Image, rec.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UserByEmail looks up an account by email
func (s *Store) UserByEmail(ctx context.Context, email string) (*UserRecord, error) {
	return s.queryUser(ctx, "SELECT id, email, name, image, password_hash, created_at FROM users WHERE email = ?", email)
}

// LookupUser resolves an email to the account's public profile. It satisfies
// board.Directory.
func (s *Store) LookupUser(ctx context.Context, email string) (board.User, error) {
	rec, err := s.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return board.User{}, err
	}
	return rec.User, nil
}

// UserByID looks up an account by id
func (s *Store) UserByID(ctx context.Context, id string) (*UserRecord, error) {
	return s.queryUser(ctx, "SELECT id, email, name, image, password_hash, created_at FROM users WHERE id = ?", id)
}

func (s *Store) queryUser(ctx context.Context, query string, arg string) (*UserRecord, error) {
	var rec UserRecord
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&rec.ID, &rec.Email, &rec.Name, &rec.Image, &rec.PasswordHash, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", arg, board.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &rec, nil
}
