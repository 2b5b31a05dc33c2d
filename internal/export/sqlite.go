package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jullanggit/keylogger/internal/ngram"
)

// ErrCountRange is returned when a count does not fit SQLite's signed
// 64-bit integers.
var ErrCountRange = errors.New("export: count exceeds SQLite integer range")

const schema = `
CREATE TABLE IF NOT EXISTS grams (
    n       INTEGER NOT NULL CHECK (n BETWEEN 1 AND 3),
    gram    TEXT NOT NULL,
    count   INTEGER NOT NULL CHECK (count >= 0),
    PRIMARY KEY (n, gram)
);

CREATE INDEX IF NOT EXISTS idx_grams_rank ON grams(n, count DESC);

CREATE TABLE IF NOT EXISTS export_info (
    key     TEXT PRIMARY KEY,
    value   TEXT NOT NULL
);
`

func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

// WriteSQLite stores snap in the database at path, replacing any grams
// from an earlier export. The write is a single transaction.
func WriteSQLite(ctx context.Context, path string, snap ngram.Snapshot, generated time.Time) error {
	for n := 1; n <= ngram.MaxOrder; n++ {
		for gram, count := range snap.Order(n) {
			if count > math.MaxInt64 {
				return fmt.Errorf("%w: %d-gram %q has count %d", ErrCountRange, n, gram, count)
			}
		}
	}

	db, err := openDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM grams`); err != nil {
		return fmt.Errorf("clear grams: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO grams (n, gram, count) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for n := 1; n <= ngram.MaxOrder; n++ {
		for gram, count := range snap.Order(n) {
			if _, err := stmt.ExecContext(ctx, n, gram, int64(count)); err != nil {
				return fmt.Errorf("insert %d-gram: %w", n, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO export_info (key, value) VALUES ('generated', ?)`,
		generated.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("record export time: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ReadSQLite loads the grams of a database written by WriteSQLite.
func ReadSQLite(ctx context.Context, path string) (ngram.Snapshot, error) {
	if _, err := os.Stat(path); err != nil {
		return ngram.Snapshot{}, fmt.Errorf("open database: %w", err)
	}

	db, err := openDB(path)
	if err != nil {
		return ngram.Snapshot{}, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT n, gram, count FROM grams`)
	if err != nil {
		return ngram.Snapshot{}, fmt.Errorf("query grams: %w", err)
	}
	defer rows.Close()

	var grams [ngram.MaxOrder]map[string]uint64
	for i := range grams {
		grams[i] = make(map[string]uint64)
	}
	for rows.Next() {
		var (
			n     int
			gram  string
			count int64
		)
		if err := rows.Scan(&n, &gram, &count); err != nil {
			return ngram.Snapshot{}, fmt.Errorf("scan gram: %w", err)
		}
		grams[n-1][gram] = uint64(count)
	}
	if err := rows.Err(); err != nil {
		return ngram.Snapshot{}, fmt.Errorf("iterate grams: %w", err)
	}

	return ngram.NewSnapshot(grams[0], grams[1], grams[2]), nil
}

// TopSQLite ranks grams of order n inside the database.
func TopSQLite(ctx context.Context, path string, n, limit int) ([]Entry, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx,
		`SELECT gram, count FROM grams WHERE n = ? ORDER BY count DESC, gram ASC LIMIT ?`, n, limit)
	if err != nil {
		return nil, fmt.Errorf("query top grams: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			gram  string
			count int64
		)
		if err := rows.Scan(&gram, &count); err != nil {
			return nil, fmt.Errorf("scan gram: %w", err)
		}
		out = append(out, Entry{Gram: gram, Count: uint64(count)})
	}
	return out, rows.Err()
}
