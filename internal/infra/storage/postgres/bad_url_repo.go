package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// BadURL is one ledger row.
type BadURL struct {
	URL       string    `db:"url"        json:"url"`
	Marks     int       `db:"marks"      json:"marks"`
	FirstSeen time.Time `db:"first_seen" json:"first_seen"`
	LastSeen  time.Time `db:"last_seen"  json:"last_seen"`
}

// BadURLRepo is a ledger stored in the bad_urls table, partitioned by
// namespace.
type BadURLRepo struct {
	db        *DB
	namespace string
}

// NewBadURLRepo creates a PostgreSQL-backed bad URL ledger.
func NewBadURLRepo(db *DB, namespace string) *BadURLRepo {
	return &BadURLRepo{db: db, namespace: namespace}
}

// Add marks url bad, counting repeated marks.
func (r *BadURLRepo) Add(ctx context.Context, url string) error {
	query := `
		INSERT INTO bad_urls (namespace, url)
		VALUES ($1, $2)
		ON CONFLICT (namespace, url)
		DO UPDATE SET marks = bad_urls.marks + 1, last_seen = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, r.namespace, url); err != nil {
		return fmt.Errorf("failed to add bad url: %w", err)
	}
	return nil
}

func (r *BadURLRepo) Remove(ctx context.Context, url string) error {
	query := `DELETE FROM bad_urls WHERE namespace = $1 AND url = $2`
	if _, err := r.db.ExecContext(ctx, query, r.namespace, url); err != nil {
		return fmt.Errorf("failed to remove bad url: %w", err)
	}
	return nil
}

// RemoveMany deletes urls in one statement and returns the count removed.
func (r *BadURLRepo) RemoveMany(ctx context.Context, urls []string) (int64, error) {
	query := `DELETE FROM bad_urls WHERE namespace = $1 AND url = ANY($2)`
	res, err := r.db.ExecContext(ctx, query, r.namespace, pq.Array(urls))
	if err != nil {
		return 0, fmt.Errorf("failed to remove bad urls: %w", err)
	}
	return res.RowsAffected()
}

func (r *BadURLRepo) Contains(ctx context.Context, url string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM bad_urls WHERE namespace = $1 AND url = $2)`
	if err := r.db.GetContext(ctx, &exists, query, r.namespace, url); err != nil {
		return false, fmt.Errorf("failed to check bad url: %w", err)
	}
	return exists, nil
}

// List returns every URL, oldest first.
func (r *BadURLRepo) List(ctx context.Context) ([]string, error) {
	var urls []string
	query := `SELECT url FROM bad_urls WHERE namespace = $1 ORDER BY first_seen, url`
	if err := r.db.SelectContext(ctx, &urls, query, r.namespace); err != nil {
		return nil, fmt.Errorf("failed to list bad urls: %w", err)
	}
	return urls, nil
}

// Entries returns the full rows, oldest first.
func (r *BadURLRepo) Entries(ctx context.Context) ([]BadURL, error) {
	var rows []BadURL
	query := `
		SELECT url, marks, first_seen, last_seen
		FROM bad_urls
		WHERE namespace = $1
		ORDER BY first_seen, url
	`
	if err := r.db.SelectContext(ctx, &rows, query, r.namespace); err != nil {
		return nil, fmt.Errorf("failed to list bad url entries: %w", err)
	}
	return rows, nil
}

func (r *BadURLRepo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM bad_urls WHERE namespace = $1`, r.namespace); err != nil {
		return fmt.Errorf("failed to clear bad urls: %w", err)
	}
	return nil
}
