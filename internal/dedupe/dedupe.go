// Package dedupe keeps a postgres ledger of async resize submissions.
package dedupe

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Tracker tracks duplicate resize submissions
type Tracker struct {
	db *sql.DB
}

// NewTracker creates a new dedupe tracker and its table
func NewTracker(ctx context.Context, db *sql.DB) (*Tracker, error) {
	tracker := &Tracker{db: db}

	if err := tracker.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure dedupe table: %w", err)
	}

	return tracker, nil
}

func (t *Tracker) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS resize_dedupe (
			content_id TEXT NOT NULL,
			job TEXT NOT NULL,
			sizes TEXT NOT NULL,
			first_seen_at TIMESTAMPTZ DEFAULT NOW(),
			last_seen_at TIMESTAMPTZ DEFAULT NOW(),
			seen_count INTEGER DEFAULT 1,
			PRIMARY KEY (content_id, job, sizes)
		)
	`

	if _, err := t.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create resize_dedupe table: %w", err)
	}

	log.Info().Msg("resize_dedupe table ready")
	return nil
}

// SizesKey canonicalises a list of size specifications so the same set in
// any order and with repeats maps to one ledger row.
func SizesKey(sizes []string) string {
	uniq := make(map[string]struct{}, len(sizes))
	for _, s := range sizes {
		uniq[s] = struct{}{}
	}
	keys := make([]string, 0, len(uniq))
	for s := range uniq {
		keys = append(keys, s)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

// Record records a submission and returns how often it has been seen,
// including this one.
func (t *Tracker) Record(ctx context.Context, contentID, job string, sizes []string) (int, error) {
	query := `
		INSERT INTO resize_dedupe (content_id, job, sizes, first_seen_at, last_seen_at, seen_count)
		VALUES ($1, $2, $3, NOW(), NOW(), 1)
		ON CONFLICT (content_id, job, sizes) DO UPDATE
		SET last_seen_at = NOW(),
		    seen_count = resize_dedupe.seen_count + 1
		RETURNING seen_count
	`

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, contentID, job, SizesKey(sizes)).Scan(&seenCount)
	if err != nil {
		return 0, fmt.Errorf("failed to record dedupe: %w", err)
	}

	return seenCount, nil
}
