package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/noah-isme/drone-tax/internal/importer"
)

// HashExists reports whether a run with fileHash was already logged.
func (s *Store) HashExists(ctx context.Context, fileHash string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrStoreUnavailable
	}
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM import_logs WHERE file_hash = $1)`, fileHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup run hash: %w", err)
	}
	return exists, nil
}

// Start logs a run. The unique index on file_hash turns a concurrent
// duplicate into importer.ErrDuplicateRun.
func (s *Store) Start(ctx context.Context, run importer.Run) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	_, err := s.db.Exec(ctx, `INSERT INTO import_logs (id, file_hash, file_name, file_size, status, started_at)
VALUES ($1, $2, $3, $4, 'running', $5)`, run.ID.String(), run.FileHash, run.FileName, run.FileSize, run.StartedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", importer.ErrDuplicateRun, run.FileHash)
	}
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// Finish records the final counts once.
func (s *Store) Finish(ctx context.Context, runID uuid.UUID, summary importer.Summary) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.db.Exec(ctx, `UPDATE import_logs
SET status = 'finished', rows_total = $2, rows_imported = $3, rows_failed = $4,
    timestamps_defaulted = $5, failed_chunks = $6, elapsed_ms = $7, finished_at = now()
WHERE id = $1 AND finished_at IS NULL`,
		runID.String(), summary.Rows, summary.Imported, summary.Failed(),
		summary.TimestampsDefaulted, summary.FailedChunks, summary.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("finish run %s: no open log row", runID)
	}
	return nil
}
