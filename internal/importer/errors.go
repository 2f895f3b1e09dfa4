package importer

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateRun is returned when the input's content hash was already imported.
	ErrDuplicateRun = errors.New("importer: file already imported")
	// ErrMissingColumn is returned when the header lacks a required column.
	ErrMissingColumn = errors.New("importer: missing required column")
	// ErrStoreUnavailable indicates the pipeline has no store configured.
	ErrStoreUnavailable = errors.New("importer: store unavailable")
)

// RowValidationError describes a row excluded from the import.
type RowValidationError struct {
	Line   int
	Field  string
	Reason string
	Err    error
}

func (e *RowValidationError) Error() string {
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Field, e.Reason)
}

func (e *RowValidationError) Unwrap() error { return e.Err }

// ChunkCommitError reports a chunk whose rows were all rolled back.
type ChunkCommitError struct {
	Chunk int
	Rows  int
	Err   error
}

func (e *ChunkCommitError) Error() string {
	return fmt.Sprintf("chunk %d (%d rows): %v", e.Chunk, e.Rows, e.Err)
}

func (e *ChunkCommitError) Unwrap() error { return e.Err }
