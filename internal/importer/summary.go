package importer

import (
	"time"

	"github.com/google/uuid"
)

// Stage names a pipeline state.
type Stage int

const (
	StageReading Stage = iota
	StageValidating
	StageChunking
	StageDeduplicating
	StageResolving
	StageComposing
	StageCommitting
	StageFinalizing
)

var stageNames = [...]string{
	"reading",
	"validating",
	"chunking",
	"deduplicating",
	"resolving",
	"composing",
	"committing",
	"finalizing",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// Summary is the outcome of one run.
type Summary struct {
	RunID    uuid.UUID
	FileHash string
	FileName string
	FileSize int64

	Rows                int
	Imported            int
	Invalid             int
	ChunkFailed         int
	TimestampsDefaulted int
	Chunks              int
	FailedChunks        int
	UniqueLocations     int
	Duration            time.Duration

	// RowErrors holds the first few validation failures only.
	RowErrors   []*RowValidationError
	ChunkErrors []*ChunkCommitError
}

// Failed counts rows that did not become orders.
func (s Summary) Failed() int { return s.Invalid + s.ChunkFailed }
