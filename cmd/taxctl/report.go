package main

import (
	"encoding/json"
	"io"

	"github.com/google/uuid"

	"github.com/noah-isme/drone-tax/internal/importer"
)

type report struct {
	RunID               string   `json:"run_id,omitempty"`
	File                string   `json:"file"`
	FileHash            string   `json:"file_hash"`
	Rows                int      `json:"rows"`
	Imported            int      `json:"imported"`
	Failed              int      `json:"failed"`
	TimestampsDefaulted int      `json:"timestamps_defaulted"`
	Chunks              int      `json:"chunks"`
	FailedChunks        int      `json:"failed_chunks"`
	UniqueLocations     int      `json:"unique_locations"`
	ElapsedMS           int64    `json:"elapsed_ms"`
	Errors              []string `json:"errors,omitempty"`
}

func newReport(s importer.Summary) report {
	r := report{
		File:                s.FileName,
		FileHash:            s.FileHash,
		Rows:                s.Rows,
		Imported:            s.Imported,
		Failed:              s.Failed(),
		TimestampsDefaulted: s.TimestampsDefaulted,
		Chunks:              s.Chunks,
		FailedChunks:        s.FailedChunks,
		UniqueLocations:     s.UniqueLocations,
		ElapsedMS:           s.Duration.Milliseconds(),
	}
	if s.RunID != uuid.Nil {
		r.RunID = s.RunID.String()
	}
	for _, e := range s.RowErrors {
		r.Errors = append(r.Errors, e.Error())
	}
	for _, e := range s.ChunkErrors {
		r.Errors = append(r.Errors, e.Error())
	}
	return r
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
