package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/drone-tax/internal/geo"
	"github.com/noah-isme/drone-tax/internal/jurisdiction"
	"github.com/noah-isme/drone-tax/internal/lock"
	"github.com/noah-isme/drone-tax/internal/obs"
	"github.com/noah-isme/drone-tax/internal/tax"
	"github.com/noah-isme/drone-tax/internal/taxcache"
)

const (
	defaultChunkSize   = 500
	defaultWorkers     = 4
	defaultLockTTL     = 10 * time.Minute
	defaultMaxReported = 10
)

// Options tunes a Pipeline.
type Options struct {
	ChunkSize         int
	Workers           int
	// MaxReportedErrors caps Summary.RowErrors. Zero uses the default; a
	// negative value reports none and only counts.
	MaxReportedErrors int
	Region            geo.Envelope
	// Location is used for zone-less timestamps and for the cache key's calendar day.
	Location *time.Location
	// Locker, when set, holds a per-hash lock for the duration of a run.
	Locker  Locker
	LockTTL time.Duration
	Now     func() time.Time
}

// Pipeline imports order files.
type Pipeline struct {
	store  Store
	opts   Options
	log    zerolog.Logger
	tracer trace.Tracer
}

// New constructs a Pipeline, applying defaults for unset options.
func New(store Store, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	switch {
	case opts.MaxReportedErrors == 0:
		opts.MaxReportedErrors = defaultMaxReported
	case opts.MaxReportedErrors < 0:
		opts.MaxReportedErrors = 0
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		store:  store,
		opts:   opts,
		log:    logger.With().Str("component", "importer").Logger(),
		tracer: otel.Tracer("drone-tax/importer"),
	}
}

// Run imports src. The input is read twice: once to hash it and once to stream rows.
// A returned Summary is always populated as far as the run progressed.
func (p *Pipeline) Run(ctx context.Context, name string, src io.ReadSeeker) (Summary, error) {
	if p == nil || p.store == nil {
		return Summary{}, ErrStoreUnavailable
	}
	started := time.Now()
	ctx, span := p.tracer.Start(ctx, "import.run", trace.WithAttributes(attribute.String("import.file", name)))
	defer span.End()

	p.log.Debug().Str("file", name).Stringer("stage", StageReading).Msg("import stage")
	hash, size, err := HashContent(src)
	if err != nil {
		return Summary{FileName: name}, err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return Summary{FileName: name, FileHash: hash}, fmt.Errorf("rewind input: %w", err)
	}
	span.SetAttributes(attribute.String("import.hash", hash))

	run := Run{
		ID:        uuid.New(),
		FileHash:  hash,
		FileName:  name,
		FileSize:  size,
		StartedAt: p.opts.Now(),
	}
	var summary Summary
	exec := func(ctx context.Context) error {
		var err error
		summary, err = p.execute(ctx, run, src, started)
		return err
	}
	if p.opts.Locker != nil {
		err = p.opts.Locker.WithLock(ctx, lock.ImportKey(hash), p.opts.LockTTL, exec)
	} else {
		err = exec(ctx)
	}
	if summary.FileHash == "" {
		summary = Summary{FileHash: hash, FileName: name, FileSize: size}
	}

	switch {
	case errors.Is(err, ErrDuplicateRun):
		obs.IncImportRun("duplicate")
		p.log.Warn().Str("file", name).Str("hash", hash).Msg("duplicate import rejected")
	case err != nil:
		obs.IncImportRun("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		obs.IncImportRun("completed")
	}
	return summary, err
}

func (p *Pipeline) execute(ctx context.Context, run Run, src io.Reader, started time.Time) (Summary, error) {
	base := Summary{FileHash: run.FileHash, FileName: run.FileName, FileSize: run.FileSize}

	exists, err := p.store.HashExists(ctx, run.FileHash)
	if err != nil {
		return base, fmt.Errorf("check duplicate: %w", err)
	}
	if exists {
		return base, fmt.Errorf("%w: %s", ErrDuplicateRun, run.FileHash)
	}
	rd, err := NewReader(src)
	if err != nil {
		return base, err
	}
	if err := p.store.Start(ctx, run); err != nil {
		return base, err
	}
	// RunID is set only once a run-log row exists.
	base.RunID = run.ID

	rc := &runContext{
		run:     run,
		store:   p.store,
		cache:   taxcache.New(),
		opts:    p.opts,
		log:     p.log.With().Str("run_id", run.ID.String()).Logger(),
		tracer:  p.tracer,
		summary: base,
	}
	rc.stage(StageValidating)
	readErr := rc.stream(ctx, rd)
	rc.stage(StageFinalizing)

	summary := rc.finish(started)
	if err := p.store.Finish(context.WithoutCancel(ctx), run.ID, summary); err != nil {
		rc.log.Error().Err(err).Msg("record import summary")
		if readErr == nil {
			readErr = fmt.Errorf("finish run: %w", err)
		}
	}
	rc.log.Info().
		Int("rows", summary.Rows).
		Int("imported", summary.Imported).
		Int("failed", summary.Failed()).
		Int("failed_chunks", summary.FailedChunks).
		Int("unique_locations", summary.UniqueLocations).
		Int64("duration_ms", summary.Duration.Milliseconds()).
		Msg("import finished")
	return summary, readErr
}

// runContext is the state shared by every stage of one run. The cache is the
// only part mutated by concurrent chunk workers without holding mu.
type runContext struct {
	run    Run
	store  Store
	cache  *taxcache.Cache
	opts   Options
	log    zerolog.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	summary Summary
}

func (rc *runContext) stage(s Stage) {
	rc.log.Debug().Stringer("stage", s).Msg("import stage")
}

// stream validates rows and hands full chunks to a bounded pool of workers.
// Reading blocks while every worker is busy, which bounds memory to
// Workers+1 chunks.
func (rc *runContext) stream(ctx context.Context, rd *Reader) error {
	validator := Validator{Region: rc.opts.Region, Location: rc.opts.Location, Now: rc.opts.Now}
	sem := make(chan struct{}, rc.opts.Workers)
	var wg sync.WaitGroup

	chunk := make([]Row, 0, rc.opts.ChunkSize)
	next := 0
	flush := func() {
		if len(chunk) == 0 {
			return
		}
		if next == 0 {
			rc.stage(StageChunking)
		}
		rows, index := chunk, next
		chunk = make([]Row, 0, rc.opts.ChunkSize)
		next++

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() { <-sem }()
			defer wg.Done()
			rc.processChunk(ctx, index, rows)
		}()
	}

	var readErr error
	for {
		raw, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				rc.invalid(&RowValidationError{Line: perr.Line, Field: "row", Reason: perr.Err.Error(), Err: err})
				continue
			}
			readErr = fmt.Errorf("read input: %w", err)
			break
		}
		row, err := validator.Validate(raw)
		if err != nil {
			var verr *RowValidationError
			if !errors.As(err, &verr) {
				verr = &RowValidationError{Line: raw.Line, Field: "row", Reason: err.Error(), Err: err}
			}
			rc.invalid(verr)
			continue
		}
		rc.valid(row)
		chunk = append(chunk, row)
		if len(chunk) == rc.opts.ChunkSize {
			flush()
		}
	}
	flush()
	wg.Wait()
	return readErr
}

func (rc *runContext) invalid(err *RowValidationError) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.summary.Rows++
	rc.summary.Invalid++
	if len(rc.summary.RowErrors) < rc.opts.MaxReportedErrors {
		rc.summary.RowErrors = append(rc.summary.RowErrors, err)
		rc.log.Warn().Int("line", err.Line).Str("field", err.Field).Str("reason", err.Reason).Msg("row rejected")
	}
}

func (rc *runContext) valid(row Row) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.summary.Rows++
	if row.Defaulted {
		rc.summary.TimestampsDefaulted++
	}
}

func (rc *runContext) processChunk(ctx context.Context, index int, rows []Row) {
	start := time.Now()
	ctx, span := rc.tracer.Start(ctx, "import.chunk", trace.WithAttributes(
		attribute.Int("import.chunk", index),
		attribute.Int("import.rows", len(rows)),
	))
	defer span.End()

	err := rc.commitChunk(ctx, index, rows)
	elapsed := time.Since(start)

	rc.mu.Lock()
	rc.summary.Chunks++
	if err != nil {
		cerr := &ChunkCommitError{Chunk: index, Rows: len(rows), Err: err}
		rc.summary.FailedChunks++
		rc.summary.ChunkFailed += len(rows)
		rc.summary.ChunkErrors = append(rc.summary.ChunkErrors, cerr)
	} else {
		rc.summary.Imported += len(rows)
	}
	rc.mu.Unlock()

	result, rowResult := "committed", "imported"
	var entry *zerolog.Event
	if err != nil {
		result, rowResult = "failed", "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		entry = rc.log.Error().Err(err)
	} else {
		entry = rc.log.Info()
	}
	obs.ObserveChunk(result, elapsed)
	obs.AddImportRows(rowResult, len(rows))
	entry.Int("chunk", index).Int("rows", len(rows)).Int64("duration_ms", elapsed.Milliseconds()).Msg("chunk " + result)
}

// commitChunk resolves, composes and inserts rows in one transaction.
func (rc *runContext) commitChunk(ctx context.Context, index int, rows []Row) error {
	rc.log.Debug().Int("chunk", index).Stringer("stage", StageDeduplicating).Msg("import stage")
	keys := make([]taxcache.Key, len(rows))
	for i, row := range rows {
		keys[i] = taxcache.KeyFor(row.Point, row.PlacedAt, rc.opts.Location)
	}

	return rc.store.InTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		resolver := jurisdiction.NewResolver(uow.Geometry())
		entries, err := rc.cache.Lookup(ctx, keys, func(ctx context.Context, missing []taxcache.Key) ([]tax.Composite, error) {
			rc.log.Debug().Int("chunk", index).Int("keys", len(missing)).Stringer("stage", StageResolving).Msg("import stage")
			points := make([]geo.Point, len(missing))
			dates := make([]time.Time, len(missing))
			for i, k := range missing {
				day, err := k.Day()
				if err != nil {
					return nil, err
				}
				points[i], dates[i] = k.Point(), day
			}
			matches, err := resolver.ResolveBatch(ctx, points, dates)
			if err != nil {
				return nil, fmt.Errorf("resolve batch: %w", err)
			}
			composites := make([]tax.Composite, len(matches))
			for i, m := range matches {
				composites[i] = tax.Compose(m)
			}
			return composites, nil
		})
		if err != nil {
			return err
		}

		rc.log.Debug().Int("chunk", index).Stringer("stage", StageComposing).Msg("import stage")
		runID := rc.run.ID
		records := make([]OrderRecord, len(rows))
		for i, row := range rows {
			res := tax.Apply(entries[i].Composite, row.Subtotal)
			records[i] = OrderRecord{
				ImportRunID:   &runID,
				Point:         row.Point,
				Subtotal:      res.Subtotal,
				CompositeRate: res.Rate,
				TaxAmount:     res.TaxAmount,
				TotalAmount:   res.TotalAmount,
				Breakdown:     entries[i].BreakdownJSON,
				Jurisdictions: entries[i].JurisdictionsJSON,
				PlacedAt:      row.PlacedAt,
			}
		}
		rc.log.Debug().Int("chunk", index).Stringer("stage", StageCommitting).Msg("import stage")
		return uow.InsertOrders(ctx, records)
	})
}

func (rc *runContext) finish(started time.Time) Summary {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	obs.AddImportRows("invalid", rc.summary.Invalid)
	rc.summary.UniqueLocations = rc.cache.Len()
	rc.summary.Duration = time.Since(started)
	return rc.summary
}
