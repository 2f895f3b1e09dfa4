package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/drone-tax/internal/config"
	"github.com/noah-isme/drone-tax/internal/importer"
	"github.com/noah-isme/drone-tax/internal/jurisdiction"
	"github.com/noah-isme/drone-tax/internal/store/postgres"
	"github.com/noah-isme/drone-tax/internal/tax"
)

func runQuote(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string) int {
	fs := flag.NewFlagSet("quote", flag.ContinueOnError)
	lat := fs.String("lat", "", "latitude")
	lon := fs.String("lon", "", "longitude")
	subtotal := fs.String("subtotal", "", "order subtotal, e.g. 100.00")
	at := fs.String("at", "", "order timestamp or date; defaults to now")
	geoFile := fs.String("geo", "", "resolve against a jurisdictions JSON file instead of the database")
	save := fs.Bool("save", false, "store the quote as a manual order")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *save && *geoFile != "" {
		fmt.Fprintln(os.Stderr, "-save cannot be combined with -geo")
		return 2
	}

	validator := importer.Validator{Region: cfg.Import.ServiceRegion, Location: cfg.Import.TimeZone}
	row, err := validator.Validate(importer.RawRow{Lat: *lat, Lon: *lon, Subtotal: *subtotal, Timestamp: *at})
	if err != nil {
		logger.Error().Err(err).Msg("invalid quote")
		return 2
	}
	if row.Defaulted && *at != "" {
		logger.Warn().Str("at", *at).Msg("unparseable timestamp; using now")
	}
	placedAt := row.PlacedAt.In(cfg.Import.TimeZone)

	var (
		geometry jurisdiction.GeometryStore
		store    *postgres.Store
	)
	if *geoFile != "" {
		areas, err := loadAreas(*geoFile)
		if err != nil {
			logger.Error().Err(err).Msg("load jurisdictions")
			return 1
		}
		geometry = jurisdiction.NewMemoryStore(areas...)
	} else {
		if err := cfg.RequireDatabase(); err != nil {
			logger.Error().Err(err).Msg("quote")
			return 1
		}
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := postgres.Connect(connectCtx, cfg.DatabaseURL, 2, "taxctl")
		cancel()
		if err != nil {
			logger.Error().Err(err).Msg("connect database")
			return 1
		}
		defer pool.Close()
		store = postgres.NewStore(pool)
		geometry = store.Geometry()
	}

	svc := tax.Service{Resolver: jurisdiction.NewResolver(geometry)}
	result, err := svc.Quote(ctx, tax.Query{Point: row.Point, Subtotal: row.Subtotal, AsOf: placedAt})
	if err != nil {
		logger.Error().Err(err).Msg("quote")
		return 1
	}
	if *save {
		if err := store.SaveQuote(ctx, row.Point, placedAt, result); err != nil {
			logger.Error().Err(err).Msg("save quote")
			return 1
		}
	}
	if err := printJSON(os.Stdout, result); err != nil {
		logger.Error().Err(err).Msg("write quote")
		return 1
	}
	return 0
}

func loadAreas(path string) ([]jurisdiction.Area, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	areas, err := jurisdiction.LoadAreas(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(areas) == 0 {
		return nil, errors.New("no jurisdictions defined")
	}
	return areas, nil
}
