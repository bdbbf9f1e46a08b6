package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/cache"
	dbgen "github.com/noah-isme/toko-checkout/internal/db/gen"
	"github.com/noah-isme/toko-checkout/internal/money"
)

// Querier captures the database methods required by the shipping store.
type Querier interface {
	GetShippingConfig(ctx context.Context) (dbgen.ShippingConfig, error)
	UpsertShippingConfig(ctx context.Context, arg dbgen.UpsertShippingConfigParams) (dbgen.ShippingConfig, error)
}

// Store reads and writes the singleton shipping configuration.
type Store struct {
	Q     Querier
	Cache *cache.JSON
	Log   zerolog.Logger
}

// Get returns the current configuration. A missing row yields an empty, valid config.
func (s *Store) Get(ctx context.Context) (Config, error) {
	if s == nil || s.Q == nil {
		return Config{}, errors.New("shipping store not configured")
	}
	var cfg Config
	if ok, err := s.Cache.Get(ctx, cache.KeyShippingConfig, &cfg); err != nil {
		s.Log.Warn().Err(err).Msg("shipping config cache read failed")
	} else if ok {
		return cfg, nil
	}
	row, err := s.Q.GetShippingConfig(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{Regions: []Region{}}, nil
		}
		return Config{}, err
	}
	cfg, err = fromModel(row)
	if err != nil {
		return Config{}, err
	}
	if err := s.Cache.Set(ctx, cache.KeyShippingConfig, cfg); err != nil {
		s.Log.Warn().Err(err).Msg("shipping config cache write failed")
	}
	return cfg, nil
}

// Save validates and persists cfg, then drops the cached copy.
func (s *Store) Save(ctx context.Context, cfg Config) (Config, error) {
	if s == nil || s.Q == nil {
		return Config{}, errors.New("shipping store not configured")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg = cfg.Normalized()
	regions, err := json.Marshal(cfg.Regions)
	if err != nil {
		return Config{}, err
	}
	var threshold *int64
	if cfg.FreeThreshold != nil {
		v := cfg.FreeThreshold.Int64()
		threshold = &v
	}
	row, err := s.Q.UpsertShippingConfig(ctx, dbgen.UpsertShippingConfigParams{
		DefaultFee:    cfg.DefaultFee.Int64(),
		FreeThreshold: dbgen.Int8(threshold),
		TaxRate:       cfg.TaxRate.String(),
		Regions:       regions,
	})
	if err != nil {
		return Config{}, err
	}
	if err := s.Cache.Invalidate(ctx, cache.KeyShippingConfig); err != nil {
		return Config{}, fmt.Errorf("invalidate shipping cache: %w", err)
	}
	s.Log.Info().Int("regions", len(cfg.Regions)).Msg("shipping config updated")
	return fromModel(row)
}

func fromModel(row dbgen.ShippingConfig) (Config, error) {
	cfg := Config{DefaultFee: money.Money(row.DefaultFee), Regions: []Region{}}
	if row.FreeThreshold.Valid {
		v := money.Money(row.FreeThreshold.Int64)
		cfg.FreeThreshold = &v
	}
	if row.TaxRate != "" {
		rate, err := decimal.NewFromString(row.TaxRate)
		if err != nil {
			return Config{}, fmt.Errorf("shipping tax rate: %w", err)
		}
		cfg.TaxRate = rate
	}
	if len(row.Regions) > 0 {
		if err := json.Unmarshal(row.Regions, &cfg.Regions); err != nil {
			return Config{}, fmt.Errorf("shipping regions: %w", err)
		}
	}
	if row.UpdatedAt.Valid {
		cfg.UpdatedAt = row.UpdatedAt.Time.UTC().Truncate(time.Second)
	}
	return cfg, nil
}
