package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/cache"
	dbgen "github.com/noah-isme/toko-checkout/internal/db/gen"
)

type stubQueries struct {
	row   *dbgen.ShippingConfig
	reads int
}

func (s *stubQueries) GetShippingConfig(context.Context) (dbgen.ShippingConfig, error) {
	s.reads++
	if s.row == nil {
		return dbgen.ShippingConfig{}, pgx.ErrNoRows
	}
	return *s.row, nil
}

func (s *stubQueries) UpsertShippingConfig(_ context.Context, arg dbgen.UpsertShippingConfigParams) (dbgen.ShippingConfig, error) {
	row := dbgen.ShippingConfig{
		DefaultFee:    arg.DefaultFee,
		FreeThreshold: arg.FreeThreshold,
		TaxRate:       arg.TaxRate,
		Regions:       arg.Regions,
		UpdatedAt:     pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}
	s.row = &row
	return row, nil
}

func newStore(t *testing.T, q *stubQueries) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &Store{Q: q, Cache: cache.NewJSON(client, time.Minute)}, mr
}

func TestStoreReadThroughAndInvalidate(t *testing.T) {
	q := &stubQueries{}
	store, mr := newStore(t, q)
	ctx := context.Background()

	cfg, err := store.Get(ctx)
	require.NoError(t, err)
	require.Empty(t, cfg.Regions)

	saved, err := store.Save(ctx, testConfig())
	require.NoError(t, err)
	require.Equal(t, "lagos", saved.Regions[0].Code)
	require.Equal(t, "7.5", saved.TaxRate.String())
	require.False(t, mr.Exists(cache.KeyShippingConfig))

	reads := q.reads
	first, err := store.Get(ctx)
	require.NoError(t, err)
	require.True(t, mr.Exists(cache.KeyShippingConfig))
	second, err := store.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, reads+1, q.reads, "second read should be served from cache")
	require.Equal(t, first.DefaultFee, second.DefaultFee)
	require.NotNil(t, second.FreeThreshold)
	require.EqualValues(t, 1_000_000, *second.FreeThreshold)
	require.True(t, first.TaxRate.Equal(second.TaxRate))

	_, err = store.Save(ctx, testConfig())
	require.NoError(t, err)
	require.False(t, mr.Exists(cache.KeyShippingConfig))
}

func TestStoreRejectsInvalidConfig(t *testing.T) {
	q := &stubQueries{}
	store, _ := newStore(t, q)
	cfg := testConfig()
	cfg.Regions = append(cfg.Regions, Region{Code: "lagos", Fee: 100, Enabled: true})
	_, err := store.Save(context.Background(), cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.Nil(t, q.row)
}

func TestHandlerPut(t *testing.T) {
	q := &stubQueries{}
	store, _ := newStore(t, q)
	h := &Handler{Store: store}

	body, _ := json.Marshal(map[string]any{
		"defaultFee":            3000,
		"freeShippingThreshold": 1000000,
		"taxRate":               "7.5",
		"regions":               []map[string]any{{"region": "FCT", "fee": 2500}},
	})
	rec := httptest.NewRecorder()
	h.Put(rec, httptest.NewRequest(http.MethodPut, "/admin/shipping-config", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data Config `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Regions, 1)
	require.Equal(t, "abuja", resp.Data.Regions[0].Code)
	require.True(t, resp.Data.Regions[0].Enabled)

	bad, _ := json.Marshal(map[string]any{"defaultFee": 10, "taxRate": "150"})
	rec = httptest.NewRecorder()
	h.Put(rec, httptest.NewRequest(http.MethodPut, "/admin/shipping-config", bytes.NewReader(bad)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
