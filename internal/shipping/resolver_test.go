package shipping

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/money"
)

func testConfig() Config {
	threshold := money.Money(1_000_000)
	return Config{
		DefaultFee: 3_000,
		Regions: []Region{
			{Code: "Lagos", Fee: 2_000, Enabled: true},
			{Code: "Abuja", Fee: 2_500, Enabled: true},
			{Code: "Kano", Fee: 4_000, Enabled: false},
		},
		FreeThreshold: &threshold,
		TaxRate:       decimal.RequireFromString("7.5"),
	}
}

func TestResolveFreeAboveThreshold(t *testing.T) {
	q := Resolve("Lagos", 2_000_000, testConfig())
	if q.Fee != 0 || !q.IsFree {
		t.Fatalf("expected free shipping, got %+v", q)
	}
	if !q.RegionRecognized {
		t.Fatalf("expected lagos to be recognised")
	}

	q = Resolve("Atlantis", 1_000_000, testConfig())
	if q.Fee != 0 || !q.IsFree || q.RegionRecognized {
		t.Fatalf("threshold applies at equality regardless of region, got %+v", q)
	}
}

func TestResolveRegionFee(t *testing.T) {
	q := Resolve("  lagos state ", 10_000, testConfig())
	if q.Fee != 2_000 || q.IsFree || !q.RegionRecognized {
		t.Fatalf("unexpected quote %+v", q)
	}
	if q.Region != "lagos" {
		t.Fatalf("expected normalised region, got %q", q.Region)
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	cases := map[string]string{
		"unknown":  "Atlantis",
		"empty":    "",
		"disabled": "Kano",
	}
	for name, region := range cases {
		t.Run(name, func(t *testing.T) {
			q := Resolve(region, 10_000, testConfig())
			if q.Fee != 3_000 {
				t.Fatalf("expected default fee, got %d", q.Fee)
			}
			if q.RegionRecognized || q.IsFree {
				t.Fatalf("unexpected flags %+v", q)
			}
		})
	}
}

func TestResolveWithoutThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.FreeThreshold = nil
	q := Resolve("Abuja", 50_000_000, cfg)
	if q.Fee != 2_500 || q.IsFree {
		t.Fatalf("expected regional fee without threshold, got %+v", q)
	}
}

func TestNormalizeRegion(t *testing.T) {
	cases := map[string]string{
		"Lagos":                     "lagos",
		"LAGOS STATE":               "lagos",
		"lasgidi":                   "lagos",
		"FCT":                       "abuja",
		"Federal Capital Territory": "abuja",
		"  Akwa-Ibom ":              "akwa ibom",
		"Ọ̀yọ́":                      "oyo",
		"Port Harcourt":             "rivers",
		"state":                     "state",
		"":                          "",
	}
	for in, want := range cases {
		if got := NormalizeRegion(in); got != want {
			t.Fatalf("NormalizeRegion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	dup := testConfig()
	dup.Regions = append(dup.Regions, Region{Code: "LAGOS state", Fee: 1, Enabled: true})
	if err := dup.Validate(); err == nil {
		t.Fatalf("expected duplicate region error")
	}

	neg := testConfig()
	neg.DefaultFee = -1
	if err := neg.Validate(); err == nil {
		t.Fatalf("expected negative fee error")
	}

	rate := testConfig()
	rate.TaxRate = decimal.NewFromInt(101)
	if err := rate.Validate(); err == nil {
		t.Fatalf("expected tax rate error")
	}

	precise := testConfig()
	precise.TaxRate = decimal.RequireFromString("7.125")
	if err := precise.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected precision error, got %v", err)
	}
	precise.TaxRate = decimal.RequireFromString("7.500")
	if err := precise.Validate(); err != nil {
		t.Fatalf("trailing zeros are exact: %v", err)
	}
}
