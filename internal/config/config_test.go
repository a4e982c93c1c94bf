package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `
matrix:
  homeserver_url: "https://matrix.example.org"
  user_id: "@pastel:example.org"
  access_token: "secret"
  room_id: "!deals:example.org"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.App.Name != "pastel" {
		t.Errorf("app.name = %q, want pastel", cfg.App.Name)
	}
	if cfg.Database.Path != "deals.db" {
		t.Errorf("database.path = %q, want deals.db", cfg.Database.Path)
	}
	if cfg.Filters.MinDiscountPercent != 50 {
		t.Errorf("filters.min_discount_percent = %d, want 50", cfg.Filters.MinDiscountPercent)
	}
	if cfg.Filters.MaxPrice != 20.0 {
		t.Errorf("filters.max_price = %v, want 20", cfg.Filters.MaxPrice)
	}
	if cfg.Rates.StaleAfter != 12*time.Hour {
		t.Errorf("rates.stale_after = %v, want 12h", cfg.Rates.StaleAfter)
	}
	if cfg.Sources.CheapShark.Interval != 2*time.Hour {
		t.Errorf("cheapshark.interval = %v, want 2h", cfg.Sources.CheapShark.Interval)
	}
	if cfg.Sources.Epic.Interval != 24*time.Hour {
		t.Errorf("epic.interval = %v, want 24h", cfg.Sources.Epic.Interval)
	}
	if cfg.Pruning.OlderThan != 720*time.Hour {
		t.Errorf("pruning.older_than = %v, want 720h", cfg.Pruning.OlderThan)
	}
	if cfg.Matrix.UseThreads {
		t.Error("matrix.use_threads should default to false")
	}
	if cfg.Matrix.SendsPerSecond != 0.5 {
		t.Errorf("matrix.sends_per_second = %v, want 0.5", cfg.Matrix.SendsPerSecond)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
filters:
  min_discount_percent: 70
  max_price: 15
sources:
  itad:
    api_key: "itad-key"
    countries: ["US", "CA"]
    min_discount: 80
pruning:
  older_than: 240h
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Filters.MinDiscountPercent != 70 {
		t.Errorf("filters.min_discount_percent = %d, want 70", cfg.Filters.MinDiscountPercent)
	}
	if got := cfg.Sources.ITAD.Countries; len(got) != 2 || got[0] != "US" || got[1] != "CA" {
		t.Errorf("itad.countries = %v, want [US CA]", got)
	}
	if cfg.Pruning.OlderThan != 240*time.Hour {
		t.Errorf("pruning.older_than = %v, want 240h", cfg.Pruning.OlderThan)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		wantErr string
	}{
		{
			name: "missing access token",
			config: `
matrix:
  homeserver_url: "https://matrix.example.org"
  user_id: "@pastel:example.org"
  room_id: "!deals:example.org"
`,
			wantErr: "matrix.access_token",
		},
		{
			name:    "missing room",
			config:  strings.Replace(minimalConfig, "room_id", "other_id", 1),
			wantErr: "matrix.room_id",
		},
		{
			name: "discount out of range",
			config: minimalConfig + `
filters:
  min_discount_percent: 150
`,
			wantErr: "min_discount_percent",
		},
		{
			name: "itad without countries",
			config: minimalConfig + `
sources:
  itad:
    countries: []
`,
			wantErr: "itad.countries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.config))
			if err == nil {
				t.Fatal("Load() succeeded, want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestThresholdFallbacks(t *testing.T) {
	cfg := &Config{
		Filters: FilterConfig{MinDiscountPercent: 50, MaxPrice: 20},
	}

	if got := cfg.CheapSharkMinDiscount(); got != 50 {
		t.Errorf("CheapSharkMinDiscount() = %d, want shared fallback 50", got)
	}
	if got := cfg.ITADMaxPrice(); got != 20 {
		t.Errorf("ITADMaxPrice() = %v, want shared fallback 20", got)
	}

	cfg.Sources.CheapShark.MinDiscount = 75
	cfg.Sources.ITAD.MaxPrice = 10
	if got := cfg.CheapSharkMinDiscount(); got != 75 {
		t.Errorf("CheapSharkMinDiscount() = %d, want per-source 75", got)
	}
	if got := cfg.ITADMaxPrice(); got != 10 {
		t.Errorf("ITADMaxPrice() = %v, want per-source 10", got)
	}
}
