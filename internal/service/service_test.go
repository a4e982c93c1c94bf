package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pastel-deals/internal/models"
	"pastel-deals/internal/pipeline"
	"pastel-deals/internal/publisher"
	"pastel-deals/internal/rates"
	"pastel-deals/internal/storage"
)

type memStore struct {
	records map[string]models.DealRecord
	pruned  int64
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]models.DealRecord)}
}

func (m *memStore) key(source models.Source, gameID string, bucket time.Time) string {
	return fmt.Sprintf("%s|%s|%d", source, gameID, bucket.Unix())
}

func (m *memStore) InsertRecord(_ context.Context, rec models.DealRecord) error {
	k := m.key(rec.Source, rec.GameID, rec.Bucket)
	if _, ok := m.records[k]; ok {
		return storage.ErrDuplicateRecord
	}
	m.records[k] = rec
	return nil
}

func (m *memStore) ExistsRecord(_ context.Context, source models.Source, gameID string, bucket time.Time) (bool, error) {
	_, ok := m.records[m.key(source, gameID, bucket)]
	return ok, nil
}

func (m *memStore) PruneRecords(_ context.Context, _ time.Duration) (int64, error) {
	return m.pruned, nil
}

func (m *memStore) CountRecords(_ context.Context) (int64, error) {
	return int64(len(m.records)), nil
}

type memSender struct {
	bodies []string
	err    error
}

func (m *memSender) SendMessage(_ context.Context, _, body, _, _ string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.bodies = append(m.bodies, body)
	return fmt.Sprintf("$event%d", len(m.bodies)), nil
}

type memThreads struct{}

func (memThreads) ThreadRoot(context.Context, string) (string, error)  { return "", nil }
func (memThreads) SetThreadRoot(context.Context, string, string) error { return nil }

type memFetcher struct {
	source models.Source
	deals  []models.Deal
	err    error
}

func (m *memFetcher) Source() models.Source { return m.source }

func (m *memFetcher) Fetch(context.Context) ([]models.Deal, error) {
	return m.deals, m.err
}

type memProvider struct {
	table map[string]decimal.Decimal
	err   error
}

func (m *memProvider) GetRates(context.Context, string) (map[string]decimal.Decimal, error) {
	return m.table, m.err
}

func newTestService(t *testing.T, store *memStore, sender *memSender, provider *memProvider) *Service {
	t.Helper()

	pipe, err := pipeline.New(context.Background(), store, zerolog.Nop())
	if err != nil {
		t.Fatalf("pipeline.New() error = %v", err)
	}
	pub := publisher.New(sender, memThreads{}, publisher.Options{RoomID: "!deals"}, zerolog.Nop())
	cache := rates.NewCache(provider, nil, rates.CacheOptions{}, zerolog.Nop())

	return New(pipe, pub, cache, Options{
		BaseCurrency:      "USD",
		DisplayCurrencies: []string{"CAD", "EUR"},
		PruneInterval:     24 * time.Hour,
		PruneOlderThan:    720 * time.Hour,
	}, zerolog.Nop())
}

func seededStore(t *testing.T) *memStore {
	t.Helper()
	store := newMemStore()
	old := models.Deal{
		Source:     models.SourceCheapShark,
		GameID:     "seed",
		Title:      "Seed",
		ObservedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := store.InsertRecord(context.Background(), old.Record(2*time.Hour)); err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	return store
}

func saleDeal() models.Deal {
	return models.Deal{
		Source:          models.SourceCheapShark,
		GameID:          "612",
		Title:           "Hollow Knight",
		Category:        models.CategoryGame,
		Store:           "Steam",
		Currency:        "USD",
		BasePrice:       decimal.RequireFromString("14.99"),
		SalePrice:       decimal.RequireFromString("7.49"),
		DiscountPercent: 50,
		URL:             "https://example.com/deal",
		ObservedAt:      time.Now().UTC(),
	}
}

func TestSourceJobPostsNewDeals(t *testing.T) {
	sender := &memSender{}
	provider := &memProvider{table: map[string]decimal.Decimal{
		"CAD": decimal.RequireFromString("1.37"),
		"EUR": decimal.RequireFromString("0.92"),
	}}
	svc := newTestService(t, seededStore(t), sender, provider)

	f := &memFetcher{source: models.SourceCheapShark, deals: []models.Deal{saleDeal()}}
	job := svc.SourceJob(f, 2*time.Hour)
	if job.Name != "cheapshark" || !job.Immediate {
		t.Errorf("job = %q immediate=%v, want immediate cheapshark job", job.Name, job.Immediate)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("job.Run() error = %v", err)
	}
	if len(sender.bodies) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.bodies))
	}

	body := sender.bodies[0]
	if !strings.Contains(body, "Hollow Knight") {
		t.Errorf("body missing title: %q", body)
	}
	// Base currency first, then the display currencies.
	if !strings.Contains(body, "💰 $7.49 · C$10.26 · €6.89") {
		t.Errorf("body missing converted price line: %q", body)
	}
}

func TestSourceJobCycleIsIdempotent(t *testing.T) {
	sender := &memSender{}
	provider := &memProvider{table: map[string]decimal.Decimal{"CAD": decimal.RequireFromString("1.37")}}
	svc := newTestService(t, seededStore(t), sender, provider)

	f := &memFetcher{source: models.SourceCheapShark, deals: []models.Deal{saleDeal()}}
	job := svc.SourceJob(f, 2*time.Hour)

	ctx := context.Background()
	if err := job.Run(ctx); err != nil {
		t.Fatalf("first job.Run() error = %v", err)
	}
	if err := job.Run(ctx); err != nil {
		t.Fatalf("second job.Run() error = %v", err)
	}
	if len(sender.bodies) != 1 {
		t.Errorf("sent %d messages across two identical cycles, want 1", len(sender.bodies))
	}
}

func TestSourceJobDegradesWhenRatesUnavailable(t *testing.T) {
	sender := &memSender{}
	provider := &memProvider{err: errors.New("provider down")}
	svc := newTestService(t, seededStore(t), sender, provider)

	f := &memFetcher{source: models.SourceCheapShark, deals: []models.Deal{saleDeal()}}
	if err := svc.SourceJob(f, 2*time.Hour).Run(context.Background()); err != nil {
		t.Fatalf("job.Run() error = %v", err)
	}
	if len(sender.bodies) != 1 {
		t.Fatalf("sent %d messages, want 1 despite rate failure", len(sender.bodies))
	}
	// Native amount survives when no conversion is possible.
	if !strings.Contains(sender.bodies[0], "$7.49") {
		t.Errorf("body missing native price: %q", sender.bodies[0])
	}
}

func TestSourceJobEpicSkipsConversion(t *testing.T) {
	sender := &memSender{}
	provider := &memProvider{err: errors.New("provider down")}
	svc := newTestService(t, seededStore(t), sender, provider)

	epicDeal := models.Deal{
		Source:          models.SourceEpic,
		GameID:          "epic-1",
		Title:           "Control",
		Category:        models.CategoryGame,
		Store:           "Epic Games Store",
		Currency:        "USD",
		DiscountPercent: 100,
		URL:             "https://store.epicgames.com/en-US/p/control",
		ObservedAt:      time.Now().UTC(),
	}
	f := &memFetcher{source: models.SourceEpic, deals: []models.Deal{epicDeal}}

	if err := svc.SourceJob(f, 24*time.Hour).Run(context.Background()); err != nil {
		t.Fatalf("job.Run() error = %v", err)
	}
	if len(sender.bodies) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.bodies))
	}
	if !strings.Contains(sender.bodies[0], "🆓 [FREE] Control") {
		t.Errorf("body = %q, want free-game rendering", sender.bodies[0])
	}
}

func TestSourceJobContinuesAfterSendFailure(t *testing.T) {
	sender := &memSender{err: errors.New("homeserver down")}
	provider := &memProvider{table: map[string]decimal.Decimal{"CAD": decimal.RequireFromString("1.37")}}
	store := seededStore(t)
	svc := newTestService(t, store, sender, provider)

	f := &memFetcher{source: models.SourceCheapShark, deals: []models.Deal{saleDeal()}}
	if err := svc.SourceJob(f, 2*time.Hour).Run(context.Background()); err != nil {
		t.Fatalf("job.Run() should swallow post failures, got %v", err)
	}
	// The record is already persisted; a failed post is not retried.
	if len(store.records) != 2 {
		t.Errorf("store holds %d records, want 2", len(store.records))
	}
}

func TestSourceJobPropagatesFetchFailure(t *testing.T) {
	sender := &memSender{}
	provider := &memProvider{table: map[string]decimal.Decimal{}}
	svc := newTestService(t, seededStore(t), sender, provider)

	f := &memFetcher{source: models.SourceCheapShark, err: errors.New("api down")}
	if err := svc.SourceJob(f, 2*time.Hour).Run(context.Background()); err == nil {
		t.Error("job.Run() should surface the fetch failure to the scheduler")
	}
}

func TestPruneJob(t *testing.T) {
	sender := &memSender{}
	provider := &memProvider{table: map[string]decimal.Decimal{}}
	store := seededStore(t)
	store.pruned = 4
	svc := newTestService(t, store, sender, provider)

	job := svc.PruneJob()
	if job.Name != "prune" || job.Interval != 24*time.Hour {
		t.Errorf("job = %q interval=%v, want daily prune", job.Name, job.Interval)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Errorf("job.Run() error = %v", err)
	}
}
