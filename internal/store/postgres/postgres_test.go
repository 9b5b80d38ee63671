package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://x@y/z", Host: "ignored"},
			want: "postgres://x@y/z",
		},
		{
			name: "defaults",
			cfg:  ClientConfig{Host: "db", Database: "arb", User: "u", Password: "p"},
			want: "postgres://u:p@db:5432/arb?sslmode=disable",
		},
		{
			name: "custom port and ssl",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "arb", User: "u", Password: "p", SSLMode: "require"},
			want: "postgres://u:p@db:6543/arb?sslmode=require",
		},
		{
			name: "ipv6 host",
			cfg:  ClientConfig{Host: "::1", Database: "arb", User: "u", Password: "p"},
			want: "postgres://u:p@[::1]:5432/arb?sslmode=disable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("migrationNames() error = %v", err)
	}
	if len(names) == 0 || names[0] != "001_opportunity_updates.sql" {
		t.Errorf("migrationNames() = %v, want 001_opportunity_updates.sql first", names)
	}
}

func TestClampLimit(t *testing.T) {
	for in, want := range map[int]int{-5: 1, 0: 1, 1: 1, 50: 50, 1000: 1000, 5000: 1000} {
		if got := clampLimit(in); got != want {
			t.Errorf("clampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

// TestUpdateStore_RoundTrip runs against a live database when
// ARBMIRROR_TEST_POSTGRES_DSN is set.
func TestUpdateStore_RoundTrip(t *testing.T) {
	dsn := os.Getenv("ARBMIRROR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ARBMIRROR_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()
	if err := c.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if err := c.RunMigrations(ctx); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}

	store := NewUpdateStore(c.Pool())
	market := "test-" + uuid.NewString()
	base := time.Now().UTC().Truncate(time.Millisecond)
	first := domain.ArchivedUpdate{
		ID: uuid.NewString(), Type: domain.UpdateUpsert, MarketID: market,
		Edge: domain.Ptr(0.05), SumPrices: domain.Ptr(0.95), Liquidity: domain.Ptr(150),
		ReceivedAt: base,
	}
	second := domain.ArchivedUpdate{
		ID: uuid.NewString(), Type: domain.UpdateRemove, MarketID: market,
		ReceivedAt: base.Add(time.Second),
	}
	for _, u := range []domain.ArchivedUpdate{first, second, first} {
		if err := store.Insert(ctx, u); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	got, err := store.ListByMarket(ctx, market, 10)
	if err != nil {
		t.Fatalf("ListByMarket() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListByMarket() returned %d rows, want 2", len(got))
	}
	if got[0].Type != domain.UpdateRemove || got[0].Edge != nil {
		t.Errorf("newest = %+v, want remove without edge", got[0])
	}
	if got[1].Edge == nil || *got[1].Edge != 0.05 {
		t.Errorf("oldest edge = %v, want 0.05", got[1].Edge)
	}
}
