package risk

import (
	"context"
	"testing"

	"scalpbot/pkg/db"
)

func newParamStore(t *testing.T) (*Store, *db.Store) {
	t.Helper()
	database, err := db.NewMemory()
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database), database
}

func TestSetParameterPersistsAndReloads(t *testing.T) {
	s, database := newParamStore(t)
	ctx := context.Background()

	if err := s.SetParameter(ctx, "max_daily_loss", "75"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetParameter(ctx, "leverage_cap", "5"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := s.Params(); got.MaxDailyLoss != 75 || got.LeverageCap != 5 {
		t.Fatalf("live params = %+v", got)
	}

	fresh := NewStore(database)
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := fresh.Params(); got.MaxDailyLoss != 75 || got.LeverageCap != 5 {
		t.Fatalf("reloaded params = %+v", got)
	}
}

func TestSetParameterValidation(t *testing.T) {
	s, _ := newParamStore(t)
	ctx := context.Background()

	tests := []struct {
		name, value string
	}{
		{"max_daily_loss", "-1"},
		{"max_daily_loss", "abc"},
		{"stop_loss_pct", "1.5"},
		{"stop_loss_pct", "0"},
		{"leverage_cap", "0"},
		{"max_consecutive_losses", "-2"},
		{"no_such_knob", "1"},
	}
	before := s.Params()
	for _, tt := range tests {
		if err := s.SetParameter(ctx, tt.name, tt.value); err == nil {
			t.Errorf("SetParameter(%s, %s) accepted an invalid value", tt.name, tt.value)
		}
	}
	if s.Params() != before {
		t.Fatal("invalid updates must leave live params untouched")
	}
}
