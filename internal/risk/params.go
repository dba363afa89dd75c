package risk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"scalpbot/pkg/db"
)

// Params holds the live risk limits. All fractions are of notional or price.
type Params struct {
	MaxPositionSize      float64 // max notional per position, quote currency
	MaxDailyLoss         float64 // daily loss limit, quote currency, positive
	MaxConsecutiveLosses int
	StopLossPct          float64 // worst-case loss fraction used for budget projection
	TakeProfitPct        float64
	LeverageCap          int
	LiqSafetyMargin      float64 // min fraction between entry and liquidation
	MinNotional          float64 // smallest order the venue accepts
}

// DefaultParams mirrors the conservative boot defaults.
func DefaultParams() Params {
	return Params{
		MaxPositionSize:      1000,
		MaxDailyLoss:         50,
		MaxConsecutiveLosses: 3,
		StopLossPct:          0.01,
		TakeProfitPct:        0.005,
		LeverageCap:          10,
		LiqSafetyMargin:      0.02,
		MinNotional:          5,
	}
}

// Store owns the live params with persistence. Reads are cheap copies;
// writes go through SetParameter and persist before taking effect.
type Store struct {
	mu     sync.RWMutex
	params Params
	db     *db.Store
}

// NewStore creates a param store seeded with defaults.
func NewStore(database *db.Store) *Store {
	return &Store{params: DefaultParams(), db: database}
}

// Load restores persisted params, keeping defaults when none were saved.
func (s *Store) Load(ctx context.Context) error {
	p, err := s.db.LoadRiskParams(ctx)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("load risk params: %w", err)
	}
	s.mu.Lock()
	s.params = Params{
		MaxPositionSize:      p.MaxPositionSize,
		MaxDailyLoss:         p.MaxDailyLoss,
		MaxConsecutiveLosses: p.MaxConsecutiveLosses,
		StopLossPct:          p.StopLossPct,
		TakeProfitPct:        p.TakeProfitPct,
		LeverageCap:          p.LeverageCap,
		LiqSafetyMargin:      p.LiqSafetyMargin,
		MinNotional:          p.MinNotional,
	}
	s.mu.Unlock()
	return nil
}

// Params returns a copy of the current limits.
func (s *Store) Params() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// SetParameter updates one limit by name and persists the full set. Invalid
// names or values leave the live params untouched.
func (s *Store) SetParameter(ctx context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.params
	switch name {
	case "max_position_size":
		v, err := parsePositive(value)
		if err != nil {
			return err
		}
		next.MaxPositionSize = v
	case "max_daily_loss":
		v, err := parsePositive(value)
		if err != nil {
			return err
		}
		next.MaxDailyLoss = v
	case "max_consecutive_losses":
		v, err := strconv.Atoi(value)
		if err != nil || v < 1 {
			return fmt.Errorf("max_consecutive_losses must be a positive integer, got %q", value)
		}
		next.MaxConsecutiveLosses = v
	case "stop_loss_pct":
		v, err := parseFraction(value)
		if err != nil {
			return err
		}
		next.StopLossPct = v
	case "take_profit_pct":
		v, err := parseFraction(value)
		if err != nil {
			return err
		}
		next.TakeProfitPct = v
	case "leverage_cap":
		v, err := strconv.Atoi(value)
		if err != nil || v < 1 {
			return fmt.Errorf("leverage_cap must be a positive integer, got %q", value)
		}
		next.LeverageCap = v
	case "liq_safety_margin":
		v, err := parseFraction(value)
		if err != nil {
			return err
		}
		next.LiqSafetyMargin = v
	case "min_notional":
		v, err := parsePositive(value)
		if err != nil {
			return err
		}
		next.MinNotional = v
	default:
		return fmt.Errorf("unknown risk parameter %q", name)
	}

	if err := s.persistLocked(ctx, next); err != nil {
		return err
	}
	s.params = next
	return nil
}

func (s *Store) persistLocked(ctx context.Context, p Params) error {
	return s.db.SaveRiskParams(ctx, db.RiskParams{
		MaxPositionSize:      p.MaxPositionSize,
		MaxDailyLoss:         p.MaxDailyLoss,
		MaxConsecutiveLosses: p.MaxConsecutiveLosses,
		StopLossPct:          p.StopLossPct,
		TakeProfitPct:        p.TakeProfitPct,
		LeverageCap:          p.LeverageCap,
		LiqSafetyMargin:      p.LiqSafetyMargin,
		MinNotional:          p.MinNotional,
		UpdatedAt:            time.Now(),
	})
}

func parsePositive(value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("value must be a positive number, got %q", value)
	}
	return v, nil
}

func parseFraction(value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || v <= 0 || v >= 1 {
		return 0, fmt.Errorf("value must be a fraction in (0,1), got %q", value)
	}
	return v, nil
}
