package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"scalpbot/internal/account"
	"scalpbot/internal/api"
	"scalpbot/internal/events"
	"scalpbot/internal/indicators"
	"scalpbot/internal/lifecycle"
	"scalpbot/internal/monitor"
	"scalpbot/internal/risk"
	"scalpbot/internal/strategy"
	"scalpbot/pkg/config"
	"scalpbot/pkg/db"
	"scalpbot/pkg/exchange"
)

var buildVersion = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()
	if err := db.ApplyMigrations(store); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	client := buildClient(cfg)
	limiter := exchange.NewLimiter(cfg.VenueRPS, cfg.VenueBurst)

	ledger := account.NewLedger(store)
	if err := ledger.Load(ctx); err != nil {
		log.Fatalf("restore ledger: %v", err)
	}
	if ledger.TradingEnabled() {
		monitor.TradingEnabled.Set(1)
	} else {
		monitor.TradingEnabled.Set(0)
	}

	params := risk.NewStore(store)
	seedParams(ctx, store, params, cfg)
	if err := params.Load(ctx); err != nil {
		log.Fatalf("restore risk params: %v", err)
	}

	ind := indicators.NewEngine(indicators.DefaultConfig())

	mgr := lifecycle.NewManager(client, risk.NewGate(params), params, ledger,
		bus, store, limiter, ind, cfg.PollInterval, cfg.Workers)

	// Settle every order the previous run left in flight before anything
	// else may trade.
	if err := mgr.Reconcile(ctx); err != nil {
		log.Printf("reconcile: %v (trading halted)", err)
	}
	mgr.Start(ctx)

	stratEng := strategy.NewEngine(ind, ledger, mgr, bus, store)
	configs, err := strategy.LoadConfig(cfg.StrategiesPath)
	if err != nil {
		log.Fatalf("load strategies: %v", err)
	}
	for _, sc := range configs {
		if !sc.Enabled {
			log.Printf("strategy %s disabled, skipping", sc.ID)
			continue
		}
		s, err := strategy.Build(sc)
		if err != nil {
			log.Fatalf("build strategy %s: %v", sc.ID, err)
		}
		if err := stratEng.Register(s); err != nil {
			log.Fatalf("register strategy %s: %v", sc.ID, err)
		}
		log.Printf("strategy %s (%s) registered on %s", s.ID(), s.Name(), s.Pair())
	}
	if err := stratEng.LoadStates(ctx); err != nil {
		log.Fatalf("restore strategy states: %v", err)
	}
	stratEng.Start(ctx)

	for _, pair := range cfg.Pairs {
		ticks, _, err := client.SubscribeTicks(ctx, pair)
		if err != nil {
			log.Fatalf("subscribe %s: %v", pair, err)
		}
		stratEng.StartPair(ctx, pair, ticks)
		log.Printf("feed started for %s", pair)
	}

	go rolloverLoop(ctx, ledger)
	go positionGauge(ctx, ledger)

	server := api.NewServer(bus, ledger, params, stratEng, mgr, client,
		api.SystemMeta{
			Venue:   cfg.Venue,
			Pairs:   cfg.Pairs,
			SimMode: cfg.SimMode,
			Version: buildVersion,
		},
		cfg.JWTSecret, cfg.OperatorPassHash)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server: %v", err)
		}
	}()
	log.Printf("scalpbot %s up on :%s (venue=%s sim=%v)", buildVersion, cfg.Port, cfg.Venue, cfg.SimMode)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")

	saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := stratEng.SaveStates(saveCtx); err != nil {
		log.Printf("save strategy states: %v", err)
	}
	saveCancel()
	cancel()
}

// buildClient picks the execution venue. Live venue adapters plug in here;
// the bundled simulator serves development and dry runs.
func buildClient(cfg *config.Config) exchange.Client {
	if !cfg.SimMode {
		log.Fatalf("venue %q has no live adapter in this build, set SIM_MODE=true", cfg.Venue)
	}
	sim := exchange.NewSim(exchange.Balance{Asset: "USDT", Free: 10000})
	go driveSim(sim, cfg.Pairs)
	return sim
}

// driveSim feeds the simulator a gentle random walk per pair.
func driveSim(sim *exchange.Sim, pairs []string) {
	prices := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		prices[p] = 50000
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	step := 0
	for range ticker.C {
		step++
		for _, p := range pairs {
			// deterministic wobble, enough to exercise the indicators
			drift := float64((step*31+len(p)*17)%200-100) / 100.0
			prices[p] *= 1 + drift*0.0004
			sim.PushTick(exchange.SimTick(p, prices[p]))
		}
	}
}

// seedParams writes config defaults only when nothing was persisted yet, so
// operator updates survive restarts.
func seedParams(ctx context.Context, store *db.Store, params *risk.Store, cfg *config.Config) {
	if _, err := store.LoadRiskParams(ctx); err == nil {
		return
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	defaults := []struct{ name, value string }{
		{"max_position_size", f(cfg.MaxPositionSize)},
		{"max_daily_loss", f(cfg.MaxDailyLoss)},
		{"max_consecutive_losses", strconv.Itoa(cfg.MaxConsecutiveLosses)},
		{"stop_loss_pct", f(cfg.StopLossPct)},
		{"take_profit_pct", f(cfg.TakeProfitPct)},
		{"leverage_cap", strconv.Itoa(cfg.LeverageCap)},
		{"liq_safety_margin", f(cfg.LiqSafetyMargin)},
		{"min_notional", f(cfg.MinNotional)},
	}
	for _, d := range defaults {
		if err := params.SetParameter(ctx, d.name, d.value); err != nil {
			log.Printf("seed risk param %s: %v", d.name, err)
		}
	}
}

// rolloverLoop resets the daily counters shortly after each UTC midnight.
func rolloverLoop(ctx context.Context, ledger *account.Ledger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ledger.Rollover(ctx, now.UTC())
		}
	}
}

// positionGauge keeps the open-position metric current.
func positionGauge(ctx context.Context, ledger *account.Ledger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			monitor.OpenPositions.Set(float64(len(ledger.Positions())))
		}
	}
}
