package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"solgrid/internal/market"
	"solgrid/internal/persistence/ledger"
	persistlog "solgrid/internal/persistence/log"
	"solgrid/internal/pricing"
	"solgrid/internal/referral"
	"solgrid/internal/transport/ws"
	"solgrid/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune := tuning.Default()
	if tp := strings.TrimSpace(*tuningPath); tp != "" {
		t, err := tuning.Load(tp)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Printf("no tuning file at %s, using defaults", tp)
			} else {
				logger.Fatalf("load tuning: %v", err)
			}
		} else {
			tune = t
		}
	}

	store, err := ledger.Open(filepath.Join(*dataDir, "ledger.db"))
	if err != nil {
		logger.Fatalf("open ledger: %v", err)
	}
	defer store.Close()

	salesLog := persistlog.NewSalesLog(*dataDir)
	defer salesLog.Close()

	m := market.New(market.Config{
		Pricing:      pricing.Schedule{BaseCents: tune.BasePriceCents, StepCents: tune.StepCents},
		InboxSize:    tune.InboxSize,
		JournalLimit: tune.JournalLimit,
	}, store, referral.NewResolver(store), logger)
	m.SetSalesLog(salesLog)

	recs, err := store.LoadSales()
	if err != nil {
		logger.Fatalf("load sales: %v", err)
	}
	if err := m.Seed(recs); err != nil {
		logger.Fatalf("seed market: %v", err)
	}
	logger.Printf("loaded %d sale(s) from ledger", len(recs))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("market stopped: %v", err)
		}
	}()

	wsrv := ws.NewServer(m, tune.ClientQueue, tune.MaxClientQueue, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", wsrv.Handler())
	mux.HandleFunc("/v1/occupancy", occupancyHandler(m))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Printf("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
}

// occupancyHandler serves the read-only sold-count + occupied-cell view.
func occupancyHandler(m *market.Market) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		respCh := make(chan market.Occupancy, 1)
		select {
		case m.Occupancy() <- market.OccupancyRequest{Resp: respCh}:
		case <-time.After(2 * time.Second):
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		select {
		case occ := <-respCh:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(occ)
		case <-time.After(2 * time.Second):
			http.Error(w, "busy", http.StatusServiceUnavailable)
		}
	}
}
