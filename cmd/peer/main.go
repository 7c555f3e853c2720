// Command peer runs one process of the rooms/lifts distributed
// mutual-exclusion group. Everything here is external-collaborator
// wiring: config parsing, transport bootstrap, logging setup, and
// signal handling. The protocol core lives entirely in internal/protocol.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sincronizacion-distribuida/rooms-lifts/internal/audit"
	"github.com/sincronizacion-distribuida/rooms-lifts/internal/clock"
	"github.com/sincronizacion-distribuida/rooms-lifts/internal/config"
	"github.com/sincronizacion-distribuida/rooms-lifts/internal/metrics"
	"github.com/sincronizacion-distribuida/rooms-lifts/internal/protocol"
	"github.com/sincronizacion-distribuida/rooms-lifts/internal/rng"
	"github.com/sincronizacion-distribuida/rooms-lifts/internal/transport"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.WithError(err).Fatal("configuration error")
	}

	log := logger.WithField("rank", cfg.Rank)
	log.WithFields(logrus.Fields{"rooms": cfg.Rooms, "lifts": cfg.Lifts, "peers": len(cfg.Peers)}).
		Info("starting peer")

	clk := clock.New()
	tr := transport.NewHTTP(cfg.Rank, cfg.Peers, clk, log)

	ledger, mongoLedger := buildLedger(cfg, log)
	var observer protocol.Observer
	reg := prometheus.NewRegistry()
	if cfg.MetricsOn {
		observer = metrics.NewCollector(cfg.Rank, reg)
	}

	need := rng.NewDefault(time.Now().UnixNano() + int64(cfg.Rank)).Need(cfg.Rooms)
	source := rng.NewDefault(time.Now().UnixNano() ^ int64(cfg.Rank)<<32)

	peerCfg := protocol.Config{Rooms: cfg.Rooms, Lifts: cfg.Lifts, Peers: len(cfg.Peers)}
	p := protocol.NewPeer(cfg.Rank, need, peerCfg, clk, tr, source, logrus.NewEntry(logger), observer, ledger)

	router := mux.NewRouter()
	tr.Router(router)
	router.Handle("/metrics", promHandler(reg)).Methods(http.MethodGet)
	router.HandleFunc("/health", healthHandler(cfg, clk)).Methods(http.MethodGet)
	router.HandleFunc("/status", statusHandler(p, mongoLedger)).Methods(http.MethodGet)

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("transport http server failed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		err := p.Run(egCtx)
		if err != nil {
			// Serve blocks in Receive and does not watch egCtx; closing the
			// transport unblocks it so eg.Wait can return.
			_ = tr.Close()
		}
		return err
	})
	eg.Go(func() error { return p.Serve() })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
		if err := p.Shutdown(); err != nil {
			log.WithError(err).Error("failed to broadcast finish")
		}
	}()

	runErr := eg.Wait()
	_ = httpServer.Close()
	_ = tr.Close()
	if runErr != nil {
		log.WithError(runErr).Fatal("peer exited with error")
	}
	log.Info("peer stopped")
}

// buildLedger returns the protocol.Ledger the peer writes through, plus
// the concrete *audit.MongoLedger when persistence is enabled (nil
// otherwise) so the status surface can additionally read recent entries
// back.
func buildLedger(cfg config.Config, log *logrus.Entry) (protocol.Ledger, *audit.MongoLedger) {
	if cfg.MongoURI == "" {
		return audit.NoopLedger{}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.WithError(err).Warn("failed to connect to mongo, disabling occupancy ledger")
		return audit.NoopLedger{}, nil
	}
	collection := client.Database("rooms_lifts").Collection("occupancy_ledger")
	mongoLedger := audit.NewMongoLedger(collection, log)
	return mongoLedger, mongoLedger
}

func promHandler(reg *prometheus.Registry) http.Handler {
	return metrics.HandlerFor(reg)
}

func healthHandler(cfg config.Config, clk *clock.Lamport) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":        "healthy",
			"rank":          cfg.Rank,
			"logical_clock": clk.Now(),
		})
	}
}

func statusHandler(p *protocol.Peer, ledger *audit.MongoLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := struct {
			protocol.StatusReport
			RecentLedger []audit.Entry `json:"recent_ledger,omitempty"`
		}{StatusReport: p.Status()}

		if ledger != nil {
			entries, err := ledger.Recent(r.Context(), 10)
			if err != nil {
				log := logrus.WithField("rank", report.Rank)
				log.WithError(err).Warn("failed to read recent occupancy ledger entries")
			} else {
				report.RecentLedger = entries
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
	}
}
