package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fedcoord/coordinator/internal/aggregator"
	"github.com/fedcoord/coordinator/internal/coordination"
	"github.com/fedcoord/coordinator/internal/dashboard"
	"github.com/fedcoord/coordinator/internal/history"
	"github.com/fedcoord/coordinator/internal/host"
	"github.com/fedcoord/coordinator/internal/idempotency"
	"github.com/fedcoord/coordinator/internal/middleware"
	"github.com/fedcoord/coordinator/internal/ratelimit"
	"github.com/fedcoord/coordinator/internal/registry"
)

func generateNodeID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "coordinatord"
	}
	return hostname
}

func main() {
	ctx := context.Background()
	nodeID := "node-" + generateNodeID()

	redisAddr := os.Getenv("REDIS_ADDR")
	var reg registry.Registry
	var idemStore *idempotency.Store
	var lease coordination.LeaseBackend

	if redisAddr != "" {
		redisRegistry, err := registry.NewRedisRegistry(redisAddr, os.Getenv("REDIS_PASSWORD"), 0)
		if err != nil {
			log.Fatalf("coordinatord: failed to connect to Redis at %s: %v", redisAddr, err)
		}
		log.Printf("coordinatord: connected to Redis at %s for the client registry", redisAddr)
		reg = redisRegistry
		lease = redisRegistry

		idemClient := redis.NewClient(&redis.Options{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
		idemStore = idempotency.NewStore(idempotency.NewRedisBackend(idemClient), time.Hour)
	} else {
		log.Println("coordinatord: REDIS_ADDR not set, using in-memory registry (single replica only)")
		reg = registry.NewMemoryRegistry()
		idemStore = idempotency.NewStore(nil, time.Hour)
	}

	var hist history.History
	var epochs coordination.DurableEpochSource
	if pgURL := os.Getenv("DATABASE_URL"); pgURL != "" {
		pgHist, err := history.NewPostgresHistory(ctx, pgURL)
		if err != nil {
			log.Fatalf("coordinatord: failed to connect to Postgres: %v", err)
		}
		hist = pgHist
		epochs = pgHist
		log.Println("coordinatord: connected to Postgres for durable round history")
	} else {
		log.Println("coordinatord: DATABASE_URL not set, round history will not survive a restart")
	}

	const leaderLeaseTTL = 15 * time.Second
	if lease != nil && epochs != nil {
		log.Println("coordinatord: leader election enabled (Redis lease, Postgres fencing epoch) — one replica drives each campaign")
	} else {
		log.Println("coordinatord: leader election disabled (needs both REDIS_ADDR and DATABASE_URL); running standalone")
	}

	agg := aggregator.NewFedAvg()
	campaigns := host.NewManager(reg, agg, hist, lease, epochs, nodeID, leaderLeaseTTL)

	api := NewAPI(campaigns, idemStore)

	dashSource := &managerSnapshotSource{campaigns: campaigns}
	hub := dashboard.NewHub(dashSource, time.Second)
	go hub.Run(ctx)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	mux.Handle("/campaigns", middleware.AuthMiddleware(middleware.RequireRole("operator")(
		http.HandlerFunc(api.handleCreateCampaign))))

	clientChain := func(h http.HandlerFunc) http.Handler {
		return middleware.AuthMiddleware(middleware.CampaignMiddleware(h))
	}

	// Rendezvous and heartbeat are the two endpoints a misbehaving or
	// aggressively-retrying client hits hardest, so they're the ones
	// guarded by the per-client token bucket.
	storm := ratelimit.NewPerClient(20, 40)
	limitedChain := func(endpoint string, h http.HandlerFunc) http.Handler {
		return middleware.AuthMiddleware(middleware.CampaignMiddleware(
			storm.Middleware(endpoint, clientRateLimitKey)(h)))
	}

	mux.Handle("/rendezvous", limitedChain("rendezvous", api.withIdempotency(api.handleRendezVous)))
	mux.Handle("/heartbeat", limitedChain("heartbeat", api.handleHeartBeat))
	mux.Handle("/start_training", clientChain(api.handleStartTraining))
	mux.Handle("/end_training", clientChain(api.withIdempotency(api.handleEndTraining)))
	mux.Handle("/dashboard/stream", clientChain(api.handleDashboardStream(hub)))

	handler := middleware.CORSMiddleware(mux)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("coordinatord (%s) listening on %s", nodeID, addr)
	log.Fatal(http.ListenAndServe(addr, handler))
}

// managerSnapshotSource adapts host.Manager to dashboard.SnapshotSource.
type managerSnapshotSource struct {
	campaigns *host.Manager
}

func (s *managerSnapshotSource) Snapshot(campaignID string) (dashboard.Snapshot, error) {
	loop, ok := s.campaigns.Loop(campaignID)
	if !ok {
		return dashboard.Snapshot{}, fmt.Errorf("unknown campaign %s", campaignID)
	}
	return loop.Snapshot(campaignID)
}
