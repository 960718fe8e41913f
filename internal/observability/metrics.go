// Package observability holds the process-wide Prometheus metric
// vectors scraped by cmd/coordinatord's /metrics endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PopulationWaiting tracks the waiting counter per campaign.
	PopulationWaiting = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fedcoord_population_waiting",
		Help: "Current number of clients in the Waiting state",
	}, []string{"campaign"})

	// PopulationSelected tracks the selected counter per campaign.
	PopulationSelected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fedcoord_population_selected",
		Help: "Current number of clients in the Selected state",
	}, []string{"campaign"})

	// PopulationDone tracks the done counter per campaign.
	PopulationDone = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fedcoord_population_done",
		Help: "Current number of clients in the Done state",
	}, []string{"campaign"})

	// PopulationDoneAndInactive tracks the done_and_inactive counter per campaign.
	PopulationDoneAndInactive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fedcoord_population_done_and_inactive",
		Help: "Current number of clients in the DoneAndInactive state",
	}, []string{"campaign"})

	// PopulationIgnored tracks the ignored counter per campaign.
	PopulationIgnored = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fedcoord_population_ignored",
		Help: "Current number of clients in the Ignored state",
	}, []string{"campaign"})

	// CurrentRound tracks the zero-based round index per campaign.
	CurrentRound = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fedcoord_current_round",
		Help: "Zero-based index of the round currently in progress",
	}, []string{"campaign"})

	// TrainingComplete tracks whether a campaign has finished (1) or not (0).
	TrainingComplete = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fedcoord_training_complete",
		Help: "1 if the campaign has completed all rounds, else 0",
	}, []string{"campaign"})

	// SelectionsRequested tracks RunSelection events emitted by the driver.
	SelectionsRequested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedcoord_selections_requested_total",
		Help: "Total RunSelection events emitted by the driver",
	}, []string{"campaign"})

	// AggregationsRun tracks RunAggregation events, labeled by outcome once resolved.
	AggregationsRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedcoord_aggregations_total",
		Help: "Total aggregations run, labeled by outcome",
	}, []string{"campaign", "outcome"}) // outcome: success, failure

	// HeartbeatTimeouts tracks clients removed for missing a heartbeat deadline.
	HeartbeatTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedcoord_heartbeat_timeouts_total",
		Help: "Total clients removed for missing a heartbeat deadline",
	}, []string{"campaign", "prior_state"})

	// LeadershipEpoch tracks the current fencing epoch for the leader.
	LeadershipEpoch = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fedcoord_leader_epoch",
		Help: "Current fencing epoch of the leader",
	}, []string{"node_id"})

	// LeadershipTransitions tracks leadership acquisition and loss events.
	LeadershipTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedcoord_leader_transitions_total",
		Help: "Total number of leadership transitions",
	}, []string{"node_id", "event"})

	// LeaderStatus tracks current leader status for this process.
	LeaderStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fedcoord_leader_status",
		Help: "Current leader status (1 = leader, 0 = follower)",
	})

	// APIRateLimited tracks requests rejected by internal/ratelimit.
	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedcoord_api_rate_limited_total",
		Help: "Requests rejected by rate limiter (storm protection)",
	}, []string{"endpoint"}) // rendez_vous, heartbeat

	// RedisLatency tracks Redis operation roundtrip latency.
	RedisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fedcoord_redis_roundtrip_latency_seconds",
		Help:    "Redis operation latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	})

	// ConnectedClients tracks the number of currently live clients.
	ConnectedClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fedcoord_connected_clients",
		Help: "Current number of clients with a live heartbeat",
	}, []string{"campaign"})
)
