package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/evalgate/evalgate/internal/sched"
	"github.com/evalgate/evalgate/internal/store"
)

type RuntimeSnapshot struct {
	Scheduler       sched.Status
	GlobalRateUsed  int
	GlobalRateLimit int
	JobsAccepted    int64
	CallsRejected   int64
	LastAlertTime   *int64
	NotifierEnabled bool
}

type SnapshotProvider interface {
	Snapshot() RuntimeSnapshot
}

type HealthResponse struct {
	Status          string           `json:"status"`
	UptimeSeconds   int64            `json:"uptime_seconds"`
	Version         string           `json:"version"`
	DBStatus        string           `json:"db_status"`
	DBSizeBytes     int64            `json:"db_size_bytes"`
	WALSizeBytes    int64            `json:"wal_size_bytes"`
	QueueLength     int              `json:"queue_length"`
	InFlight        int              `json:"in_flight"`
	MaxConcurrent   int              `json:"max_concurrent"`
	GlobalRateUsed  int              `json:"global_rate_used"`
	GlobalRateLimit int              `json:"global_rate_limit"`
	JobsAccepted    int64            `json:"jobs_accepted"`
	CallsRejected   int64            `json:"calls_rejected"`
	JobCounts       map[string]int64 `json:"job_counts"`
	LastAlertTime   *int64           `json:"last_alert_time"`
	NotifierEnabled bool             `json:"notifier_enabled"`
	GeneratedAt     string           `json:"generated_at"`
	Warnings        []string         `json:"warnings,omitempty"`
}

type HealthHandler struct {
	dbm         *store.Manager
	startTime   time.Time
	version     string
	snapshotter SnapshotProvider
}

func NewHealthHandler(dbm *store.Manager, start time.Time, version string, snapshotter SnapshotProvider) *HealthHandler {
	return &HealthHandler{
		dbm:         dbm,
		startTime:   start,
		version:     version,
		snapshotter: snapshotter,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.snapshotter.Snapshot()
	dbStats := h.dbm.Stats()
	counts, countErr := h.dbm.CountJobsByStatus(context.Background())

	resp := HealthResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(h.startTime).Seconds()),
		Version:         h.version,
		DBStatus:        dbStats.DBStatus,
		DBSizeBytes:     dbStats.DBSizeBytes,
		WALSizeBytes:    dbStats.WALSize,
		QueueLength:     snapshot.Scheduler.QueueLength,
		InFlight:        snapshot.Scheduler.InFlight,
		MaxConcurrent:   snapshot.Scheduler.MaxConcurrent,
		GlobalRateUsed:  snapshot.GlobalRateUsed,
		GlobalRateLimit: snapshot.GlobalRateLimit,
		JobsAccepted:    snapshot.JobsAccepted,
		CallsRejected:   snapshot.CallsRejected,
		JobCounts:       make(map[string]int64),
		LastAlertTime:   snapshot.LastAlertTime,
		NotifierEnabled: snapshot.NotifierEnabled,
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	for status, n := range counts {
		resp.JobCounts[string(status)] = n
	}

	if countErr != nil {
		resp.Status = "degraded"
		resp.Warnings = append(resp.Warnings, "job_counts_unavailable")
	}
	if resp.DBStatus != "ok" {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
