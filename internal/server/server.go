package server

import (
	"net/http"
	"time"
)

func New(addr string, healthHandler http.HandlerFunc, api *APIHandlers) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	if api != nil {
		mux.HandleFunc("POST /v1/evaluations", api.PostEvaluation)
		mux.HandleFunc("GET /v1/jobs/{id}", api.GetJob)
		mux.HandleFunc("GET /v1/items/{id}/job", api.GetLatestItemJob)
		mux.HandleFunc("GET /v1/queue", api.GetQueueStatus)
		mux.HandleFunc("GET /v1/ratelimit", api.GetRateLimitStatus)
		mux.HandleFunc("GET /v1/metrics/summary", api.GetMetricsSummary)
		mux.HandleFunc("GET /v1/metrics/export", api.GetMetricsExport)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
