package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-windlass/internal/logger"
	"github.com/23skdu/longbow-windlass/internal/metrics"
)

// HealthStatus is the payload served by the status endpoint.
type HealthStatus struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Version     string          `json:"version"`
	Uptime      time.Duration   `json:"uptime"`
	System      SystemInfo      `json:"system"`
	Runtime     RuntimeInfo     `json:"runtime"`
	Performance PerformanceInfo `json:"performance"`
	Alerts      []Alert         `json:"alerts"`
}

// SystemInfo reports process-level facts.
type SystemInfo struct {
	GoVersion      string  `json:"go_version"`
	OS             string  `json:"os"`
	Arch           string  `json:"arch"`
	NumCPU         int     `json:"num_cpu"`
	MemoryMB       int     `json:"memory_mb"`
	MemoryUsedMB   int     `json:"memory_used_mb"`
	MemoryUsagePct float64 `json:"memory_usage_pct"`
}

// RuntimeInfo describes the loaded model, set once by the serving
// binary after construction.
type RuntimeInfo struct {
	ModelLoaded   bool   `json:"model_loaded"`
	Architecture  string `json:"architecture"`
	WeightType    string `json:"weight_type"`
	NumLayers     int    `json:"num_layers"`
	NumHeads      int    `json:"num_heads"`
	ContextLength int    `json:"context_length"`
	KVCacheBytes  int    `json:"kv_cache_bytes"`
	TokensTotal   int64  `json:"tokens_total"`
}

// PerformanceInfo summarizes the recent evaluation history.
type PerformanceInfo struct {
	TokensPerSecond float64   `json:"tokens_per_second"`
	AvgLatencyMs    float64   `json:"avg_latency_ms"`
	P95LatencyMs    float64   `json:"p95_latency_ms"`
	ErrorRate       float64   `json:"error_rate"`
	LastEvaluation  time.Time `json:"last_evaluation"`
}

// Alert is one recorded condition.
type Alert struct {
	Level      string     `json:"level"`     // info, warning, error, critical
	Component  string     `json:"component"` // runtime, memory, performance
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// HealthMonitor serves health, status and Prometheus endpoints and keeps
// a short evaluation history for throughput and latency summaries.
type HealthMonitor struct {
	startTime time.Time
	server    *http.Server
	log       *logger.Logger

	mu          sync.RWMutex
	alerts      []Alert
	lastEval    time.Time
	perfHistory []perfPoint
	errorCount  int
	runtimeInfo RuntimeInfo
}

type perfPoint struct {
	timestamp time.Time
	tokens    int
	duration  time.Duration
}

const (
	maxPerfHistory = 1000
	maxAlerts      = 100
)

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		startTime: time.Now(),
		log:       logger.Log.With("monitoring"),
	}
}

// Start serves the endpoints until the listener fails or Stop runs.
func (hm *HealthMonitor) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", hm.handleDetailedStatus)
	mux.HandleFunc("/admin/alerts", hm.handleAlerts)
	mux.HandleFunc("/admin/clear-alerts", hm.handleClearAlerts)

	hm.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	hm.log.Info("health monitor listening", "addr", addr)
	return hm.server.ListenAndServe()
}

func (hm *HealthMonitor) Stop(ctx context.Context) error {
	if hm.server != nil {
		return hm.server.Shutdown(ctx)
	}
	return nil
}

// SetRuntimeInfo publishes the loaded model's shape to the status
// endpoint.
func (hm *HealthMonitor) SetRuntimeInfo(info RuntimeInfo) {
	hm.mu.Lock()
	hm.runtimeInfo = info
	hm.mu.Unlock()
}

// RecordEvaluation notes one completed forward pass. Prometheus totals
// are recorded by the evaluator itself; this history only feeds the
// status summaries and alerting.
func (hm *HealthMonitor) RecordEvaluation(tokens int, duration time.Duration) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	now := time.Now()
	hm.lastEval = now
	hm.perfHistory = append(hm.perfHistory, perfPoint{timestamp: now, tokens: tokens, duration: duration})
	if len(hm.perfHistory) > maxPerfHistory {
		hm.perfHistory = hm.perfHistory[1:]
	}
	hm.checkPerformance(tokens, duration)
}

// RecordFailure counts a failed evaluation toward the error rate.
func (hm *HealthMonitor) RecordFailure(component string, err error) {
	hm.mu.Lock()
	hm.errorCount++
	hm.mu.Unlock()
	hm.AddAlert("error", component, err.Error())
}

// AddAlert appends to the bounded alert log.
func (hm *HealthMonitor) AddAlert(level, component, message string) {
	hm.mu.Lock()
	hm.alerts = append(hm.alerts, Alert{
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	})
	if len(hm.alerts) > maxAlerts {
		hm.alerts = hm.alerts[1:]
	}
	hm.mu.Unlock()

	hm.log.Warn("alert", "level", level, "component", component, "message", message)
}

// ResolveAlert marks one alert resolved by index.
func (hm *HealthMonitor) ResolveAlert(index int) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if index >= 0 && index < len(hm.alerts) {
		now := time.Now()
		hm.alerts[index].Resolved = true
		hm.alerts[index].ResolvedAt = &now
	}
}

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := hm.Snapshot()
	if status.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]string{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
	})
}

func (hm *HealthMonitor) handleDetailedStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(hm.Snapshot())
}

func (hm *HealthMonitor) handleAlerts(w http.ResponseWriter, r *http.Request) {
	hm.mu.RLock()
	alerts := make([]Alert, len(hm.alerts))
	copy(alerts, hm.alerts)
	hm.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(alerts)
}

func (hm *HealthMonitor) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	hm.mu.Lock()
	hm.alerts = hm.alerts[:0]
	hm.mu.Unlock()

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "alerts cleared"})
}

// Snapshot assembles the full status document.
func (hm *HealthMonitor) Snapshot() HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := "healthy"
	for _, alert := range hm.alerts {
		if alert.Resolved {
			continue
		}
		switch alert.Level {
		case "critical":
			status = "critical"
		case "error":
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	info := hm.runtimeInfo
	info.TokensTotal = metrics.TokensEvaluated()

	return HealthStatus{
		Status:      status,
		Timestamp:   time.Now(),
		Version:     Version,
		Uptime:      time.Since(hm.startTime),
		System:      systemInfo(),
		Runtime:     info,
		Performance: hm.performanceInfo(),
		Alerts:      append([]Alert(nil), hm.alerts...),
	}
}

// Version is stamped by the build; the default marks dev builds.
var Version = "dev"

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	usagePct := 0.0
	if m.Sys > 0 {
		usagePct = float64(m.Alloc) / float64(m.Sys) * 100
	}
	return SystemInfo{
		GoVersion:      runtime.Version(),
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		NumCPU:         runtime.NumCPU(),
		MemoryMB:       int(m.Sys / 1024 / 1024),
		MemoryUsedMB:   int(m.Alloc / 1024 / 1024),
		MemoryUsagePct: usagePct,
	}
}

// performanceInfo summarizes the history under a read lock held by the
// caller.
func (hm *HealthMonitor) performanceInfo() PerformanceInfo {
	if len(hm.perfHistory) == 0 {
		return PerformanceInfo{LastEvaluation: hm.lastEval}
	}

	var totalTokens int
	var totalDuration time.Duration
	latencies := make([]float64, 0, len(hm.perfHistory))
	for _, point := range hm.perfHistory {
		totalTokens += point.tokens
		totalDuration += point.duration
		latencies = append(latencies, float64(point.duration.Nanoseconds())/1e6)
	}
	sort.Float64s(latencies)

	p95 := int(float64(len(latencies)) * 0.95)
	if p95 >= len(latencies) {
		p95 = len(latencies) - 1
	}

	tokensPerSecond := 0.0
	if totalDuration > 0 {
		tokensPerSecond = float64(totalTokens) / totalDuration.Seconds()
	}
	total := len(hm.perfHistory) + hm.errorCount

	return PerformanceInfo{
		TokensPerSecond: tokensPerSecond,
		AvgLatencyMs:    float64(totalDuration.Nanoseconds()) / float64(len(hm.perfHistory)) / 1e6,
		P95LatencyMs:    latencies[p95],
		ErrorRate:       float64(hm.errorCount) / float64(total),
		LastEvaluation:  hm.lastEval,
	}
}

// checkPerformance runs under the write lock taken by RecordEvaluation.
func (hm *HealthMonitor) checkPerformance(tokens int, duration time.Duration) {
	if duration <= 0 {
		return
	}
	tokensPerSecond := float64(tokens) / duration.Seconds()
	if tokensPerSecond < 1.0 {
		hm.appendAlertLocked("warning", "performance",
			fmt.Sprintf("low throughput: %.2f tokens/sec", tokensPerSecond))
	}
	latencyMs := float64(duration.Nanoseconds()) / 1e6
	if latencyMs > 5000 {
		hm.appendAlertLocked("error", "performance",
			fmt.Sprintf("high latency: %.2f ms", latencyMs))
	}
}

func (hm *HealthMonitor) appendAlertLocked(level, component, message string) {
	hm.alerts = append(hm.alerts, Alert{
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	})
	if len(hm.alerts) > maxAlerts {
		hm.alerts = hm.alerts[1:]
	}
}
