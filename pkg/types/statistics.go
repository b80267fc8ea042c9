// Package types - status and statistics structures surfaced by the control
// plane (spec §6.3 Status()) and used internally for health/metrics wiring.
package types

import "time"

// HostStatus is one element of the control-plane Status() response
// (spec §6.3): one row per configured host.
type HostStatus struct {
	Name           string    `json:"name"`
	Kind           HostKind  `json:"kind"`
	State          HostState `json:"state"`
	PoolSize       int       `json:"pool_size"`
	ActiveWorkers  int       `json:"active_workers"`
	QueueDepth     int       `json:"queue_depth"`
	QueueCapacity  int       `json:"queue_capacity"`
	RestartCount   int       `json:"restart_count"`
	LastError      string    `json:"last_error,omitempty"`
	LastErrorTime  time.Time `json:"last_error_time,omitempty"`
	ProcessedTotal int64     `json:"processed_total"`
	FailedTotal    int64     `json:"failed_total"`
}

// ResourceStatus reports process-level resource usage, sourced from
// pkg/monitoring via gopsutil, for the control-plane Status() surface.
type ResourceStatus struct {
	MemoryUsedMB   int64   `json:"memory_used_mb"`
	CPUPercent     float64 `json:"cpu_percent"`
	GoroutineCount int     `json:"goroutine_count"`
	OpenFDCount    int     `json:"open_fd_count"`
}

// HealthStatus is the overall health summary (informative, control-plane adjacent).
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy" | "degraded" | "failed"
	Timestamp time.Time              `json:"timestamp"`
	Uptime    time.Duration          `json:"uptime"`
	Hosts     []HostStatus           `json:"hosts"`
	Resources ResourceStatus         `json:"resources"`
}
