// Package types - configuration tree for a production (spec §6.2).
package types

import "time"

// ProductionConfig is the root configuration object: one production, many
// items (hosts), loaded and validated by internal/config.
type ProductionConfig struct {
	ProjectID string      `yaml:"project_id"`
	Name      string      `yaml:"name"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	HotReload   HotReloadConfig   `yaml:"hot_reload"`
	Control     ControlPlaneConfig `yaml:"control_plane"`
	Tracing     EngineTracingConfig `yaml:"tracing"`
	DeadLetters DeadLetterConfig  `yaml:"dead_letters"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Cleanup     CleanupConfig     `yaml:"cleanup"`
	Items       []ItemConfig      `yaml:"items"`
}

// DeadLetterConfig controls the on-disk dead-letter sink every queue-driven
// host's discarded envelopes are routed to (spec §7).
type DeadLetterConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Directory     string        `yaml:"directory"`
	QueueSize     int           `yaml:"queue_size"`
	MaxFileSizeMB int64         `yaml:"max_file_size_mb"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// PersistenceConfig controls queue-snapshot-at-shutdown (spec §7).
type PersistenceConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

// MonitoringConfig controls process resource monitoring and alerting.
type MonitoringConfig struct {
	Enabled             bool          `yaml:"enabled"`
	CheckInterval       time.Duration `yaml:"check_interval"`
	GoroutineThreshold  int           `yaml:"goroutine_threshold"`
	MemoryThresholdMB   int64         `yaml:"memory_threshold_mb"`
	FDThreshold         int           `yaml:"fd_threshold"`
	GrowthRateThreshold float64       `yaml:"growth_rate_threshold"`
	AlertWebhookURL     string        `yaml:"alert_webhook_url"`
	AlertOnThreshold    bool          `yaml:"alert_on_threshold"`
}

// CleanupConfig controls disk-space pruning of file-adapter archive/error
// directories. Directories is normally left empty and derived from the
// deployed items' adapter paths; explicit entries here are pruned in
// addition to those.
type CleanupConfig struct {
	Enabled                bool                  `yaml:"enabled"`
	CheckInterval          time.Duration         `yaml:"check_interval"`
	CriticalSpaceThreshold float64               `yaml:"critical_space_threshold"`
	WarningSpaceThreshold  float64               `yaml:"warning_space_threshold"`
	Directories            []CleanupDirectoryConfig `yaml:"directories"`
}

// CleanupDirectoryConfig is one extra directory to prune beyond the
// deployed items' own archive/error/work paths.
type CleanupDirectoryConfig struct {
	Path              string   `yaml:"path"`
	MaxSizeMB         int64    `yaml:"max_size_mb"`
	RetentionDays     int      `yaml:"retention_days"`
	FilePatterns      []string `yaml:"file_patterns"`
	MaxFiles          int      `yaml:"max_files"`
	CleanupAgeSeconds int      `yaml:"cleanup_age_seconds"`
}

// MetricsConfig controls the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// ControlPlaneConfig controls the informative REST surface (spec §6.3).
type ControlPlaneConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
}

// HotReloadConfig controls the fsnotify-driven config watcher (spec §6.3 Reload).
type HotReloadConfig struct {
	Enabled          bool          `yaml:"enabled"`
	WatchFiles       []string      `yaml:"watch_files"`
	DebounceInterval time.Duration `yaml:"debounce_interval"`
}

// EngineTracingConfig controls optional OpenTelemetry span emission per leg.
type EngineTracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	Exporter     string `yaml:"exporter"` // "otlphttp" | "jaeger" | "none"
	Endpoint     string `yaml:"endpoint"`
	SamplerRatio float64 `yaml:"sampler_ratio"`
}

// ItemConfig is one configured item — a Host plus its adapter and phase-2
// runtime fields (spec §6.2 item-level + settings sub-tree).
type ItemConfig struct {
	Name         string `yaml:"name"`
	ClassName    string `yaml:"class_name"`
	Category     string `yaml:"category"`
	Comment      string `yaml:"comment"`
	Enabled      bool   `yaml:"enabled"`
	Foreground   bool   `yaml:"foreground"`
	LogTraceEvents bool `yaml:"log_trace_events"`
	Schedule     string `yaml:"schedule"`

	Kind HostKind `yaml:"kind"`

	PoolSize         int              `yaml:"pool_size"`
	ExecutionMode    ExecutionMode    `yaml:"execution_mode"`
	QueueType        QueueType        `yaml:"queue_type"`
	QueueSize        int              `yaml:"queue_size"`
	OverflowStrategy OverflowStrategy `yaml:"overflow_strategy"`
	RestartPolicy    RestartPolicy    `yaml:"restart_policy"`
	MaxRestarts      int              `yaml:"max_restarts"`
	RestartDelay     time.Duration    `yaml:"restart_delay"`
	MessagingPattern MessagingPattern `yaml:"messaging_pattern"`
	MessageTimeout   time.Duration    `yaml:"message_timeout"`

	Adapter AdapterConfig `yaml:"adapter"`
	Host    HostSettings  `yaml:"host"`
}

// AdapterConfig is the adapter.* settings sub-tree (spec §6.2), opaque to
// the host and delivered to whichever adapter constructor the class name
// resolves to.
type AdapterConfig struct {
	Kind string `yaml:"kind"` // "mllp" | "http" | "file" | "kafka"

	// MLLP inbound / outbound
	Port            int           `yaml:"port"`
	IPAddress       string        `yaml:"ip_address"`
	StayConnected   int           `yaml:"stay_connected"` // 0, -1
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	ReconnectRetry  int           `yaml:"reconnect_retry"`
	LocalInterface  string        `yaml:"local_interface"`
	SSL             TLSConfig     `yaml:"ssl_config"`

	// HTTP inbound / outbound
	BasePath       string            `yaml:"base_path"`
	AllowedMethods []string          `yaml:"allowed_methods"`
	MaxBodySize    int64             `yaml:"max_body_size"`
	EnableCORS     bool              `yaml:"enable_cors"`
	URL            string            `yaml:"url"`
	Method         string            `yaml:"method"`
	ContentType    string            `yaml:"content_type"`
	CustomHeaders  map[string]string `yaml:"custom_headers"`
	Compress       bool              `yaml:"compress"`
	// CompressAlgorithm selects the pkg/compression algorithm used when
	// Compress is true: gzip, zlib, zstd, lz4, snappy, or auto (size-based
	// selection). Empty defaults to gzip.
	CompressAlgorithm string `yaml:"compress_algorithm"`

	// File inbound / outbound
	FilePath         string        `yaml:"file_path"`
	FileSpec         string        `yaml:"file_spec"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	ArchivePath      string        `yaml:"archive_path"`
	WorkPath         string        `yaml:"work_path"`
	ErrorPath        string        `yaml:"error_path"`
	SemaphoreSpec    string        `yaml:"semaphore_spec"`
	FilenameTemplate string        `yaml:"filename_template"`
	Overwrite        bool          `yaml:"overwrite"`

	// Kafka outbound (domain-stack enrichment, not in spec's adapter list)
	Brokers []string     `yaml:"brokers"`
	Topic   string       `yaml:"topic"`
	Auth    KafkaAuthConfig `yaml:"auth"`
}

// KafkaAuthConfig configures SASL/SCRAM authentication for the Kafka outbound adapter.
type KafkaAuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Mechanism string `yaml:"mechanism"` // "SCRAM-SHA-256" | "SCRAM-SHA-512"
	Username  string `yaml:"username"`
	SecretRef string `yaml:"secret_ref"`
}

// TLSConfig configuration for TLS connections, shared by every adapter kind.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// HostSettings is the host.* settings sub-tree (spec §6.2), keyed per host kind.
type HostSettings struct {
	// HL7 service (inbound)
	MessageSchemaCategory string   `yaml:"message_schema_category"`
	TargetConfigNames     []string `yaml:"target_config_names"`
	AckMode               AckMode  `yaml:"ack_mode"`
	UseAckCommitCodes     bool     `yaml:"use_ack_commit_codes"`

	// Routing process
	BusinessRuleName string `yaml:"business_rule_name"`
	ValidationSchema string `yaml:"validation_schema"`
	RuleLogging      bool   `yaml:"rule_logging"`

	// HL7 operation (outbound)
	ReplyCodeActions string        `yaml:"reply_code_actions"`
	ArchiveIO        bool          `yaml:"archive_io"`
	FailureTimeout   time.Duration `yaml:"failure_timeout"`
	RetryInterval    time.Duration `yaml:"retry_interval"`

	// Outbound send pacing ahead of MessageTimeout enforcement. RateLimit
	// of 0 leaves the operation unpaced.
	RateLimit      float64 `yaml:"rate_limit"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}
