// Package types - persisted trace row structures (message_bodies /
// message_headers, spec §3.2) and the circuit-breaker vocabulary shared by
// pkg/circuit_breaker and the outbound operation host.
package types

import "time"

// MessageBody is one row per unique piece of content (spec §3.2).
type MessageBody struct {
	ID            string            `json:"id"`
	BodyClassName string            `json:"body_class_name"`
	ContentType   string            `json:"content_type"`
	RawContent    []byte            `json:"-"`
	ContentSize   int               `json:"content_size"`
	Checksum      string            `json:"checksum"`

	// HL7-specific indexed columns, populated when ContentType is HL7 ER7.
	SchemaCategory      string `json:"schema_category,omitempty"`
	SchemaName          string `json:"schema_name,omitempty"`
	MessageControlID    string `json:"message_control_id,omitempty"`
	SendingApplication  string `json:"sending_application,omitempty"`
	SendingFacility     string `json:"sending_facility,omitempty"`

	// FHIR-specific indexed columns, populated when ContentType is FHIR.
	FHIRVersion      string `json:"fhir_version,omitempty"`
	FHIRResourceType string `json:"fhir_resource_type,omitempty"`
	FHIRResourceID   string `json:"fhir_resource_id,omitempty"`

	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// MessageHeader is one row per leg — one directed edge from a source host
// to a target host (spec §3.2). Exactly one arrow on the sequence diagram
// corresponds to exactly one MessageHeader row.
type MessageHeader struct {
	ID          string `json:"id"`
	SequenceNum int64  `json:"sequence_num"`
	ProjectID   string `json:"project_id"`

	SessionID            string  `json:"session_id"`
	ParentHeaderID       *string `json:"parent_header_id,omitempty"`
	CorrespondingHeaderID *string `json:"corresponding_header_id,omitempty"`
	SuperSessionID       *string `json:"super_session_id,omitempty"`

	SourceConfigName   string       `json:"source_config_name"`
	TargetConfigName   string       `json:"target_config_name"`
	SourceBusinessType BusinessType `json:"source_business_type"`
	TargetBusinessType BusinessType `json:"target_business_type"`

	MessageType   string  `json:"message_type,omitempty"`
	BodyClassName string  `json:"body_class_name,omitempty"`
	MessageBodyID *string `json:"message_body_id,omitempty"`

	Type       HeaderType     `json:"type"`
	Invocation Invocation     `json:"invocation"`
	Priority   HeaderPriority `json:"priority"`

	Status      HeaderStatus `json:"status"`
	IsError     bool         `json:"is_error"`
	ErrorStatus string       `json:"error_status,omitempty"`

	TimeCreated   time.Time  `json:"time_created"`
	TimeProcessed *time.Time `json:"time_processed,omitempty"`

	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CircuitBreakerState is one of Closed/Open/HalfOpen.
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerOpen     CircuitBreakerState = "open"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
)

// CircuitBreakerStats reports the running counters of a circuit breaker.
type CircuitBreakerStats struct {
	State         CircuitBreakerState `json:"state"`
	Failures      int64               `json:"failures"`
	Successes     int64               `json:"successes"`
	Requests      int64               `json:"requests"`
	LastFailure   time.Time           `json:"last_failure"`
	LastSuccess   time.Time           `json:"last_success"`
	NextRetryTime time.Time           `json:"next_retry_time"`
}

// CircuitBreaker executes calls through a failure-counting gate, used by
// outbound adapters to stop hammering a peer that is classified as down.
type CircuitBreaker interface {
	Execute(fn func() error) error
	State() CircuitBreakerState
	IsOpen() bool
	Reset()
	GetStats() CircuitBreakerStats
}
