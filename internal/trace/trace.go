// Package trace implements the Persisted Trace (spec §3.2): an append-only
// record of every message_body and message_header row the engine produces,
// one header per leg, ordered by a monotonic sequence_num and linked by
// session/parent/corresponding relationships. Grounded on the teacher's
// RWMutex-guarded stats store (internal/dispatcher's StatsCollector) and
// its xxhash/sha256 dedup cache, generalized from in-memory counters to an
// indexed, queryable store.
package trace

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hie-engine/runtime-core/internal/metrics"
	"github.com/hie-engine/runtime-core/pkg/deduplication"
	"github.com/hie-engine/runtime-core/pkg/errors"
	"github.com/hie-engine/runtime-core/pkg/types"
)

// Store is the in-process implementation of types.Trace. It never forgets a
// row: retention/archival is out of scope (spec Non-goals), so callers that
// need bounded memory must run an external reaper against GetHeader's age.
type Store struct {
	mu sync.RWMutex

	bodies  map[string]*types.MessageBody
	headers map[string]*types.MessageHeader

	// bySession preserves insertion order, which is also sequence_num
	// order since both only ever grow at the tail.
	bySession map[string][]string

	seq int64

	dedup  *deduplication.Cache
	logger *logrus.Logger
}

// New constructs a Persisted Trace store. dedup may be nil to disable
// content-checksum deduplication of message bodies.
func New(dedup *deduplication.Cache, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{
		bodies:    make(map[string]*types.MessageBody),
		headers:   make(map[string]*types.MessageHeader),
		bySession: make(map[string][]string),
		dedup:     dedup,
		logger:    logger,
	}
}

// StoreBody persists a message_body row, reusing the row already holding
// identical content when a dedup cache is configured (spec §3.2 P7).
func (s *Store) StoreBody(body *types.MessageBody) (string, error) {
	if body == nil {
		return "", errors.ValidationErr("store_body", "nil message body")
	}

	var checksum string
	if s.dedup != nil {
		if existingID, cs, found := s.dedup.Lookup(body.RawContent); found {
			checksum = cs
			s.mu.RLock()
			_, exists := s.bodies[existingID]
			s.mu.RUnlock()
			if exists {
				return existingID, nil
			}
		} else {
			checksum = cs
		}
	} else {
		checksum = deduplication.CanonicalChecksum(body.RawContent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if body.ID == "" {
		body.ID = uuid.NewString()
	}
	body.Checksum = checksum
	body.ContentSize = len(body.RawContent)
	if body.CreatedAt.IsZero() {
		body.CreatedAt = time.Now()
	}
	s.bodies[body.ID] = body

	if s.dedup != nil {
		s.dedup.Record(body.RawContent, checksum, body.ID)
	}

	metrics.ObserveTraceBodyStored(body.BodyClassName)
	return body.ID, nil
}

// StoreHeader persists a message_header row, assigning the next
// sequence_num (spec §3.2: "sequence_num is monotonically increasing and
// defines total order across all legs").
func (s *Store) StoreHeader(header *types.MessageHeader) (string, error) {
	if header == nil {
		return "", errors.ValidationErr("store_header", "nil message header")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if header.ID == "" {
		header.ID = uuid.NewString()
	}
	header.SequenceNum = atomic.AddInt64(&s.seq, 1)
	if header.TimeCreated.IsZero() {
		header.TimeCreated = time.Now()
	}
	if header.Status == "" {
		header.Status = types.StatusCreated
	}

	s.headers[header.ID] = header
	s.bySession[header.SessionID] = append(s.bySession[header.SessionID], header.ID)

	metrics.ObserveTraceHeaderStored(string(header.SourceBusinessType), string(header.TargetBusinessType))
	return header.ID, nil
}

// UpdateHeaderStatus transitions a header's status. Once a header reaches a
// terminal status (spec §3.2 / types.HeaderStatus.IsTerminal) a further
// transition is rejected: terminal status is a write-once fact about a leg.
func (s *Store) UpdateHeaderStatus(headerID string, status types.HeaderStatus, isError bool, errorStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	header, ok := s.headers[headerID]
	if !ok {
		return errors.ValidationErr("update_header_status", fmt.Sprintf("unknown header %s", headerID))
	}
	if header.Status.IsTerminal() {
		return errors.ValidationErr("update_header_status",
			fmt.Sprintf("header %s already terminal at %s, cannot transition to %s", headerID, header.Status, status))
	}

	header.Status = status
	header.IsError = isError
	header.ErrorStatus = errorStatus
	if status.IsTerminal() {
		now := time.Now()
		header.TimeProcessed = &now
	}

	metrics.ObserveTraceHeaderStatus(string(status), isError)
	return nil
}

// TraceForSession returns every leg recorded for a session, in sequence_num
// order, for replay/audit (spec §3.2).
func (s *Store) TraceForSession(sessionID string) ([]types.MessageHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.bySession[sessionID]
	out := make([]types.MessageHeader, 0, len(ids))
	for _, id := range ids {
		if h, ok := s.headers[id]; ok {
			out = append(out, *h)
		}
	}
	return out, nil
}

// GetHeader returns a copy of a single header row.
func (s *Store) GetHeader(headerID string) (*types.MessageHeader, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.headers[headerID]
	if !ok {
		return nil, false
	}
	cp := *h
	return &cp, true
}

// GetBody returns a copy of a single message body row.
func (s *Store) GetBody(bodyID string) (*types.MessageBody, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bodies[bodyID]
	if !ok {
		return nil, false
	}
	cp := *b
	return &cp, true
}

var _ types.Trace = (*Store)(nil)
