// Package types provides core data structures for the runtime core.
package types

import (
	"encoding/json"
	"sync"
)

// MetadataCOW implements a copy-on-write string map that is thread-safe and
// allows efficient sharing between MessageBody rows a fan-out shares across
// many MessageHeader legs (spec §3.2 invariant: "body content is never
// duplicated for shared legs").
//
// When marked as readonly, any modification attempt triggers a deep copy
// first, so the shared body's metadata is never mutated through one leg's
// view of it.
type MetadataCOW struct {
	mu       sync.RWMutex
	data     map[string]string
	readonly bool
}

// MarshalJSON implements json.Marshaler for MetadataCOW.
func (l *MetadataCOW) MarshalJSON() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.Marshal(l.data)
}

// UnmarshalJSON implements json.Unmarshaler for MetadataCOW.
func (l *MetadataCOW) UnmarshalJSON(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.data == nil {
		l.data = make(map[string]string)
	}
	return json.Unmarshal(data, &l.data)
}

// NewMetadataCOW creates a new MetadataCOW with an empty map.
func NewMetadataCOW() *MetadataCOW {
	return &MetadataCOW{
		data: make(map[string]string),
	}
}

// NewMetadataCOWFromMap creates a new MetadataCOW from an existing map.
// The map is copied to ensure independence from the source.
func NewMetadataCOWFromMap(m map[string]string) *MetadataCOW {
	data := make(map[string]string, len(m))
	for k, v := range m {
		data[k] = v
	}
	return &MetadataCOW{
		data: data,
	}
}

// Get retrieves a value by key. Returns empty string and false if not found.
func (l *MetadataCOW) Get(key string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	val, ok := l.data[key]
	return val, ok
}

// Set sets a key-value pair. If the MetadataCOW is readonly, it performs
// a copy-on-write before modifying.
func (l *MetadataCOW) Set(key, value string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.copyOnWriteIfNeeded()
	l.data[key] = value
}

// Delete removes a key. If the MetadataCOW is readonly, it performs
// a copy-on-write before modifying.
func (l *MetadataCOW) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.copyOnWriteIfNeeded()
	delete(l.data, key)
}

// Range iterates over all key-value pairs. The function f is called for each pair.
// If f returns false, iteration stops. f is called while holding the read lock.
func (l *MetadataCOW) Range(f func(key, value string) bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for k, v := range l.data {
		if !f(k, v) {
			break
		}
	}
}

// Len returns the number of entries.
func (l *MetadataCOW) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.data)
}

// Clone creates a deep copy of the MetadataCOW. The clone is never readonly,
// regardless of the source's state.
func (l *MetadataCOW) Clone() *MetadataCOW {
	l.mu.RLock()
	defer l.mu.RUnlock()

	data := make(map[string]string, len(l.data))
	for k, v := range l.data {
		data[k] = v
	}
	return &MetadataCOW{
		data:     data,
		readonly: false,
	}
}

// MarkReadOnly marks this MetadataCOW as readonly. Any subsequent
// modification triggers a copy-on-write first.
func (l *MetadataCOW) MarkReadOnly() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readonly = true
}

// IsReadOnly returns whether this MetadataCOW is marked as readonly.
func (l *MetadataCOW) IsReadOnly() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.readonly
}

// ToMap returns a copy of the internal map.
func (l *MetadataCOW) ToMap() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make(map[string]string, len(l.data))
	for k, v := range l.data {
		result[k] = v
	}
	return result
}

// Merge adds all key-value pairs from the given map. If the MetadataCOW is
// readonly, it performs a copy-on-write before modifying.
func (l *MetadataCOW) Merge(m map[string]string) {
	if len(m) == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.copyOnWriteIfNeeded()

	for k, v := range m {
		l.data[k] = v
	}
}

// copyOnWriteIfNeeded performs a deep copy of the internal map if readonly.
// Must be called while holding the write lock.
func (l *MetadataCOW) copyOnWriteIfNeeded() {
	if !l.readonly {
		return
	}

	newData := make(map[string]string, len(l.data))
	for k, v := range l.data {
		newData[k] = v
	}
	l.data = newData
	l.readonly = false
}

// ShareReadOnly returns a view that shares the same underlying map as l.
// Both l and the returned view are marked readonly so that a write on
// either side triggers copy-on-write instead of mutating shared state —
// this is what lets n fan-out headers reference one MessageBody's metadata
// without risk of one leg's later annotation leaking into another's.
func (l *MetadataCOW) ShareReadOnly() *MetadataCOW {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.readonly = true

	return &MetadataCOW{
		data:     l.data,
		readonly: true,
	}
}

// Clear removes all entries. If the MetadataCOW is readonly, it allocates a
// new empty map instead of clearing the shared one.
func (l *MetadataCOW) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.readonly {
		l.data = make(map[string]string)
		l.readonly = false
	} else {
		for k := range l.data {
			delete(l.data, k)
		}
	}
}

// Has checks if a key exists.
func (l *MetadataCOW) Has(key string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.data[key]
	return ok
}
