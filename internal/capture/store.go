// internal/capture/store.go
package capture

import (
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record is one request received by the capture server. Records are immutable
// once appended; Seq is the record's position in the Store.
type Record struct {
	Path       string            `json:"path"`
	Method     string            `json:"method"`
	Body       interface{}       `json:"body"`
	Raw        string            `json:"raw"`
	Structured bool              `json:"structured"`
	Truncated  bool              `json:"truncated,omitempty"`
	Headers    map[string]string `json:"headers"`
	ReceivedAt time.Time         `json:"received_at"`
	Seq        int               `json:"seq"`
}

// JSON returns the body as a JSON object. Bodies that arrived as text are
// decoded on demand; anything that is not an object is an error.
func (r Record) JSON() (map[string]interface{}, error) {
	if r.Structured {
		if obj, ok := r.Body.(map[string]interface{}); ok {
			return obj, nil
		}
		return nil, fmt.Errorf("captured body is %T, not a JSON object", r.Body)
	}

	var obj map[string]interface{}
	if err := json.UnmarshalFromString(r.Raw, &obj); err != nil {
		return nil, fmt.Errorf("captured body is not a JSON object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("captured body is null")
	}
	return obj, nil
}

// Store is an append-only, ordered sequence of records shared between the
// capture server (writer) and the scenario driver (reader).
type Store struct {
	mu      sync.RWMutex
	records []Record
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Append adds a record at the end of the store and returns it with Seq set.
func (s *Store) Append(rec Record) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Seq = len(s.records)
	rec.Headers = copyHeaders(rec.Headers)
	s.records = append(s.records, rec)
	return rec
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// At returns the record at position i.
func (s *Store) At(i int) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.records) {
		return Record{}, false
	}
	return s.records[i], true
}

// Last returns the most recently appended record.
func (s *Store) Last() (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return Record{}, false
	}
	return s.records[len(s.records)-1], true
}

// Snapshot returns a copy of all records in arrival order.
func (s *Store) Snapshot() []Record {
	return s.Since(0)
}

// Since returns a copy of the records from position n onwards.
func (s *Store) Since(n int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n < 0 {
		n = 0
	}
	if n >= len(s.records) {
		return []Record{}
	}
	out := make([]Record, len(s.records)-n)
	copy(out, s.records[n:])
	return out
}

// Reset clears the store. It is called when a server lifecycle begins.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
