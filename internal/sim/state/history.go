// Package state records per-tick snapshots of every node for later
// inspection and export.
package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/dtn-simulator/internal/payload"
	"github.com/signalsfoundry/dtn-simulator/internal/routing"
)

// NodeRecord is one node's state at the end of a tick.
type NodeRecord struct {
	ID      int64                `json:"id"`
	Name    string               `json:"name"`
	Role    string               `json:"role"`
	Routing *routing.State       `json:"routing_protocol,omitempty"`
	Router  *payload.RouterState `json:"payload_handler,omitempty"`
	Client  *payload.ClientState `json:"client,omitempty"`
}

// TickRecord holds every node's state at the end of one tick.
type TickRecord struct {
	Tick  int64        `json:"tick"`
	Nodes []NodeRecord `json:"nodes"`
}

// History is an append-only log of tick records. With a positive limit only
// the most recent records are retained. It is safe for concurrent use so a
// server can read it while the engine appends.
type History struct {
	mu      sync.RWMutex
	limit   int
	records []TickRecord
}

// NewHistory returns a history that keeps at most limit records; zero or
// negative keeps everything.
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// Append adds rec.
func (h *History) Append(rec TickRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	if h.limit > 0 && len(h.records) > h.limit {
		h.records = append([]TickRecord(nil), h.records[len(h.records)-h.limit:]...)
	}
}

// Records returns a copy of the retained records, oldest first.
func (h *History) Records() []TickRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]TickRecord(nil), h.records...)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Last returns the most recent record.
func (h *History) Last() (TickRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.records) == 0 {
		return TickRecord{}, false
	}
	return h.records[len(h.records)-1], true
}

// ToStruct converts rec into a protobuf Struct.
func ToStruct(rec TickRecord) (*structpb.Struct, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal tick %d: %w", rec.Tick, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal tick %d: %w", rec.Tick, err)
	}
	return structpb.NewStruct(m)
}

// WriteJSONL writes every retained record as one protojson object per line.
func (h *History) WriteJSONL(w io.Writer) error {
	bw := bufio.NewWriter(w)
	opts := protojson.MarshalOptions{UseProtoNames: true}
	for _, rec := range h.Records() {
		s, err := ToStruct(rec)
		if err != nil {
			return err
		}
		line, err := opts.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode tick %d: %w", rec.Tick, err)
		}
		if _, err := bw.Write(line); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadJSONL decodes a stream written by WriteJSONL.
func ReadJSONL(r io.Reader) ([]map[string]any, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	var out []map[string]any
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var s structpb.Struct
		if err := protojson.Unmarshal(sc.Bytes(), &s); err != nil {
			return nil, fmt.Errorf("history line %d: %w", line, err)
		}
		out = append(out, s.AsMap())
	}
	return out, sc.Err()
}
