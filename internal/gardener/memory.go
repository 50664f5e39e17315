package gardener

import (
	"encoding/json"
	"log/slog"
	"os"
)

const maxRecords = 10

// CycleRecord captures what happened in a single gardener cycle.
type CycleRecord struct {
	Tick        uint64  `json:"tick"`
	Action      string  `json:"action"`
	Target      string  `json:"target,omitempty"`
	CrisisLevel string  `json:"crisis_level"`
	Stability   float64 `json:"stability"`
	MarketFloor float64 `json:"market_floor"`
	Rationale   string  `json:"rationale,omitempty"`
}

// CycleMemory manages a ring of recent gardener cycle records.
type CycleMemory struct {
	Records []CycleRecord `json:"records"`

	path string
}

// LoadMemory reads the memory file at path. Returns empty memory if it is
// missing or unreadable; an empty path keeps memory in-process only.
func LoadMemory(path string) *CycleMemory {
	mem := &CycleMemory{path: path}
	if path == "" {
		return mem
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mem
	}
	if err := json.Unmarshal(data, mem); err != nil {
		slog.Warn("gardener memory corrupted, starting fresh", "error", err)
		return &CycleMemory{path: path}
	}
	return mem
}

// Save writes the memory to disk.
func (m *CycleMemory) Save() {
	if m.path == "" {
		return
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		slog.Error("failed to marshal gardener memory", "error", err)
		return
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		slog.Error("failed to write gardener memory", "error", err)
	}
}

// Record adds a cycle record, trimming to maxRecords.
func (m *CycleMemory) Record(r CycleRecord) {
	m.Records = append(m.Records, r)
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
}

// RecentlyTended reports whether target received an intervention in the
// last n cycles.
func (m *CycleMemory) RecentlyTended(target string, n int) bool {
	start := max(0, len(m.Records)-n)
	for _, r := range m.Records[start:] {
		if r.Action != ActionNone && r.Target == target {
			return true
		}
	}
	return false
}
