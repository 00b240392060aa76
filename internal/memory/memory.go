// Package memory implements the Memory Bank (§4.5): a persistent,
// similarity-scored store mapping Fault Signatures to the best known
// recovery action, modeled on original_source/learning.py's MemoryBank but
// restructured around the engine's shared fault.Signature type and an
// atomic, concurrency-safe file format (§6 "Memory file").
package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/fault"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/recoveryaction"
)

// maxExamples is the cap on retained example entries per signature (§4.5).
const maxExamples = 5

// Stats tracks the success/total counters backing a signature's success
// rate (§4.5).
type Stats struct {
	Success int `json:"success"`
	Total   int `json:"total"`
}

// SuccessRate returns Success/Total, or 0 if Total is zero.
func (s Stats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Success) / float64(s.Total)
}

// Example is one retained (action, keywords) sample kept for explainability
// (§4.5); at most maxExamples are kept per entry.
type Example struct {
	Action   recoveryaction.Action `json:"action"`
	Keywords []string              `json:"keywords"`
}

// Entry is one stored signature -> best-action record (§6 "Memory file").
type Entry struct {
	Signature fault.Signature       `json:"signature"`
	Action    recoveryaction.Action `json:"action"`
	Stats     Stats                 `json:"stats"`
	Examples  []Example             `json:"examples"`
}

// Bank is the in-process Memory Bank, optionally backed by a file on disk.
// A Bank is safe for concurrent use: Upsert and Query both hold the
// internal lock for the duration of their read/modify/persist cycle, so a
// concurrent reader observes either the pre- or the post-upsert state,
// never a torn entry (§5).
type Bank struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
}

// New constructs an empty, non-persisted Bank.
func New() *Bank {
	return &Bank{entries: make(map[string]Entry)}
}

// Open constructs a Bank backed by path, loading any existing entries. A
// missing file is treated as an empty bank, matching the Python original's
// "if path and os.path.exists(path)" guard.
func Open(path string) (*Bank, error) {
	b := &Bank{path: path, entries: make(map[string]Entry)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return b, nil
	}
	if err := json.Unmarshal(data, &b.entries); err != nil {
		return nil, err
	}
	return b, nil
}

// Upsert records one recovery-attempt outcome for signature, updating the
// stored best action and success/total counters (§4.5). It persists to
// disk immediately if the Bank was opened with a path.
func (b *Bank) Upsert(signature fault.Signature, action recoveryaction.Action, success bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := signature.Key()
	entry, ok := b.entries[key]
	if !ok {
		entry = Entry{Signature: signature}
	}
	entry.Action = action
	entry.Stats.Total++
	if success {
		entry.Stats.Success++
	}
	if len(entry.Examples) < maxExamples {
		entry.Examples = append(entry.Examples, Example{Action: action, Keywords: signature.Keywords})
	}
	b.entries[key] = entry

	return b.persistLocked()
}

// QueryResult is the Memory Bank's lookup output (§4.5): the best action
// found, its blended confidence, and the key it matched.
type QueryResult struct {
	Action     recoveryaction.Action
	Confidence float64
	MatchedKey string
	Found      bool
}

// Query finds the stored entry most similar to signature and returns its
// action together with a confidence blending match similarity and
// historical success rate: clip(0.7*similarity + 0.3*success_rate, 0, 1)
// (§4.5). Ties in similarity are broken by lexicographically smallest key
// so Query is deterministic regardless of Go's random map iteration order.
func (b *Bank) Query(signature fault.Signature) QueryResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return QueryResult{}
	}

	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bestKey := ""
	bestScore := -1.0
	var bestEntry Entry
	for _, key := range keys {
		entry := b.entries[key]
		score := similarity(signature, entry.Signature)
		if score > bestScore {
			bestScore = score
			bestKey = key
			bestEntry = entry
		}
	}

	confidence := bestScore*0.7 + bestEntry.Stats.SuccessRate()*0.3
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return QueryResult{Action: bestEntry.Action, Confidence: confidence, MatchedKey: bestKey, Found: true}
}

// similarity implements the weighted match score from §4.5: 0.3 tool name,
// 0.3 error kind, 0.2 step name, 0.2 keyword Jaccard, 0.1 state hash
// prefix.
func similarity(sig, stored fault.Signature) float64 {
	score := 0.0
	if sig.ToolName == stored.ToolName {
		score += 0.3
	}
	if sig.Kind == stored.Kind {
		score += 0.3
	}
	if sig.StepName == stored.StepName {
		score += 0.2
	}
	score += 0.2 * fault.Jaccard(sig.Keywords, stored.Keywords)
	if sig.StateHashPrefix == stored.StateHashPrefix {
		score += 0.1
	}
	return score
}

// persistLocked writes b.entries to b.path via a write-temp-then-rename
// sequence so concurrent readers never observe a partially-written file.
// Callers must hold b.mu. A Bank with no path is a no-op (in-memory only).
func (b *Bank) persistLocked() error {
	if b.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(b.entries, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, ".memory-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, b.path)
}
