/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps the most recent log entries in memory so the API
// can serve a log tail without external tooling.
package logbuffer

import (
	"encoding/json"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogEntry represents a single log entry.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Buffer is a thread-safe ring buffer for log entries.
type Buffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	capacity int
	head     int
	count    int
}

// New creates a buffer holding up to capacity entries (1000 when zero).
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Buffer{
		entries:  make([]LogEntry, capacity),
		capacity: capacity,
	}
}

// Add appends entry, overwriting the oldest once full.
func (b *Buffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// GetAll returns all log entries in chronological order.
func (b *Buffer) GetAll() []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]LogEntry, b.count)
	start := 0
	if b.count == b.capacity {
		start = b.head
	}
	for i := range b.count {
		result[i] = b.entries[(start+i)%b.capacity]
	}
	return result
}

// QueryParams filters a Query. Zero values match everything.
type QueryParams struct {
	Level      string
	Component  string
	SessionID  string
	Search     string // case-insensitive, matched against message, component and string fields
	Since      time.Time
	Limit      int
	Descending bool // newest first
}

// Query returns log entries matching params.
func (b *Buffer) Query(params QueryParams) []LogEntry {
	search := strings.ToLower(params.Search)

	filtered := make([]LogEntry, 0)
	for _, entry := range b.GetAll() {
		if params.Level != "" && entry.Level != params.Level {
			continue
		}
		if params.Component != "" && entry.Component != params.Component {
			continue
		}
		if params.SessionID != "" && entry.SessionID != params.SessionID {
			continue
		}
		if !params.Since.IsZero() && entry.Timestamp.Before(params.Since) {
			continue
		}
		if search != "" && !entry.matches(search) {
			continue
		}
		filtered = append(filtered, entry)
	}

	if params.Descending {
		for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		}
	}
	if params.Limit > 0 && len(filtered) > params.Limit {
		filtered = filtered[:params.Limit]
	}
	return filtered
}

func (e LogEntry) matches(lowered string) bool {
	if strings.Contains(strings.ToLower(e.Message), lowered) ||
		strings.Contains(strings.ToLower(e.Component), lowered) {
		return true
	}
	for _, v := range e.Fields {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), lowered) {
			return true
		}
	}
	return false
}

// Stats summarizes buffer contents.
type Stats struct {
	Capacity   int            `json:"capacity"`
	Count      int            `json:"count"`
	LevelCount map[string]int `json:"level_count"`
	Components []string       `json:"components"`
}

// Stats returns counts per level and the sorted set of components seen.
func (b *Buffer) Stats() Stats {
	stats := Stats{
		Capacity:   b.capacity,
		LevelCount: make(map[string]int),
		Components: []string{},
	}
	seen := make(map[string]bool)
	for _, entry := range b.GetAll() {
		stats.Count++
		stats.LevelCount[entry.Level]++
		if entry.Component != "" && !seen[entry.Component] {
			seen[entry.Component] = true
			stats.Components = append(stats.Components, entry.Component)
		}
	}
	sort.Strings(stats.Components)
	return stats
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
}

// Writer captures zerolog JSON lines into a Buffer and passes them through
// to an optional fallback.
type Writer struct {
	buffer   *Buffer
	fallback io.Writer
}

// NewWriter creates a writer that captures logs to the buffer.
func NewWriter(buffer *Buffer, fallback io.Writer) *Writer {
	return &Writer{buffer: buffer, fallback: fallback}
}

// Write implements io.Writer. Lines that are not JSON objects are passed
// through but not captured.
func (w *Writer) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err == nil {
		w.buffer.Add(entryFromFields(raw))
	}

	if w.fallback != nil {
		return w.fallback.Write(p)
	}
	return len(p), nil
}

func entryFromFields(raw map[string]any) LogEntry {
	entry := LogEntry{Timestamp: time.Now().UTC()}

	take := func(key string) string {
		s, _ := raw[key].(string)
		delete(raw, key)
		return s
	}
	entry.Level = take("level")
	entry.Message = take("message")
	entry.Component = take("component")
	entry.SessionID = take("session_id")

	switch ts := raw["time"].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			entry.Timestamp = t
		}
	case float64:
		entry.Timestamp = time.Unix(int64(ts), 0).UTC()
	}
	delete(raw, "time")

	if len(raw) > 0 {
		entry.Fields = raw
	}
	return entry
}
