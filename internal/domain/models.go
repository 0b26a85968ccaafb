package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Record is one parsed "apps installed" line.
type Record struct {
	DeviceType string
	DeviceID   string
	Lat        float64
	Lon        float64
	// HasGeo is false when the coordinate pair failed to parse.
	HasGeo bool
	Apps   []int64
}

// Key returns the cache key "<device_type>:<device_id>".
func (r Record) Key() string {
	return r.DeviceType + ":" + r.DeviceID
}

// WriteMode selects how workers hand values to the cache.
type WriteMode int

const (
	// ModeBatch accumulates values per destination and flushes them with one multi-set.
	ModeBatch WriteMode = iota
	// ModeSingle writes every value with its own set call.
	ModeSingle
)

func (m WriteMode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeBatch:
		return "batch"
	default:
		return fmt.Sprintf("WriteMode(%d)", int(m))
	}
}

// ParseWriteMode accepts "single" or "batch" (case-insensitive).
func ParseWriteMode(s string) (WriteMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "batch", "multi":
		return ModeBatch, nil
	case "single", "one":
		return ModeSingle, nil
	default:
		return 0, fmt.Errorf("unknown write mode %q", s)
	}
}

// Job is the unit of work placed on the job queue.
type Job struct {
	Record Record
	Addr   string
	Mode   WriteMode
	// LineNo is the 1-based line number in the source file, kept for audit logs.
	LineNo int
}

// Batch accumulates encoded values for one destination address.
// A Batch is owned by a single worker and is never shared.
type Batch struct {
	Addr  string
	Items map[string][]byte
	// Jobs counts every Add, including ones that replaced an existing key.
	Jobs int
}

func NewBatch(addr string) *Batch {
	return &Batch{Addr: addr, Items: make(map[string][]byte)}
}

// Add stores value under key. A repeated key replaces the previous value.
func (b *Batch) Add(key string, value []byte) {
	b.Items[key] = value
	b.Jobs++
}

func (b *Batch) Len() int { return len(b.Items) }

// Reset drops all accumulated items.
func (b *Batch) Reset() {
	b.Items = make(map[string][]byte, len(b.Items))
	b.Jobs = 0
}

// Keys returns the accumulated keys in sorted order.
func (b *Batch) Keys() []string {
	keys := make([]string, 0, len(b.Items))
	for k := range b.Items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RunCounters are the per-worker processed/error totals for one file.
type RunCounters struct {
	Processed int
	Errors    int
}

// Add sums other into c.
func (c *RunCounters) Add(other RunCounters) {
	c.Processed += other.Processed
	c.Errors += other.Errors
}

// Destinations maps device types to cache addresses. It is read-only after construction.
type Destinations struct {
	addrs map[string]string
}

// NewDestinations copies m, dropping entries with an empty type or address.
func NewDestinations(m map[string]string) Destinations {
	addrs := make(map[string]string, len(m))
	for devType, addr := range m {
		devType = strings.TrimSpace(devType)
		addr = strings.TrimSpace(addr)
		if devType == "" || addr == "" {
			continue
		}
		addrs[devType] = addr
	}
	return Destinations{addrs: addrs}
}

// Lookup resolves the cache address for a device type.
func (d Destinations) Lookup(deviceType string) (string, bool) {
	addr, ok := d.addrs[deviceType]
	return addr, ok
}

// Types returns the configured device types in sorted order.
func (d Destinations) Types() []string {
	out := make([]string, 0, len(d.addrs))
	for k := range d.addrs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Addrs returns the distinct destination addresses in sorted order.
func (d Destinations) Addrs() []string {
	seen := make(map[string]struct{}, len(d.addrs))
	out := make([]string, 0, len(d.addrs))
	for _, addr := range d.addrs {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

func (d Destinations) Len() int { return len(d.addrs) }

// DeadLetterKind classifies why an input could not be delivered.
type DeadLetterKind string

const (
	DeadLetterParse   DeadLetterKind = "parse"
	DeadLetterRouting DeadLetterKind = "routing"
	DeadLetterWrite   DeadLetterKind = "write"
)

// DeadLetter records an undelivered line or key with enough context to reprocess it.
type DeadLetter struct {
	Kind       DeadLetterKind `json:"kind"`
	File       string         `json:"file"`
	LineNo     int            `json:"lineNo,omitempty"`
	Line       string         `json:"line,omitempty"`
	DeviceType string         `json:"deviceType,omitempty"`
	Key        string         `json:"key,omitempty"`
	Addr       string         `json:"addr,omitempty"`
	Reason     string         `json:"reason"`
	Time       time.Time      `json:"time"`
}

// Report summarises one file's ingestion run. RateKnown is false when nothing was
// processed and the error ratio was skipped.
type Report struct {
	RunID     string    `json:"runId"`
	File      string    `json:"file"`
	Mode      string    `json:"mode"`
	Workers   int       `json:"workers"`
	Processed int       `json:"processed"`
	Errors    int       `json:"errors"`
	ErrorRate float64   `json:"errorRate"`
	RateKnown bool      `json:"rateKnown"`
	Accepted  bool      `json:"accepted"`
	Threshold float64   `json:"threshold"`
	DryRun    bool      `json:"dryRun"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
}
