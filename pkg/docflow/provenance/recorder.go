// Package provenance records the audit trail of a run and renders it as a
// provenance graph.
//
// A Recorder appends immutable trace entries. Stages record into a fresh
// Recorder and hand its entries to the state merge, which appends them to the
// run's execution trace. Export turns a committed run's trace into a graph of
// entities, activities and agents.
package provenance

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/docflow/pkg/docflow/run"
)

// Entity kinds used in trace references ("<kind>:<id>").
const (
	KindDocument      = "document"
	KindOutput        = "output"
	KindGoal          = "goal"
	KindTermContext   = "term_context"
	KindStrategy      = "strategy"
	KindDecision      = "decision"
	KindInsights      = "insights"
	KindTermEvolution = "term_evolution"
	KindRun           = "run"
)

// Ref builds a trace reference.
func Ref(kind, id string) string {
	return kind + ":" + id
}

// ParseRef splits a reference into kind and id. A reference without a kind
// prefix is returned with kind "entity".
func ParseRef(ref string) (kind, id string) {
	k, v, ok := strings.Cut(ref, ":")
	if !ok {
		return "entity", ref
	}
	return k, v
}

// Recorder appends trace entries. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []run.TraceEntry
	clock   func() time.Time
	newID   func() string
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock sets the time source. Defaults to time.Now in UTC.
func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) {
		r.clock = clock
	}
}

// WithIDGenerator sets the entry id generator. Defaults to random UUIDs.
func WithIDGenerator(gen func() string) Option {
	return func(r *Recorder) {
		r.newID = gen
	}
}

// NewRecorder creates an empty recorder.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		clock: func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one entry and returns it. Slices and the parameter map are
// copied; later changes by the caller do not affect the recorded entry.
func (r *Recorder) Record(activity, actor string, inputs, outputs []string, params map[string]any) run.TraceEntry {
	if inputs == nil {
		inputs = []string{}
	}
	if outputs == nil {
		outputs = []string{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := run.TraceEntry{
		ID:               r.newID(),
		ActivityType:     activity,
		Actor:            actor,
		Timestamp:        r.clock(),
		InputsUsed:       slices.Clone(inputs),
		OutputsGenerated: slices.Clone(outputs),
		Parameters:       run.CloneParameters(params),
	}
	r.entries = append(r.entries, e)
	return e.Clone()
}

// Entries returns a copy of everything recorded so far, in order.
func (r *Recorder) Entries() []run.TraceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]run.TraceEntry, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Clone()
	}
	return out
}

// Len returns the number of recorded entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
