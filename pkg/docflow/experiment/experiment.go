// Package experiment supplies the experiment description and documents a run
// analyses. Experiment and document CRUD live elsewhere; the orchestrator
// only reads through Source.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/docflow/pkg/docflow/run"
)

// Experiment is the read-only input to a run.
type Experiment struct {
	ID          string            `json:"id" yaml:"id"`
	UserID      string            `json:"user_id,omitempty" yaml:"user_id"`
	Name        string            `json:"name,omitempty" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Documents   []run.DocumentRef `json:"documents" yaml:"documents"`
}

// Document returns the document with the given id.
func (e *Experiment) Document(id string) (run.DocumentRef, bool) {
	for _, d := range e.Documents {
		if d.ID == id {
			return d, true
		}
	}
	return run.DocumentRef{}, false
}

// Source loads experiments by id.
// Implementations must be safe for concurrent use.
type Source interface {
	// Load returns the experiment or an error wrapping ErrNotFound.
	Load(ctx context.Context, id string) (*Experiment, error)
}

// ErrNotFound indicates the experiment does not exist.
var ErrNotFound = errors.New("experiment not found")

// Catalog is an in-memory Source.
type Catalog struct {
	mu          sync.RWMutex
	experiments map[string]*Experiment
}

// NewCatalog creates a catalog holding the given experiments.
func NewCatalog(exps ...*Experiment) *Catalog {
	c := &Catalog{experiments: make(map[string]*Experiment)}
	for _, e := range exps {
		c.experiments[e.ID] = e
	}
	return c
}

// Put adds or replaces an experiment.
func (c *Catalog) Put(e *Experiment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.experiments[e.ID] = e
}

// Load implements Source.
func (c *Catalog) Load(_ context.Context, id string) (*Experiment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.experiments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *e
	cp.Documents = append([]run.DocumentRef(nil), e.Documents...)
	return &cp, nil
}

// catalogFile is the on-disk YAML layout.
type catalogFile struct {
	Experiments []*Experiment `yaml:"experiments"`
}

// FromYAML parses a catalog document of the form
//
//	experiments:
//	  - id: exp-1
//	    description: ...
//	    documents:
//	      - id: doc1
//	        summary: ...
//	        content: ...
func FromYAML(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	for i, e := range f.Experiments {
		if e == nil || e.ID == "" {
			return nil, fmt.Errorf("experiment %d: id is required", i)
		}
		seen := make(map[string]bool, len(e.Documents))
		for _, d := range e.Documents {
			if d.ID == "" {
				return nil, fmt.Errorf("experiment %s: document id is required", e.ID)
			}
			if seen[d.ID] {
				return nil, fmt.Errorf("experiment %s: duplicate document %s", e.ID, d.ID)
			}
			seen[d.ID] = true
		}
	}
	return NewCatalog(f.Experiments...), nil
}

// FromFile loads a YAML catalog from path.
func FromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return FromYAML(data)
}
