package provenance

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/randalmurphal/docflow/pkg/docflow/run"
)

// Graph is the exported provenance document for one run. It follows the
// W3C PROV vocabulary: entities are used and generated by activities, and
// activities are associated with the agents that performed them.
type Graph struct {
	RunID        string     `json:"run_id"`
	ExperimentID string     `json:"experiment_id"`
	Status       run.Status `json:"status"`

	Entities   []Entity   `json:"entities"`
	Activities []Activity `json:"activities"`
	Agents     []Agent    `json:"agents"`

	Used              []Usage       `json:"used"`
	WasGeneratedBy    []Generation  `json:"was_generated_by"`
	WasAssociatedWith []Association `json:"was_associated_with"`
}

// Entity is a thing that was read or produced: a document, a tool output,
// the goal, the strategy, the insights.
type Entity struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// Activity is one trace entry.
type Activity struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Time       time.Time      `json:"time"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Agent performed one or more activities.
type Agent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Usage records that an activity read an entity.
type Usage struct {
	Activity string `json:"activity"`
	Entity   string `json:"entity"`
}

// Generation records that an entity was produced by an activity.
type Generation struct {
	Entity   string `json:"entity"`
	Activity string `json:"activity"`
}

// Association attributes an activity to an agent.
type Association struct {
	Activity string `json:"activity"`
	Agent    string `json:"agent"`
}

// Export renders the run's execution trace as a provenance graph. Entities
// and agents appear once, in order of first reference.
func Export(r *run.Run) *Graph {
	g := &Graph{
		RunID:             r.ID,
		ExperimentID:      r.ExperimentID,
		Status:            r.Status,
		Entities:          []Entity{},
		Activities:        []Activity{},
		Agents:            []Agent{},
		Used:              []Usage{},
		WasGeneratedBy:    []Generation{},
		WasAssociatedWith: []Association{},
	}

	seenEntity := make(map[string]bool)
	seenAgent := make(map[string]bool)
	addEntity := func(ref string) {
		if seenEntity[ref] {
			return
		}
		seenEntity[ref] = true
		kind, _ := ParseRef(ref)
		g.Entities = append(g.Entities, Entity{ID: ref, Kind: kind})
	}

	for _, e := range r.ExecutionTrace {
		g.Activities = append(g.Activities, Activity{
			ID:         e.ID,
			Type:       e.ActivityType,
			Time:       e.Timestamp,
			Parameters: maps.Clone(e.Parameters),
		})

		for _, in := range e.InputsUsed {
			addEntity(in)
			g.Used = append(g.Used, Usage{Activity: e.ID, Entity: in})
		}
		for _, out := range e.OutputsGenerated {
			addEntity(out)
			g.WasGeneratedBy = append(g.WasGeneratedBy, Generation{Entity: out, Activity: e.ID})
		}

		if e.Actor != "" {
			agentID := "agent:" + e.Actor
			if !seenAgent[agentID] {
				seenAgent[agentID] = true
				g.Agents = append(g.Agents, Agent{ID: agentID, Name: e.Actor})
			}
			g.WasAssociatedWith = append(g.WasAssociatedWith, Association{Activity: e.ID, Agent: agentID})
		}
	}

	return g
}

// CountActivities returns how many activities of the given type the graph holds.
func (g *Graph) CountActivities(activityType string) int {
	n := 0
	for _, a := range g.Activities {
		if a.Type == activityType {
			n++
		}
	}
	return n
}

// ActivitiesBy returns the ids of activities associated with the agent name.
func (g *Graph) ActivitiesBy(actor string) []string {
	agentID := "agent:" + actor
	var ids []string
	for _, a := range g.WasAssociatedWith {
		if a.Agent == agentID {
			ids = append(ids, a.Activity)
		}
	}
	return ids
}

// JSON returns the indented JSON document.
func (g *Graph) JSON() ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}
