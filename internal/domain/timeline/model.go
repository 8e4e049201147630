package timeline

import (
	"sort"
	"time"

	"github.com/medsim/scenario/internal/domain/vitals"
)

// BaselineNodeID is the reserved node id of the time-zero mirror row.
const BaselineNodeID = 0

// Node maps to the timeline_node table: one timed clinical state of a
// scenario.
type Node struct {
	ScenarioID        int                 `db:"scenario_id" json:"scenario_id"`
	ID                int                 `db:"node_id" json:"id"`
	Vitals            vitals.ParameterSet `json:"vitals"`
	Action            string              `db:"action" json:"action,omitempty"`
	OnSuccess         int                 `db:"on_success" json:"on_success"`
	OnFailure         int                 `db:"on_failure" json:"on_failure"`
	AdditionalDetails string              `db:"additional_details" json:"additional_details,omitempty"`
	ParentRole        *string             `db:"parent_role" json:"parent_role,omitempty"`
	TimerSeconds      int                 `db:"timer_seconds" json:"timer_seconds"`
	IsBaseline        bool                `json:"is_baseline"`
	// Parameters is only read by SaveTimeline; graph reads leave it empty.
	Parameters []Parameter `json:"parameters,omitempty"`
}

// Timer returns the node duration.
func (n *Node) Timer() time.Duration {
	return time.Duration(n.TimerSeconds) * time.Second
}

// Access kinds.
const (
	AccessVenous   = "venous"
	AccessArterial = "arterial"
)

// VascularAccess maps to the vascular_access table. It is owned by the
// baseline of a scenario.
type VascularAccess struct {
	ID       int64  `db:"id" json:"id"`
	Kind     string `db:"kind" json:"kind"`
	Type     string `db:"type" json:"type"`
	Position string `db:"position" json:"position,omitempty"`
	Side     string `db:"side" json:"side,omitempty"`
	Gauge    string `db:"gauge" json:"gauge,omitempty"`
}

// Baseline maps to the baseline_state table: the patient state at time zero.
type Baseline struct {
	ScenarioID     int                 `db:"scenario_id" json:"scenario_id"`
	Vitals         vitals.ParameterSet `json:"vitals"`
	Monitor        string              `db:"monitor" json:"monitor,omitempty"`
	VenousAccess   []VascularAccess    `json:"venous_access"`
	ArterialAccess []VascularAccess    `json:"arterial_access"`
	UpdatedAt      time.Time           `db:"updated_at" json:"updated_at"`
}

// AsNode renders the baseline as the time-zero node of the timeline.
func (b *Baseline) AsNode() Node {
	return Node{
		ScenarioID: b.ScenarioID,
		ID:         BaselineNodeID,
		Vitals:     b.Vitals,
		IsBaseline: true,
	}
}

// Parameter maps to the additional_parameter table: a named value attached
// to a node (node 0 is the baseline).
type Parameter struct {
	ID         int64   `db:"id" json:"id"`
	ScenarioID int     `db:"scenario_id" json:"scenario_id"`
	NodeID     int     `db:"node_id" json:"node_id"`
	Name       string  `db:"name" json:"name"`
	Value      float64 `db:"value" json:"value"`
	Unit       string  `db:"unit" json:"unit"`
}

// Graph is the full timeline of one scenario.
type Graph struct {
	ScenarioID int       `json:"scenario_id"`
	Baseline   *Baseline `json:"baseline,omitempty"`
	Nodes      []Node    `json:"nodes"`
}

// DanglingReference is a branch target that names a node missing from the
// graph.
type DanglingReference struct {
	NodeID int    `json:"node_id"`
	Branch string `json:"branch"`
	Target int    `json:"target"`
}

// NewGraph builds a graph with nodes sorted by ascending id and the baseline
// flag set on the mirror row.
func NewGraph(scenarioID int, baseline *Baseline, nodes []Node) *Graph {
	sorted := make([]Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for i := range sorted {
		sorted[i].IsBaseline = sorted[i].ID == BaselineNodeID
	}
	return &Graph{ScenarioID: scenarioID, Baseline: baseline, Nodes: sorted}
}

// Node returns the node with the given id.
func (g *Graph) Node(id int) (*Node, bool) {
	i := sort.Search(len(g.Nodes), func(i int) bool { return g.Nodes[i].ID >= id })
	if i < len(g.Nodes) && g.Nodes[i].ID == id {
		return &g.Nodes[i], true
	}
	return nil, false
}

// Timeline returns the display sequence with time zero first. The mirror row
// is used when present, otherwise the baseline is rendered as node 0.
func (g *Graph) Timeline() []Node {
	if _, ok := g.Node(BaselineNodeID); ok || g.Baseline == nil {
		return g.Nodes
	}
	out := make([]Node, 0, len(g.Nodes)+1)
	out = append(out, g.Baseline.AsNode())
	return append(out, g.Nodes...)
}

// Branches returns the success and failure targets of a node.
func (g *Graph) Branches(id int) (onSuccess, onFailure *Node) {
	n, ok := g.Node(id)
	if !ok {
		return nil, nil
	}
	onSuccess, _ = g.Node(n.OnSuccess)
	onFailure, _ = g.Node(n.OnFailure)
	return onSuccess, onFailure
}

// DanglingReferences lists branch targets that do not resolve. Target 0
// means end of simulation and is never reported.
func (g *Graph) DanglingReferences() []DanglingReference {
	var refs []DanglingReference
	check := func(n *Node, branch string, target int) {
		if target == BaselineNodeID {
			return
		}
		if _, ok := g.Node(target); !ok {
			refs = append(refs, DanglingReference{NodeID: n.ID, Branch: branch, Target: target})
		}
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		check(n, "on_success", n.OnSuccess)
		check(n, "on_failure", n.OnFailure)
	}
	return refs
}
