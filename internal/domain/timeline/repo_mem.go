package timeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/medsim/scenario/internal/domain/vitals"
)

type nodeKey struct{ scenario, node int }

type paramKey struct {
	scenario, node int
	name           string
}

type memTxKey struct{}

// cloneNode copies n so that no pointer is shared with the stored row.
func cloneNode(n Node) Node {
	n.Vitals = n.Vitals.Clone()
	if n.ParentRole != nil {
		role := *n.ParentRole
		n.ParentRole = &role
	}
	n.Parameters = nil
	return n
}

func cloneBaseline(b Baseline) Baseline {
	b.Vitals = b.Vitals.Clone()
	b.VenousAccess = append([]VascularAccess{}, b.VenousAccess...)
	b.ArterialAccess = append([]VascularAccess{}, b.ArterialAccess...)
	return b
}

// MemoryStore is an in-process backend implementing every repository and the
// Transactor. A transaction holds the store lock for its whole duration and
// restores a snapshot when fn fails.
type MemoryStore struct {
	mu        sync.Mutex
	baselines map[int]Baseline
	nodes     map[nodeKey]Node
	params    map[paramKey]Parameter
	nextParam int64
	nextAcc   int64
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		baselines: make(map[int]Baseline),
		nodes:     make(map[nodeKey]Node),
		params:    make(map[paramKey]Parameter),
		now:       time.Now,
	}
}

// Store exposes the memory backend through the repository interfaces.
func (s *MemoryStore) Store() Store {
	return Store{Tx: s, Nodes: s, Baselines: s, Parameters: s}
}

type memSnapshot struct {
	baselines map[int]Baseline
	nodes     map[nodeKey]Node
	params    map[paramKey]Parameter
	nextParam int64
	nextAcc   int64
}

func (s *MemoryStore) snapshot() memSnapshot {
	snap := memSnapshot{
		baselines: make(map[int]Baseline, len(s.baselines)),
		nodes:     make(map[nodeKey]Node, len(s.nodes)),
		params:    make(map[paramKey]Parameter, len(s.params)),
		nextParam: s.nextParam,
		nextAcc:   s.nextAcc,
	}
	for k, v := range s.baselines {
		snap.baselines[k] = v
	}
	for k, v := range s.nodes {
		snap.nodes[k] = v
	}
	for k, v := range s.params {
		snap.params[k] = v
	}
	return snap
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.baselines = snap.baselines
	s.nodes = snap.nodes
	s.params = snap.params
	s.nextParam = snap.nextParam
	s.nextAcc = snap.nextAcc
}

func (s *MemoryStore) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(memTxKey{}).(*MemoryStore)
	return owner == s
}

// lock acquires the store lock unless ctx already runs inside one of its
// transactions.
func (s *MemoryStore) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// -- nodes --

func (s *MemoryStore) ListNodes(ctx context.Context, scenarioID int) ([]Node, error) {
	defer s.lock(ctx)()
	var items []Node
	for k, n := range s.nodes {
		if k.scenario == scenarioID {
			items = append(items, cloneNode(n))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *MemoryStore) GetNode(ctx context.Context, scenarioID, nodeID int) (*Node, error) {
	defer s.lock(ctx)()
	n, ok := s.nodes[nodeKey{scenarioID, nodeID}]
	if !ok {
		return nil, ErrNotFound
	}
	n = cloneNode(n)
	return &n, nil
}

func (s *MemoryStore) NodeExists(ctx context.Context, scenarioID, nodeID int) (bool, error) {
	defer s.lock(ctx)()
	_, ok := s.nodes[nodeKey{scenarioID, nodeID}]
	return ok, nil
}

func (s *MemoryStore) InsertNode(ctx context.Context, n *Node) error {
	defer s.lock(ctx)()
	k := nodeKey{n.ScenarioID, n.ID}
	if _, ok := s.nodes[k]; ok {
		return fmt.Errorf("timeline node %d already exists in scenario %d", n.ID, n.ScenarioID)
	}
	stored := cloneNode(*n)
	stored.IsBaseline = stored.ID == BaselineNodeID
	s.nodes[k] = stored
	return nil
}

func (s *MemoryStore) updateNode(ctx context.Context, scenarioID, nodeID int, fn func(n *Node)) bool {
	defer s.lock(ctx)()
	k := nodeKey{scenarioID, nodeID}
	n, ok := s.nodes[k]
	if !ok {
		return false
	}
	fn(&n)
	s.nodes[k] = n
	return true
}

func (s *MemoryStore) UpdateNodeText(ctx context.Context, scenarioID, nodeID int, field TextField, value string) (bool, error) {
	var apply func(n *Node)
	switch field {
	case FieldAction:
		apply = func(n *Node) { n.Action = value }
	case FieldAdditionalDetails:
		apply = func(n *Node) { n.AdditionalDetails = value }
	case FieldParentRole:
		apply = func(n *Node) {
			if value == "" {
				n.ParentRole = nil
				return
			}
			role := value
			n.ParentRole = &role
		}
	default:
		return false, fmt.Errorf("unknown text field %q", field)
	}
	return s.updateNode(ctx, scenarioID, nodeID, apply), nil
}

func (s *MemoryStore) UpdateBranchTargets(ctx context.Context, scenarioID, nodeID, onSuccess, onFailure int) (bool, error) {
	return s.updateNode(ctx, scenarioID, nodeID, func(n *Node) {
		n.OnSuccess, n.OnFailure = onSuccess, onFailure
	}), nil
}

func (s *MemoryStore) UpdateTimer(ctx context.Context, scenarioID, nodeID, seconds int) (bool, error) {
	return s.updateNode(ctx, scenarioID, nodeID, func(n *Node) { n.TimerSeconds = seconds }), nil
}

func (s *MemoryStore) UpdateNodeVital(ctx context.Context, scenarioID, nodeID int, col vitals.Column, value interface{}) (bool, error) {
	if _, err := vitalColumn(col); err != nil {
		return false, err
	}
	return s.updateNode(ctx, scenarioID, nodeID, func(n *Node) { n.Vitals.Set(col, value) }), nil
}

func (s *MemoryStore) UpdateNodeVitals(ctx context.Context, scenarioID, nodeID int, set vitals.ParameterSet) (bool, error) {
	return s.updateNode(ctx, scenarioID, nodeID, func(n *Node) { n.Vitals = set.Clone() }), nil
}

func (s *MemoryStore) DeleteNode(ctx context.Context, scenarioID, nodeID int) (bool, error) {
	defer s.lock(ctx)()
	k := nodeKey{scenarioID, nodeID}
	if _, ok := s.nodes[k]; !ok {
		return false, nil
	}
	delete(s.nodes, k)
	return true, nil
}

func (s *MemoryStore) DeleteAllNodes(ctx context.Context, scenarioID int) (int64, error) {
	defer s.lock(ctx)()
	var n int64
	for k := range s.nodes {
		if k.scenario == scenarioID {
			delete(s.nodes, k)
			n++
		}
	}
	return n, nil
}

// -- baseline --

func (s *MemoryStore) GetBaseline(ctx context.Context, scenarioID int) (*Baseline, error) {
	defer s.lock(ctx)()
	b, ok := s.baselines[scenarioID]
	if !ok {
		return nil, ErrNotFound
	}
	b = cloneBaseline(b)
	return &b, nil
}

func (s *MemoryStore) UpsertBaseline(ctx context.Context, b *Baseline) error {
	defer s.lock(ctx)()
	existing, ok := s.baselines[b.ScenarioID]
	stored := *b
	stored.Vitals = b.Vitals.Clone()
	if ok {
		stored.VenousAccess = existing.VenousAccess
		stored.ArterialAccess = existing.ArterialAccess
	} else {
		stored.VenousAccess, stored.ArterialAccess = nil, nil
	}
	stored.UpdatedAt = s.now()
	b.UpdatedAt = stored.UpdatedAt
	s.baselines[b.ScenarioID] = stored
	return nil
}

func (s *MemoryStore) UpdateBaselineVital(ctx context.Context, scenarioID int, col vitals.Column, value interface{}) (bool, error) {
	if _, err := vitalColumn(col); err != nil {
		return false, err
	}
	defer s.lock(ctx)()
	b, ok := s.baselines[scenarioID]
	if !ok {
		return false, nil
	}
	b.Vitals.Set(col, value)
	b.UpdatedAt = s.now()
	s.baselines[scenarioID] = b
	return true, nil
}

func (s *MemoryStore) ReplaceAccess(ctx context.Context, scenarioID int, kind string, items []VascularAccess) error {
	defer s.lock(ctx)()
	b, ok := s.baselines[scenarioID]
	if !ok {
		return fmt.Errorf("baseline for scenario %d does not exist", scenarioID)
	}
	stored := make([]VascularAccess, len(items))
	for i := range items {
		s.nextAcc++
		items[i].ID = s.nextAcc
		items[i].Kind = kind
		stored[i] = items[i]
	}
	switch kind {
	case AccessVenous:
		b.VenousAccess = stored
	case AccessArterial:
		b.ArterialAccess = stored
	default:
		return fmt.Errorf("unknown access kind %q", kind)
	}
	s.baselines[scenarioID] = b
	return nil
}

// -- additional parameters --

func (s *MemoryStore) ListParameters(ctx context.Context, scenarioID, nodeID int) ([]Parameter, error) {
	defer s.lock(ctx)()
	var items []Parameter
	for k, p := range s.params {
		if k.scenario == scenarioID && k.node == nodeID {
			items = append(items, p)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *MemoryStore) InsertParameter(ctx context.Context, p *Parameter) error {
	defer s.lock(ctx)()
	k := paramKey{p.ScenarioID, p.NodeID, p.Name}
	if _, ok := s.params[k]; ok {
		return ErrDuplicateParameter
	}
	s.nextParam++
	p.ID = s.nextParam
	s.params[k] = *p
	return nil
}

func (s *MemoryStore) UpsertParameter(ctx context.Context, p *Parameter) error {
	defer s.lock(ctx)()
	k := paramKey{p.ScenarioID, p.NodeID, p.Name}
	if existing, ok := s.params[k]; ok {
		p.ID = existing.ID
	} else {
		s.nextParam++
		p.ID = s.nextParam
	}
	s.params[k] = *p
	return nil
}

func (s *MemoryStore) UpsertParameterValue(ctx context.Context, scenarioID, nodeID int, name string, value float64) (*Parameter, error) {
	defer s.lock(ctx)()
	k := paramKey{scenarioID, nodeID, name}
	p, ok := s.params[k]
	if !ok {
		s.nextParam++
		p = Parameter{ID: s.nextParam, ScenarioID: scenarioID, NodeID: nodeID, Name: name}
	}
	p.Value = value
	s.params[k] = p
	return &p, nil
}

func (s *MemoryStore) DeleteParameter(ctx context.Context, scenarioID, nodeID int, name string) (bool, error) {
	defer s.lock(ctx)()
	k := paramKey{scenarioID, nodeID, name}
	if _, ok := s.params[k]; !ok {
		return false, nil
	}
	delete(s.params, k)
	return true, nil
}

func (s *MemoryStore) DeleteParametersForNode(ctx context.Context, scenarioID, nodeID int) (int64, error) {
	defer s.lock(ctx)()
	var n int64
	for k := range s.params {
		if k.scenario == scenarioID && k.node == nodeID {
			delete(s.params, k)
			n++
		}
	}
	return n, nil
}
