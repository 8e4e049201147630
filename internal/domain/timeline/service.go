package timeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	v "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medsim/scenario/internal/platform/cache"
)

type Service struct {
	store  Store
	cache  cache.Cache
	logger zerolog.Logger
}

func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{store: store, logger: logger.With().Str("component", "timeline").Logger()}
}

// SetCache attaches an optional graph cache.
func (s *Service) SetCache(c cache.Cache) {
	s.cache = c
}

func graphKey(scenarioID int) string {
	return fmt.Sprintf("timeline:graph:%d", scenarioID)
}

// generationKey holds a token that changes on every invalidation of the
// scenario's graph.
func generationKey(scenarioID int) string {
	return fmt.Sprintf("timeline:graph-gen:%d", scenarioID)
}

// generation returns the current invalidation token. An absent token reads
// as empty; ok is false when the cache cannot be read.
func (s *Service) generation(ctx context.Context, scenarioID int) (gen string, ok bool) {
	err := s.cache.Get(ctx, generationKey(scenarioID), &gen)
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn().Err(err).Int("scenario_id", scenarioID).Msg("graph cache generation read failed")
		return "", false
	}
	return gen, true
}

// invalidate drops the cached graph. It runs after commit; failures are only
// logged. The generation token is replaced before the graph is deleted so a
// reader that loaded the store earlier discards its copy.
func (s *Service) invalidate(ctx context.Context, scenarioID int) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, generationKey(scenarioID), uuid.NewString()); err != nil {
		s.logger.Warn().Err(err).Int("scenario_id", scenarioID).Msg("graph cache generation write failed")
	}
	if err := s.cache.Delete(ctx, graphKey(scenarioID)); err != nil {
		s.logger.Warn().Err(err).Int("scenario_id", scenarioID).Msg("graph cache invalidation failed")
	}
}

// storeGraph caches g unless the scenario was invalidated since gen was
// read. The check runs after the write, so an invalidation racing with it
// either sees the cached value or is seen here.
func (s *Service) storeGraph(ctx context.Context, g *Graph, gen string) {
	key := graphKey(g.ScenarioID)
	if err := s.cache.Set(ctx, key, g); err != nil {
		s.logger.Warn().Err(err).Int("scenario_id", g.ScenarioID).Msg("graph cache write failed")
		return
	}
	if now, ok := s.generation(ctx, g.ScenarioID); ok && now == gen {
		return
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Int("scenario_id", g.ScenarioID).Msg("stale graph eviction failed")
	}
}

func (s *Service) notFound(op string, scenarioID, nodeID int) {
	s.logger.Warn().Str("op", op).Int("scenario_id", scenarioID).Int("node_id", nodeID).
		Msg("target does not exist, nothing changed")
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func checkNodeID(field string, id int) error {
	if id < 0 {
		return newValidationError(field, "must be no less than 0")
	}
	return nil
}

// -- graph --

// GetGraph returns the baseline and every node of a scenario.
func (s *Service) GetGraph(ctx context.Context, scenarioID int) (*Graph, error) {
	var (
		gen       string
		cacheable bool
	)
	if s.cache != nil {
		var g Graph
		err := s.cache.Get(ctx, graphKey(scenarioID), &g)
		if err == nil {
			return &g, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn().Err(err).Int("scenario_id", scenarioID).Msg("graph cache read failed")
		}
		gen, cacheable = s.generation(ctx, scenarioID)
	}

	baseline, err := s.store.Baselines.GetBaseline(ctx, scenarioID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, storageErr("load baseline", err)
	}
	nodes, err := s.store.Nodes.ListNodes(ctx, scenarioID)
	if err != nil {
		return nil, storageErr("list nodes", err)
	}
	g := NewGraph(scenarioID, baseline, nodes)

	if cacheable {
		s.storeGraph(ctx, g, gen)
	}
	return g, nil
}

// CheckConsistency lists branch targets that name missing nodes. It never
// modifies the graph.
func (s *Service) CheckConsistency(ctx context.Context, scenarioID int) ([]DanglingReference, error) {
	g, err := s.GetGraph(ctx, scenarioID)
	if err != nil {
		return nil, err
	}
	return g.DanglingReferences(), nil
}

func validateNodes(nodes []Node) error {
	ve := &ValidationError{}
	seen := make(map[int]int, len(nodes))
	for i, n := range nodes {
		prefix := fmt.Sprintf("nodes[%d].", i)
		if n.ID < 0 {
			ve.add(prefix+"id", "must be no less than 0")
		} else if j, dup := seen[n.ID]; dup {
			ve.add(prefix+"id", fmt.Sprintf("duplicates nodes[%d]", j))
		} else {
			seen[n.ID] = i
		}
		if n.TimerSeconds < 0 {
			ve.add(prefix+"timer_seconds", "must be no less than 0")
		}
		if n.OnSuccess < 0 {
			ve.add(prefix+"on_success", "must be no less than 0")
		}
		if n.OnFailure < 0 {
			ve.add(prefix+"on_failure", "must be no less than 0")
		}
		ve.merge(prefix+"vitals.", n.Vitals.Validate())

		names := make(map[string]bool, len(n.Parameters))
		for k, p := range n.Parameters {
			pfx := fmt.Sprintf("%sparameters[%d].", prefix, k)
			name := strings.TrimSpace(p.Name)
			if name == "" {
				ve.add(pfx+"name", "cannot be blank")
				continue
			}
			if names[name] {
				ve.add(pfx+"name", "must be unique within the node")
			}
			names[name] = true
			if !finite(p.Value) {
				ve.add(pfx+"value", "must be a finite number")
			}
		}
	}
	if ve.empty() {
		return nil
	}
	return ve
}

// SaveTimeline replaces every node of a scenario with nodes. All nodes are
// validated before anything is written and the replacement commits or rolls
// back as a whole. Parameters of node 0 belong to the baseline: they survive
// the replacement and supplied ones are upserted.
func (s *Service) SaveTimeline(ctx context.Context, scenarioID int, nodes []Node) error {
	return s.saveTimeline(ctx, scenarioID, nodes, nil)
}

func (s *Service) saveTimeline(ctx context.Context, scenarioID int, nodes []Node, baselineParams []Parameter) error {
	if err := validateNodes(nodes); err != nil {
		return err
	}

	err := s.store.Tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.store.Nodes.ListNodes(ctx, scenarioID)
		if err != nil {
			return storageErr("list nodes", err)
		}

		owners := make(map[int]bool)
		for _, n := range existing {
			owners[n.ID] = true
		}
		for _, n := range nodes {
			owners[n.ID] = true
		}
		for id := range owners {
			if id == BaselineNodeID {
				continue
			}
			if _, err := s.store.Parameters.DeleteParametersForNode(ctx, scenarioID, id); err != nil {
				return storageErr(fmt.Sprintf("delete parameters of node %d", id), err)
			}
		}

		if _, err := s.store.Nodes.DeleteAllNodes(ctx, scenarioID); err != nil {
			return storageErr("delete nodes", err)
		}

		for i := range nodes {
			n := nodes[i]
			n.ScenarioID = scenarioID
			n.Vitals.Normalize()
			if err := s.store.Nodes.InsertNode(ctx, &n); err != nil {
				return storageErr(fmt.Sprintf("insert node %d", n.ID), err)
			}
			for _, p := range n.Parameters {
				p.ScenarioID = scenarioID
				p.NodeID = n.ID
				p.Name = strings.TrimSpace(p.Name)
				if n.ID == BaselineNodeID {
					err = s.store.Parameters.UpsertParameter(ctx, &p)
				} else {
					err = s.store.Parameters.InsertParameter(ctx, &p)
				}
				if err != nil {
					return storageErr(fmt.Sprintf("insert parameter %q of node %d", p.Name, n.ID), err)
				}
			}
		}
		for _, p := range baselineParams {
			p.ScenarioID = scenarioID
			p.NodeID = BaselineNodeID
			if err := s.store.Parameters.UpsertParameter(ctx, &p); err != nil {
				return storageErr(fmt.Sprintf("upsert baseline parameter %q", p.Name), err)
			}
		}
		return nil
	})
	if err != nil {
		return storageErr("save timeline", err)
	}

	s.invalidate(ctx, scenarioID)
	s.logger.Info().Int("scenario_id", scenarioID).Int("nodes", len(nodes)).Msg("timeline saved")
	return nil
}

// ExportWorkbook writes the stored nodes of a scenario and every additional
// parameter, baseline parameters included, as an XLSX workbook.
func (s *Service) ExportWorkbook(ctx context.Context, scenarioID int, w io.Writer) error {
	g, err := s.GetGraph(ctx, scenarioID)
	if err != nil {
		return err
	}

	owners := []int{BaselineNodeID}
	for _, n := range g.Nodes {
		if n.ID != BaselineNodeID {
			owners = append(owners, n.ID)
		}
	}
	var params []Parameter
	for _, id := range owners {
		items, err := s.ListParameters(ctx, scenarioID, id)
		if err != nil {
			return err
		}
		params = append(params, items...)
	}
	return WriteWorkbook(w, g.Nodes, params)
}

// ImportWorkbook replaces the timeline of a scenario with the content of an
// XLSX workbook, with the same semantics as SaveTimeline.
func (s *Service) ImportWorkbook(ctx context.Context, scenarioID int, r io.Reader) (*Workbook, error) {
	wb, err := ReadWorkbook(r)
	if err != nil {
		return nil, err
	}
	if err := s.saveTimeline(ctx, scenarioID, wb.Nodes, wb.BaselineParameters); err != nil {
		return nil, err
	}
	return wb, nil
}

// -- node mutators --

func (s *Service) mutateNode(ctx context.Context, op string, scenarioID, nodeID int, fn func(ctx context.Context) (bool, error)) (bool, error) {
	var changed bool
	err := s.store.Tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		changed, err = fn(ctx)
		return err
	})
	if err != nil {
		return false, storageErr(op, err)
	}
	if !changed {
		s.notFound(op, scenarioID, nodeID)
		return false, nil
	}
	s.invalidate(ctx, scenarioID)
	return true, nil
}

func (s *Service) setText(ctx context.Context, scenarioID, nodeID int, field TextField, text string) (bool, error) {
	if err := checkNodeID("node_id", nodeID); err != nil {
		return false, err
	}
	op := "set " + string(field)
	return s.mutateNode(ctx, op, scenarioID, nodeID, func(ctx context.Context) (bool, error) {
		return s.store.Nodes.UpdateNodeText(ctx, scenarioID, nodeID, field, text)
	})
}

func (s *Service) SetAction(ctx context.Context, scenarioID, nodeID int, text string) (bool, error) {
	return s.setText(ctx, scenarioID, nodeID, FieldAction, text)
}

// SetParentRole stores the role annotation. An empty text clears it.
func (s *Service) SetParentRole(ctx context.Context, scenarioID, nodeID int, text string) (bool, error) {
	return s.setText(ctx, scenarioID, nodeID, FieldParentRole, strings.TrimSpace(text))
}

func (s *Service) SetAdditionalDetails(ctx context.Context, scenarioID, nodeID int, text string) (bool, error) {
	return s.setText(ctx, scenarioID, nodeID, FieldAdditionalDetails, text)
}

// SetBranchTargets stores both branch targets. Targets are not required to
// exist.
func (s *Service) SetBranchTargets(ctx context.Context, scenarioID, nodeID, onSuccess, onFailure int) (bool, error) {
	ve := &ValidationError{}
	ve.merge("", v.Errors{
		"node_id":    v.Validate(nodeID, v.Min(0)),
		"on_success": v.Validate(onSuccess, v.Min(0)),
		"on_failure": v.Validate(onFailure, v.Min(0)),
	}.Filter())
	if !ve.empty() {
		return false, ve
	}
	return s.mutateNode(ctx, "set branch targets", scenarioID, nodeID, func(ctx context.Context) (bool, error) {
		return s.store.Nodes.UpdateBranchTargets(ctx, scenarioID, nodeID, onSuccess, onFailure)
	})
}

func (s *Service) SetTimer(ctx context.Context, scenarioID, nodeID, seconds int) (bool, error) {
	ve := &ValidationError{}
	ve.merge("", v.Errors{
		"node_id":       v.Validate(nodeID, v.Min(0)),
		"timer_seconds": v.Validate(seconds, v.Min(0)),
	}.Filter())
	if !ve.empty() {
		return false, ve
	}
	return s.mutateNode(ctx, "set timer", scenarioID, nodeID, func(ctx context.Context) (bool, error) {
		return s.store.Nodes.UpdateTimer(ctx, scenarioID, nodeID, seconds)
	})
}

// DeleteNode removes the node's additional parameters and then the node in
// one transaction. Deleting the node 0 mirror keeps the baseline parameters.
func (s *Service) DeleteNode(ctx context.Context, scenarioID, nodeID int) (bool, error) {
	if err := checkNodeID("node_id", nodeID); err != nil {
		return false, err
	}
	var removed int64
	changed, err := s.mutateNode(ctx, "delete node", scenarioID, nodeID, func(ctx context.Context) (bool, error) {
		exists, err := s.store.Nodes.NodeExists(ctx, scenarioID, nodeID)
		if err != nil || !exists {
			return false, err
		}
		if nodeID != BaselineNodeID {
			removed, err = s.store.Parameters.DeleteParametersForNode(ctx, scenarioID, nodeID)
			if err != nil {
				return false, storageErr("delete node parameters", err)
			}
		}
		return s.store.Nodes.DeleteNode(ctx, scenarioID, nodeID)
	})
	if changed {
		s.logger.Info().Int("scenario_id", scenarioID).Int("node_id", nodeID).
			Int64("parameters", removed).Msg("timeline node deleted")
	}
	return changed, err
}

// -- baseline --

func (s *Service) GetBaseline(ctx context.Context, scenarioID int) (*Baseline, error) {
	b, err := s.store.Baselines.GetBaseline(ctx, scenarioID)
	if err != nil {
		return nil, storageErr("get baseline", err)
	}
	return b, nil
}

func (a VascularAccess) Validate() error {
	return v.ValidateStruct(&a,
		v.Field(&a.Type, v.Required),
	)
}

func validateBaseline(b *Baseline) error {
	ve := &ValidationError{}
	ve.merge("vitals.", b.Vitals.Validate())
	for i, a := range b.VenousAccess {
		ve.merge(fmt.Sprintf("venous_access[%d].", i), a.Validate())
	}
	for i, a := range b.ArterialAccess {
		ve.merge(fmt.Sprintf("arterial_access[%d].", i), a.Validate())
	}
	if ve.empty() {
		return nil
	}
	return ve
}

// SaveBaseline creates or replaces the time-zero state together with both
// access lists. When a node 0 mirror exists its vitals are overwritten in
// the same transaction.
func (s *Service) SaveBaseline(ctx context.Context, b *Baseline) error {
	if err := validateBaseline(b); err != nil {
		return err
	}
	b.Vitals.Normalize()

	err := s.store.Tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.Baselines.UpsertBaseline(ctx, b); err != nil {
			return storageErr("upsert baseline", err)
		}
		if err := s.store.Baselines.ReplaceAccess(ctx, b.ScenarioID, AccessVenous, b.VenousAccess); err != nil {
			return storageErr("replace venous access", err)
		}
		if err := s.store.Baselines.ReplaceAccess(ctx, b.ScenarioID, AccessArterial, b.ArterialAccess); err != nil {
			return storageErr("replace arterial access", err)
		}
		if _, err := s.store.Nodes.UpdateNodeVitals(ctx, b.ScenarioID, BaselineNodeID, b.Vitals); err != nil {
			return storageErr("mirror baseline vitals", err)
		}
		return nil
	})
	if err != nil {
		return storageErr("save baseline", err)
	}

	s.invalidate(ctx, b.ScenarioID)
	return nil
}

// -- additional parameters --

func (s *Service) ListParameters(ctx context.Context, scenarioID, nodeID int) ([]Parameter, error) {
	items, err := s.store.Parameters.ListParameters(ctx, scenarioID, nodeID)
	if err != nil {
		return nil, storageErr("list parameters", err)
	}
	return items, nil
}

// AddParameter attaches p to a node, or to the baseline when nodeID is nil.
// A name already used within the same node is a validation error.
func (s *Service) AddParameter(ctx context.Context, scenarioID int, nodeID *int, p *Parameter) error {
	p.ScenarioID = scenarioID
	p.NodeID = BaselineNodeID
	if nodeID != nil {
		p.NodeID = *nodeID
	}
	p.Name = strings.TrimSpace(p.Name)
	p.Unit = strings.TrimSpace(p.Unit)

	ve := &ValidationError{}
	ve.merge("", v.Errors{
		"node_id": v.Validate(p.NodeID, v.Min(0)),
		"name":    v.Validate(p.Name, v.Required),
	}.Filter())
	if !finite(p.Value) {
		ve.add("value", "must be a finite number")
	}
	if !ve.empty() {
		return ve
	}

	err := s.store.Tx.InTx(ctx, func(ctx context.Context) error {
		return s.store.Parameters.InsertParameter(ctx, p)
	})
	if errors.Is(err, ErrDuplicateParameter) {
		return newValidationError("name", fmt.Sprintf("parameter %q already exists for node %d", p.Name, p.NodeID))
	}
	if err != nil {
		return storageErr("add parameter", err)
	}
	s.invalidate(ctx, scenarioID)
	return nil
}

func (s *Service) DeleteParameter(ctx context.Context, scenarioID, nodeID int, name string) (bool, error) {
	if err := checkNodeID("node_id", nodeID); err != nil {
		return false, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return false, newValidationError("name", "cannot be blank")
	}
	return s.mutateNode(ctx, "delete parameter "+name, scenarioID, nodeID, func(ctx context.Context) (bool, error) {
		return s.store.Parameters.DeleteParameter(ctx, scenarioID, nodeID, name)
	})
}
