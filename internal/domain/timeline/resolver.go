package timeline

import (
	"context"
	"strings"

	"github.com/medsim/scenario/internal/domain/vitals"
)

// Outcome describes where a vital-sign edit was stored.
type Outcome struct {
	Target    int             `json:"target"`
	Baseline  bool            `json:"baseline"`
	Column    vitals.Column   `json:"column,omitempty"`
	Parameter *Parameter      `json:"parameter,omitempty"`
	Mirrored  bool            `json:"mirrored"`
	Changed   bool            `json:"changed"`
	Severity  vitals.Severity `json:"severity"`
}

// Resolver routes single vital-sign edits to the baseline, a timeline node
// or the additional-parameter store.
type Resolver struct {
	svc *Service
}

func NewResolver(svc *Service) *Resolver {
	return &Resolver{svc: svc}
}

// Apply stores value under label. Labels from the canonical vital table
// update a standard column: a nil or zero nodeID edits the baseline and,
// when a node 0 mirror exists, the mirror too, in one transaction. Any other
// label is upserted as an additional parameter of the node (0 when nodeID is
// nil).
func (r *Resolver) Apply(ctx context.Context, scenarioID int, nodeID *int, label, value string) (*Outcome, error) {
	target := BaselineNodeID
	if nodeID != nil {
		target = *nodeID
	}
	if err := checkNodeID("node_id", target); err != nil {
		return nil, err
	}

	col, standard := vitals.Lookup(label)
	if !standard {
		return r.applyParameter(ctx, scenarioID, target, label, value)
	}

	parsed, err := vitals.ParseValue(col, value)
	if err != nil {
		ve := &ValidationError{}
		ve.merge("", err)
		return nil, ve
	}

	out := &Outcome{Target: target, Baseline: target == BaselineNodeID, Column: col}
	out.Severity = r.classify(scenarioID, target, col, value)

	s := r.svc
	err = s.store.Tx.InTx(ctx, func(ctx context.Context) error {
		if target != BaselineNodeID {
			changed, err := s.store.Nodes.UpdateNodeVital(ctx, scenarioID, target, col, parsed)
			out.Changed = changed
			return storageErr("update node vital", err)
		}

		changed, err := s.store.Baselines.UpdateBaselineVital(ctx, scenarioID, col, parsed)
		if err != nil {
			return storageErr("update baseline vital", err)
		}
		if !changed {
			return nil
		}
		out.Changed = true

		mirrored, err := s.store.Nodes.UpdateNodeVital(ctx, scenarioID, BaselineNodeID, col, parsed)
		if err != nil {
			return storageErr("update baseline mirror", err)
		}
		out.Mirrored = mirrored
		return nil
	})
	if err != nil {
		return nil, storageErr("apply vital", err)
	}

	if !out.Changed {
		s.notFound("apply "+col.Label(), scenarioID, target)
		return out, nil
	}
	s.invalidate(ctx, scenarioID)
	return out, nil
}

func (r *Resolver) applyParameter(ctx context.Context, scenarioID, nodeID int, label, value string) (*Outcome, error) {
	name := strings.TrimSpace(label)
	if name == "" {
		return nil, newValidationError("label", "cannot be blank")
	}
	f, err := vitals.ParseNumber(value)
	if err != nil {
		return nil, newValidationError("value", err.Error())
	}

	s := r.svc
	out := &Outcome{Target: nodeID, Baseline: nodeID == BaselineNodeID, Severity: vitals.SeverityUnknown}
	err = s.store.Tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.store.Parameters.UpsertParameterValue(ctx, scenarioID, nodeID, name, f)
		if err != nil {
			return storageErr("upsert parameter", err)
		}
		out.Parameter = p
		out.Changed = true
		return nil
	})
	if err != nil {
		return nil, storageErr("apply parameter", err)
	}
	s.invalidate(ctx, scenarioID)
	return out, nil
}

func (r *Resolver) classify(scenarioID, nodeID int, col vitals.Column, raw string) vitals.Severity {
	sev, err := vitals.Classify(col, raw)
	if err != nil {
		r.svc.logger.Debug().Err(err).Int("scenario_id", scenarioID).Int("node_id", nodeID).
			Str("label", col.Label()).Msg("no threshold colouring")
	}
	return sev
}
