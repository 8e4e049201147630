package timeline

import (
	"context"
	"errors"

	"github.com/medsim/scenario/internal/domain/vitals"
)

// ErrDuplicateParameter is returned by InsertParameter when the
// (scenario, node, name) triple already exists.
var ErrDuplicateParameter = errors.New("additional parameter already exists")

// TextField names a free-text column of timeline_node.
type TextField string

const (
	FieldAction            TextField = "action"
	FieldParentRole        TextField = "parent_role"
	FieldAdditionalDetails TextField = "additional_details"
)

// Transactor runs fn as one unit of work. Repositories called with the
// context passed to fn take part in the transaction; a non-nil error from fn
// rolls everything back.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type NodeRepository interface {
	ListNodes(ctx context.Context, scenarioID int) ([]Node, error)
	GetNode(ctx context.Context, scenarioID, nodeID int) (*Node, error)
	NodeExists(ctx context.Context, scenarioID, nodeID int) (bool, error)
	InsertNode(ctx context.Context, n *Node) error
	UpdateNodeText(ctx context.Context, scenarioID, nodeID int, field TextField, value string) (bool, error)
	UpdateBranchTargets(ctx context.Context, scenarioID, nodeID, onSuccess, onFailure int) (bool, error)
	UpdateTimer(ctx context.Context, scenarioID, nodeID, seconds int) (bool, error)
	UpdateNodeVital(ctx context.Context, scenarioID, nodeID int, col vitals.Column, value interface{}) (bool, error)
	UpdateNodeVitals(ctx context.Context, scenarioID, nodeID int, set vitals.ParameterSet) (bool, error)
	DeleteNode(ctx context.Context, scenarioID, nodeID int) (bool, error)
	DeleteAllNodes(ctx context.Context, scenarioID int) (int64, error)
}

type BaselineRepository interface {
	GetBaseline(ctx context.Context, scenarioID int) (*Baseline, error)
	UpsertBaseline(ctx context.Context, b *Baseline) error
	UpdateBaselineVital(ctx context.Context, scenarioID int, col vitals.Column, value interface{}) (bool, error)
	ReplaceAccess(ctx context.Context, scenarioID int, kind string, items []VascularAccess) error
}

type ParameterRepository interface {
	ListParameters(ctx context.Context, scenarioID, nodeID int) ([]Parameter, error)
	InsertParameter(ctx context.Context, p *Parameter) error
	// UpsertParameter inserts p or overwrites value and unit of the existing
	// record with the same name.
	UpsertParameter(ctx context.Context, p *Parameter) error
	// UpsertParameterValue inserts a record with an empty unit or updates
	// only the value of the existing one.
	UpsertParameterValue(ctx context.Context, scenarioID, nodeID int, name string, value float64) (*Parameter, error)
	DeleteParameter(ctx context.Context, scenarioID, nodeID int, name string) (bool, error)
	DeleteParametersForNode(ctx context.Context, scenarioID, nodeID int) (int64, error)
}

// Store bundles the repositories of one backend.
type Store struct {
	Tx         Transactor
	Nodes      NodeRepository
	Baselines  BaselineRepository
	Parameters ParameterRepository
}
