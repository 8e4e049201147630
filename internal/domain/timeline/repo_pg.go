package timeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medsim/scenario/internal/domain/vitals"
	"github.com/medsim/scenario/internal/platform/db"
)

const uniqueViolation = "23505"

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// NewPGStore wires the PostgreSQL repositories and transaction manager.
func NewPGStore(pool *pgxpool.Pool) Store {
	return Store{
		Tx:         db.NewTxManager(pool),
		Nodes:      NewNodeRepoPG(pool),
		Baselines:  NewBaselineRepoPG(pool),
		Parameters: NewParameterRepoPG(pool),
	}
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// vitalColumn validates col against the fixed column list before it is
// interpolated into SQL.
func vitalColumn(col vitals.Column) (string, error) {
	for _, c := range vitals.Columns {
		if c == col {
			return string(c), nil
		}
	}
	return "", fmt.Errorf("unknown vital column %q", col)
}

const vitalCols = `COALESCE(blood_pressure, ''), heart_rate, respiratory_rate, temperature,
	spo2, fio2, o2_flow, etco2`

func vitalDest(p *vitals.ParameterSet) []interface{} {
	return []interface{}{&p.BloodPressure, &p.HeartRate, &p.RespiratoryRate, &p.Temperature,
		&p.SpO2, &p.FiO2, &p.O2Flow, &p.EtCO2}
}

func vitalArgs(p vitals.ParameterSet) []interface{} {
	var bp *string
	if p.BloodPressure != "" {
		bp = &p.BloodPressure
	}
	return []interface{}{bp, p.HeartRate, p.RespiratoryRate, p.Temperature,
		p.SpO2, p.FiO2, p.O2Flow, p.EtCO2}
}

// =========== Node Repository ===========

type nodeRepoPG struct{ pool *pgxpool.Pool }

func NewNodeRepoPG(pool *pgxpool.Pool) NodeRepository {
	return &nodeRepoPG{pool: pool}
}

func (r *nodeRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const nodeCols = `scenario_id, node_id, ` + vitalCols + `,
	action, on_success, on_failure, additional_details, parent_role, timer_seconds`

func (r *nodeRepoPG) scanNode(row pgx.Row) (*Node, error) {
	var n Node
	dest := []interface{}{&n.ScenarioID, &n.ID}
	dest = append(dest, vitalDest(&n.Vitals)...)
	dest = append(dest, &n.Action, &n.OnSuccess, &n.OnFailure, &n.AdditionalDetails,
		&n.ParentRole, &n.TimerSeconds)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	n.IsBaseline = n.ID == BaselineNodeID
	return &n, nil
}

func (r *nodeRepoPG) ListNodes(ctx context.Context, scenarioID int) ([]Node, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+nodeCols+` FROM timeline_node
		WHERE scenario_id = $1 ORDER BY node_id`, scenarioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Node
	for rows.Next() {
		n, err := r.scanNode(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *n)
	}
	return items, rows.Err()
}

func (r *nodeRepoPG) GetNode(ctx context.Context, scenarioID, nodeID int) (*Node, error) {
	n, err := r.scanNode(r.conn(ctx).QueryRow(ctx, `SELECT `+nodeCols+` FROM timeline_node
		WHERE scenario_id = $1 AND node_id = $2`, scenarioID, nodeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

func (r *nodeRepoPG) NodeExists(ctx context.Context, scenarioID, nodeID int) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(
		SELECT 1 FROM timeline_node WHERE scenario_id = $1 AND node_id = $2)`,
		scenarioID, nodeID).Scan(&exists)
	return exists, err
}

func (r *nodeRepoPG) InsertNode(ctx context.Context, n *Node) error {
	args := []interface{}{n.ScenarioID, n.ID}
	args = append(args, vitalArgs(n.Vitals)...)
	args = append(args, n.Action, n.OnSuccess, n.OnFailure, n.AdditionalDetails,
		n.ParentRole, n.TimerSeconds)
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO timeline_node (scenario_id, node_id, blood_pressure, heart_rate,
			respiratory_rate, temperature, spo2, fio2, o2_flow, etco2,
			action, on_success, on_failure, additional_details, parent_role, timer_seconds)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`, args...)
	return err
}

func (r *nodeRepoPG) UpdateNodeText(ctx context.Context, scenarioID, nodeID int, field TextField, value string) (bool, error) {
	var query string
	switch field {
	case FieldAction:
		query = `UPDATE timeline_node SET action = $3 WHERE scenario_id = $1 AND node_id = $2`
	case FieldAdditionalDetails:
		query = `UPDATE timeline_node SET additional_details = $3 WHERE scenario_id = $1 AND node_id = $2`
	case FieldParentRole:
		query = `UPDATE timeline_node SET parent_role = NULLIF($3, '') WHERE scenario_id = $1 AND node_id = $2`
	default:
		return false, fmt.Errorf("unknown text field %q", field)
	}
	tag, err := r.conn(ctx).Exec(ctx, query, scenarioID, nodeID, value)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *nodeRepoPG) UpdateBranchTargets(ctx context.Context, scenarioID, nodeID, onSuccess, onFailure int) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE timeline_node SET on_success = $3, on_failure = $4
		WHERE scenario_id = $1 AND node_id = $2`, scenarioID, nodeID, onSuccess, onFailure)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *nodeRepoPG) UpdateTimer(ctx context.Context, scenarioID, nodeID, seconds int) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE timeline_node SET timer_seconds = $3
		WHERE scenario_id = $1 AND node_id = $2`, scenarioID, nodeID, seconds)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *nodeRepoPG) UpdateNodeVital(ctx context.Context, scenarioID, nodeID int, col vitals.Column, value interface{}) (bool, error) {
	name, err := vitalColumn(col)
	if err != nil {
		return false, err
	}
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE timeline_node SET `+name+` = $3
		WHERE scenario_id = $1 AND node_id = $2`, scenarioID, nodeID, value)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *nodeRepoPG) UpdateNodeVitals(ctx context.Context, scenarioID, nodeID int, set vitals.ParameterSet) (bool, error) {
	args := append([]interface{}{scenarioID, nodeID}, vitalArgs(set)...)
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE timeline_node SET blood_pressure = $3, heart_rate = $4, respiratory_rate = $5,
			temperature = $6, spo2 = $7, fio2 = $8, o2_flow = $9, etco2 = $10
		WHERE scenario_id = $1 AND node_id = $2`, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *nodeRepoPG) DeleteNode(ctx context.Context, scenarioID, nodeID int) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM timeline_node WHERE scenario_id = $1 AND node_id = $2`,
		scenarioID, nodeID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *nodeRepoPG) DeleteAllNodes(ctx context.Context, scenarioID int) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM timeline_node WHERE scenario_id = $1`, scenarioID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// =========== Baseline Repository ===========

type baselineRepoPG struct{ pool *pgxpool.Pool }

func NewBaselineRepoPG(pool *pgxpool.Pool) BaselineRepository {
	return &baselineRepoPG{pool: pool}
}

func (r *baselineRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

func (r *baselineRepoPG) GetBaseline(ctx context.Context, scenarioID int) (*Baseline, error) {
	var b Baseline
	dest := []interface{}{&b.ScenarioID}
	dest = append(dest, vitalDest(&b.Vitals)...)
	dest = append(dest, &b.Monitor, &b.UpdatedAt)
	err := r.conn(ctx).QueryRow(ctx, `SELECT scenario_id, `+vitalCols+`, monitor, updated_at
		FROM baseline_state WHERE scenario_id = $1`, scenarioID).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT id, kind, type, position, side, gauge
		FROM vascular_access WHERE scenario_id = $1 ORDER BY id`, scenarioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	b.VenousAccess = []VascularAccess{}
	b.ArterialAccess = []VascularAccess{}
	for rows.Next() {
		var a VascularAccess
		if err := rows.Scan(&a.ID, &a.Kind, &a.Type, &a.Position, &a.Side, &a.Gauge); err != nil {
			return nil, err
		}
		if a.Kind == AccessArterial {
			b.ArterialAccess = append(b.ArterialAccess, a)
		} else {
			b.VenousAccess = append(b.VenousAccess, a)
		}
	}
	return &b, rows.Err()
}

func (r *baselineRepoPG) UpsertBaseline(ctx context.Context, b *Baseline) error {
	args := []interface{}{b.ScenarioID}
	args = append(args, vitalArgs(b.Vitals)...)
	args = append(args, b.Monitor)
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO baseline_state (scenario_id, blood_pressure, heart_rate, respiratory_rate,
			temperature, spo2, fio2, o2_flow, etco2, monitor)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (scenario_id) DO UPDATE SET
			blood_pressure = EXCLUDED.blood_pressure, heart_rate = EXCLUDED.heart_rate,
			respiratory_rate = EXCLUDED.respiratory_rate, temperature = EXCLUDED.temperature,
			spo2 = EXCLUDED.spo2, fio2 = EXCLUDED.fio2, o2_flow = EXCLUDED.o2_flow,
			etco2 = EXCLUDED.etco2, monitor = EXCLUDED.monitor, updated_at = NOW()
		RETURNING updated_at`, args...).Scan(&b.UpdatedAt)
}

func (r *baselineRepoPG) UpdateBaselineVital(ctx context.Context, scenarioID int, col vitals.Column, value interface{}) (bool, error) {
	name, err := vitalColumn(col)
	if err != nil {
		return false, err
	}
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE baseline_state SET `+name+` = $2, updated_at = NOW()
		WHERE scenario_id = $1`, scenarioID, value)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *baselineRepoPG) ReplaceAccess(ctx context.Context, scenarioID int, kind string, items []VascularAccess) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM vascular_access WHERE scenario_id = $1 AND kind = $2`,
		scenarioID, kind); err != nil {
		return err
	}
	for i := range items {
		items[i].Kind = kind
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO vascular_access (scenario_id, kind, type, position, side, gauge)
			VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			scenarioID, kind, items[i].Type, items[i].Position, items[i].Side, items[i].Gauge,
		).Scan(&items[i].ID)
		if err != nil {
			return err
		}
	}
	return nil
}

// =========== Parameter Repository ===========

type parameterRepoPG struct{ pool *pgxpool.Pool }

func NewParameterRepoPG(pool *pgxpool.Pool) ParameterRepository {
	return &parameterRepoPG{pool: pool}
}

func (r *parameterRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const paramCols = `id, scenario_id, node_id, name, value, unit`

func (r *parameterRepoPG) scanParam(row pgx.Row) (*Parameter, error) {
	var p Parameter
	err := row.Scan(&p.ID, &p.ScenarioID, &p.NodeID, &p.Name, &p.Value, &p.Unit)
	return &p, err
}

func (r *parameterRepoPG) ListParameters(ctx context.Context, scenarioID, nodeID int) ([]Parameter, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+paramCols+` FROM additional_parameter
		WHERE scenario_id = $1 AND node_id = $2 ORDER BY id`, scenarioID, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Parameter
	for rows.Next() {
		p, err := r.scanParam(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *p)
	}
	return items, rows.Err()
}

func (r *parameterRepoPG) InsertParameter(ctx context.Context, p *Parameter) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO additional_parameter (scenario_id, node_id, name, value, unit)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		p.ScenarioID, p.NodeID, p.Name, p.Value, p.Unit).Scan(&p.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateParameter
	}
	return err
}

func (r *parameterRepoPG) UpsertParameter(ctx context.Context, p *Parameter) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO additional_parameter (scenario_id, node_id, name, value, unit)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (scenario_id, node_id, name) DO UPDATE SET
			value = EXCLUDED.value, unit = EXCLUDED.unit
		RETURNING id`,
		p.ScenarioID, p.NodeID, p.Name, p.Value, p.Unit).Scan(&p.ID)
}

func (r *parameterRepoPG) UpsertParameterValue(ctx context.Context, scenarioID, nodeID int, name string, value float64) (*Parameter, error) {
	return r.scanParam(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO additional_parameter (scenario_id, node_id, name, value, unit)
		VALUES ($1,$2,$3,$4,'')
		ON CONFLICT (scenario_id, node_id, name) DO UPDATE SET value = EXCLUDED.value
		RETURNING `+paramCols, scenarioID, nodeID, name, value))
}

func (r *parameterRepoPG) DeleteParameter(ctx context.Context, scenarioID, nodeID int, name string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM additional_parameter
		WHERE scenario_id = $1 AND node_id = $2 AND name = $3`, scenarioID, nodeID, name)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *parameterRepoPG) DeleteParametersForNode(ctx context.Context, scenarioID, nodeID int) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM additional_parameter WHERE scenario_id = $1 AND node_id = $2`,
		scenarioID, nodeID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
