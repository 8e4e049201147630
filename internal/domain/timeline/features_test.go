package timeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cucumber/godog"
	"github.com/rs/zerolog"

	"github.com/medsim/scenario/internal/domain/vitals"
)

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"testdata/features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

// scenarioState holds the service and the result of the last edit of one
// feature scenario.
type scenarioState struct {
	svc        *Service
	resolver   *Resolver
	scenarioID int
	lastErr    error
	lastOut    *Outcome
	changed    bool
}

func InitializeScenario(sc *godog.ScenarioContext) {
	st := &scenarioState{}

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		st.svc = NewService(NewMemoryStore().Store(), zerolog.Nop())
		st.resolver = NewResolver(st.svc)
		st.scenarioID = 7
		st.lastErr, st.lastOut, st.changed = nil, nil, false
		return ctx, nil
	})

	sc.Step(`^scenario (\d+)$`, st.useScenario)
	sc.Step(`^a baseline with "([^"]*)" of "([^"]*)"$`, st.aBaselineWith)
	sc.Step(`^the timeline is saved with nodes "([^"]*)"$`, st.saveNodes)
	sc.Step(`^node (\d+) branches to (\d+) on success and (\d+) on failure$`, st.nodeBranches)
	sc.Step(`^node (\d+) has "([^"]*)" of "([^"]*)"$`, st.nodeHas)
	sc.Step(`^node (\d+) has parameter "([^"]*)" of ([0-9.]+)$`, st.nodeHasParameter)
	sc.Step(`^I set "([^"]*)" to "([^"]*)" on the baseline$`, st.setOnBaseline)
	sc.Step(`^I set "([^"]*)" to "([^"]*)" on node (\d+)$`, st.setOnNode)
	sc.Step(`^I save the timeline with nodes "([^"]*)"$`, st.saveNodesRecorded)
	sc.Step(`^I delete node (\d+)$`, st.deleteNode)
	sc.Step(`^the edit is rejected$`, st.editRejected)
	sc.Step(`^the edit reports no change$`, st.editNoChange)
	sc.Step(`^the edit is mirrored to node 0$`, st.editMirrored)
	sc.Step(`^the severity is "([^"]*)"$`, st.severityIs)
	sc.Step(`^the baseline "([^"]*)" is "([^"]*)"$`, st.baselineIs)
	sc.Step(`^node (\d+) "([^"]*)" is "([^"]*)"$`, st.nodeVitalIs)
	sc.Step(`^node (\d+) parameter "([^"]*)" is ([0-9.]+)$`, st.parameterIs)
	sc.Step(`^node (\d+) has no parameters$`, st.noParameters)
	sc.Step(`^the timeline has nodes "([^"]*)"$`, st.timelineHasNodes)
	sc.Step(`^the timeline is consistent$`, st.consistent)
	sc.Step(`^node (\d+) has a dangling "([^"]*)" reference to (\d+)$`, st.dangling)
}

func parseIDs(list string) ([]int, error) {
	var ids []int
	for _, s := range strings.Split(list, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid node id %q", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (st *scenarioState) useScenario(id int) error {
	st.scenarioID = id
	return nil
}

func (st *scenarioState) aBaselineWith(label, value string) error {
	col, ok := vitals.Lookup(label)
	if !ok {
		return fmt.Errorf("unknown vital %q", label)
	}
	parsed, err := vitals.ParseValue(col, value)
	if err != nil {
		return err
	}
	b := &Baseline{ScenarioID: st.scenarioID}
	b.Vitals.Set(col, parsed)
	return st.svc.SaveBaseline(context.Background(), b)
}

func (st *scenarioState) saveNodes(list string) error {
	ids, err := parseIDs(list)
	if err != nil {
		return err
	}
	nodes := make([]Node, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, Node{ID: id})
	}
	if id := BaselineNodeID; containsID(ids, id) {
		if b, err := st.svc.GetBaseline(context.Background(), st.scenarioID); err == nil {
			for i := range nodes {
				if nodes[i].ID == id {
					nodes[i].Vitals = b.Vitals
				}
			}
		}
	}
	return st.svc.SaveTimeline(context.Background(), st.scenarioID, nodes)
}

func (st *scenarioState) saveNodesRecorded(list string) error {
	st.lastErr = st.saveNodes(list)
	return nil
}

func containsID(ids []int, id int) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func (st *scenarioState) nodeBranches(id, onSuccess, onFailure int) error {
	changed, err := st.svc.SetBranchTargets(context.Background(), st.scenarioID, id, onSuccess, onFailure)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("node %d does not exist", id)
	}
	return nil
}

func (st *scenarioState) nodeHas(id int, label, value string) error {
	out, err := st.resolver.Apply(context.Background(), st.scenarioID, &id, label, value)
	if err != nil {
		return err
	}
	if !out.Changed {
		return fmt.Errorf("node %d does not exist", id)
	}
	return nil
}

func (st *scenarioState) nodeHasParameter(id int, name string, value float64) error {
	return st.svc.AddParameter(context.Background(), st.scenarioID, &id, &Parameter{Name: name, Value: value})
}

func (st *scenarioState) record(out *Outcome, err error) error {
	st.lastOut, st.lastErr = out, err
	st.changed = err == nil && out.Changed
	return nil
}

func (st *scenarioState) setOnBaseline(label, value string) error {
	return st.record(st.resolver.Apply(context.Background(), st.scenarioID, nil, label, value))
}

func (st *scenarioState) setOnNode(label, value string, id int) error {
	return st.record(st.resolver.Apply(context.Background(), st.scenarioID, &id, label, value))
}

func (st *scenarioState) deleteNode(id int) error {
	changed, err := st.svc.DeleteNode(context.Background(), st.scenarioID, id)
	st.changed, st.lastErr = changed, err
	return nil
}

func (st *scenarioState) editRejected() error {
	if !IsValidation(st.lastErr) {
		return fmt.Errorf("expected a validation error, got %v", st.lastErr)
	}
	return nil
}

func (st *scenarioState) editNoChange() error {
	if st.lastErr != nil {
		return fmt.Errorf("unexpected error: %w", st.lastErr)
	}
	if st.changed {
		return fmt.Errorf("expected no change")
	}
	return nil
}

func (st *scenarioState) editMirrored() error {
	if st.lastErr != nil {
		return fmt.Errorf("unexpected error: %w", st.lastErr)
	}
	if st.lastOut == nil || !st.lastOut.Mirrored {
		return fmt.Errorf("expected the edit to reach node 0, got %+v", st.lastOut)
	}
	return nil
}

func (st *scenarioState) severityIs(want string) error {
	if st.lastOut == nil {
		return fmt.Errorf("no edit recorded: %v", st.lastErr)
	}
	if string(st.lastOut.Severity) != want {
		return fmt.Errorf("expected severity %s, got %s", want, st.lastOut.Severity)
	}
	return nil
}

func formatVital(ps vitals.ParameterSet, label string) (string, error) {
	col, ok := vitals.Lookup(label)
	if !ok {
		return "", fmt.Errorf("unknown vital %q", label)
	}
	v := ps.Get(col)
	if v == nil {
		return "", nil
	}
	return fmt.Sprint(v), nil
}

func (st *scenarioState) baselineIs(label, want string) error {
	b, err := st.svc.GetBaseline(context.Background(), st.scenarioID)
	if err != nil {
		return err
	}
	got, err := formatVital(b.Vitals, label)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("baseline %s: expected %q, got %q", label, want, got)
	}
	return nil
}

func (st *scenarioState) graph() (*Graph, error) {
	return st.svc.GetGraph(context.Background(), st.scenarioID)
}

func (st *scenarioState) nodeVitalIs(id int, label, want string) error {
	g, err := st.graph()
	if err != nil {
		return err
	}
	n, ok := g.Node(id)
	if !ok {
		return fmt.Errorf("node %d does not exist", id)
	}
	got, err := formatVital(n.Vitals, label)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("node %d %s: expected %q, got %q", id, label, want, got)
	}
	return nil
}

func (st *scenarioState) parameterIs(id int, name string, want float64) error {
	items, err := st.svc.ListParameters(context.Background(), st.scenarioID, id)
	if err != nil {
		return err
	}
	for _, p := range items {
		if p.Name == name {
			if p.Value != want {
				return fmt.Errorf("parameter %s: expected %v, got %v", name, want, p.Value)
			}
			return nil
		}
	}
	return fmt.Errorf("node %d has no parameter %q", id, name)
}

func (st *scenarioState) noParameters(id int) error {
	items, err := st.svc.ListParameters(context.Background(), st.scenarioID, id)
	if err != nil {
		return err
	}
	if len(items) != 0 {
		return fmt.Errorf("expected no parameters on node %d, got %d", id, len(items))
	}
	return nil
}

func (st *scenarioState) timelineHasNodes(list string) error {
	want, err := parseIDs(list)
	if err != nil {
		return err
	}
	g, err := st.graph()
	if err != nil {
		return err
	}
	var got []int
	for _, n := range g.Timeline() {
		got = append(got, n.ID)
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		return fmt.Errorf("expected nodes %v, got %v", want, got)
	}
	return nil
}

func (st *scenarioState) consistent() error {
	refs, err := st.svc.CheckConsistency(context.Background(), st.scenarioID)
	if err != nil {
		return err
	}
	if len(refs) != 0 {
		return fmt.Errorf("expected no dangling references, got %+v", refs)
	}
	return nil
}

func (st *scenarioState) dangling(id int, branch string, target int) error {
	refs, err := st.svc.CheckConsistency(context.Background(), st.scenarioID)
	if err != nil {
		return err
	}
	for _, r := range refs {
		if r.NodeID == id && r.Branch == branch && r.Target == target {
			return nil
		}
	}
	return fmt.Errorf("no dangling %s reference from node %d to %d in %+v", branch, id, target, refs)
}
