package appup

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/RAMAABHI/rebar3-appup-plugin/beam"
	"github.com/RAMAABHI/rebar3-appup-plugin/release"
	"github.com/RAMAABHI/rebar3-appup-plugin/syntax"
	"github.com/RAMAABHI/rebar3-appup-plugin/xref"
)

// ---------------------------------------------------------------------------
// Test Helpers: authoring release directories
// ---------------------------------------------------------------------------

// testModule describes one artifact to author.
type testModule struct {
	name       string
	code       []byte
	behaviours []string
	exports    []beam.Export
	imports    []string // called modules
	workers    []string // supervisor worker children; implies a Dbgi chunk
	noForms    bool     // behave like a supervisor stripped of its forms
}

func writeRelease(t *testing.T, dir string, mods ...testModule) {
	t.Helper()
	for _, m := range mods {
		w := beam.NewWriter(m.name)
		w.SetChunk("Code", m.code)
		for _, e := range m.exports {
			w.AddExport(e.Name, e.Arity)
		}
		for _, imp := range m.imports {
			w.AddImport(imp, "run", 1)
		}
		if len(m.behaviours) > 0 {
			if err := w.SetAttributes(&beam.Attributes{Behaviours: m.behaviours, Vsn: "1"}); err != nil {
				t.Fatal(err)
			}
		}
		if (len(m.workers) > 0 || hasBehaviour(m, "supervisor")) && !m.noForms {
			payload, err := syntax.Encode(supervisorForms(m.name, m.workers))
			if err != nil {
				t.Fatal(err)
			}
			w.SetChunk(beam.TagSyntax, payload)
		}
		if err := w.WriteFile(filepath.Join(dir, m.name+".beam")); err != nil {
			t.Fatalf("writing %s: %v", m.name, err)
		}
	}
}

func hasBehaviour(m testModule, b string) bool {
	for _, x := range m.behaviours {
		if x == b {
			return true
		}
	}
	return false
}

// supervisorForms builds stored forms whose init/1 returns the classic
// {ok, {Flags, Children}} shape with one worker child per name.
func supervisorForms(name string, workers []string) *syntax.Module {
	children := make([]*syntax.Expr, len(workers))
	for i, w := range workers {
		children[i] = &syntax.Expr{Kind: syntax.KindTuple, Elems: []*syntax.Expr{
			{Kind: syntax.KindAtom, Text: w + "_id"},
			{Kind: syntax.KindTuple, Elems: []*syntax.Expr{
				{Kind: syntax.KindAtom, Text: w},
				{Kind: syntax.KindAtom, Text: "start_link"},
				{Kind: syntax.KindNil},
			}},
			{Kind: syntax.KindAtom, Text: "permanent"},
			{Kind: syntax.KindInt, Int: 5000},
			{Kind: syntax.KindAtom, Text: "worker"},
			{Kind: syntax.KindList, Elems: []*syntax.Expr{{Kind: syntax.KindAtom, Text: w}}},
		}}
	}
	body := &syntax.Expr{Kind: syntax.KindTuple, Elems: []*syntax.Expr{
		{Kind: syntax.KindAtom, Text: "ok"},
		{Kind: syntax.KindTuple, Elems: []*syntax.Expr{
			{Kind: syntax.KindVar, Text: "Flags"},
			{Kind: syntax.KindList, Elems: children},
		}},
	}}
	return &syntax.Module{
		Name: name,
		Functions: []*syntax.Function{{
			Name:  "init",
			Arity: 1,
			Clauses: []*syntax.Clause{{
				Params: []*syntax.Expr{{Kind: syntax.KindVar, Text: "Flags"}},
				Body:   []*syntax.Expr{body},
			}},
		}},
	}
}

// plan diffs two authored releases and generates the upgrade plan.
func plan(t *testing.T, oldDir, newDir string) []Instruction {
	t.Helper()
	d, err := release.DiffDirs(oldDir, newDir, nil)
	if err != nil {
		t.Fatalf("DiffDirs failed: %v", err)
	}
	x, err := xref.Open("", oldDir, newDir)
	if err != nil {
		t.Fatalf("xref.Open failed: %v", err)
	}
	defer x.Close()

	up, err := NewGenerator(x).Plan(d)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	return up
}

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

// TestPlanSymmetry: one changed plain-code module yields exactly one
// load instruction in each direction with identical purge policy.
func TestPlanSymmetry(t *testing.T) {
	oldDir := t.TempDir()
	newDir := t.TempDir()
	writeRelease(t, oldDir, testModule{name: "plain_mod", code: []byte{1}})
	writeRelease(t, newDir, testModule{name: "plain_mod", code: []byte{2}})

	up := plan(t, oldDir, newDir)
	down := InvertPlan(up)

	for _, p := range [][]Instruction{up, down} {
		if len(p) != 1 {
			t.Fatalf("plan = %#v, want one instruction", p)
		}
		lm, ok := p[0].(LoadModule)
		if !ok {
			t.Fatalf("instruction = %#v, want LoadModule", p[0])
		}
		if lm.Name != "plain_mod" || lm.PrePurge != SoftPurge || lm.PostPurge != SoftPurge {
			t.Errorf("LoadModule = %+v", lm)
		}
	}
}

func TestStateHolderClassification(t *testing.T) {
	oldDir := t.TempDir()
	newDir := t.TempDir()
	server := testModule{
		name:       "my_server",
		behaviours: []string{"gen_server"},
		exports:    []beam.Export{{Name: "code_change", Arity: 3}},
	}
	server.code = []byte{1}
	writeRelease(t, oldDir, server)
	server.code = []byte{2}
	writeRelease(t, newDir, server)

	up := plan(t, oldDir, newDir)
	if len(up) != 1 {
		t.Fatalf("plan = %#v, want one instruction", up)
	}
	ush, ok := up[0].(UpdateStateHolder)
	if !ok {
		t.Fatalf("instruction = %#v, want UpdateStateHolder", up[0])
	}
	if ush.Name != "my_server" {
		t.Errorf("Name = %q, want my_server", ush.Name)
	}
}

// A plain module exporting the transfer hook takes the state-holder path
// even with no declared role.
func TestTransferHookWithoutRole(t *testing.T) {
	oldDir := t.TempDir()
	newDir := t.TempDir()
	m := testModule{name: "hooked", exports: []beam.Export{{Name: "code_change", Arity: 3}}}
	m.code = []byte{1}
	writeRelease(t, oldDir, m)
	m.code = []byte{2}
	writeRelease(t, newDir, m)

	up := plan(t, oldDir, newDir)
	if _, ok := up[0].(UpdateStateHolder); !ok {
		t.Errorf("instruction = %#v, want UpdateStateHolder", up[0])
	}
}

func TestEventHandlerFallsToLoad(t *testing.T) {
	oldDir := t.TempDir()
	newDir := t.TempDir()
	m := testModule{name: "handler", behaviours: []string{"gen_event"}}
	m.code = []byte{1}
	writeRelease(t, oldDir, m)
	m.code = []byte{2}
	writeRelease(t, newDir, m)

	up := plan(t, oldDir, newDir)
	if _, ok := up[0].(LoadModule); !ok {
		t.Errorf("instruction = %#v, want LoadModule", up[0])
	}
}

func TestUnresolvedRoleCombination(t *testing.T) {
	oldDir := t.TempDir()
	newDir := t.TempDir()
	m := testModule{name: "odd", behaviours: []string{"gen_server", "gen_event"}}
	m.code = []byte{1}
	writeRelease(t, oldDir, m)
	m.code = []byte{2}
	writeRelease(t, newDir, m)

	d, err := release.DiffDirs(oldDir, newDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewGenerator(nil).Plan(d)
	if !errors.Is(err, ErrUnresolvedRole) {
		t.Errorf("err = %v, want ErrUnresolvedRole", err)
	}
}

// The one resolved pair: a module that is both its application's entry
// point and its own supervisor takes the structural path.
func TestApplicationSupervisorPair(t *testing.T) {
	oldDir := t.TempDir()
	newDir := t.TempDir()
	m := testModule{
		name:       "app_sup",
		behaviours: []string{"application", "supervisor"},
		workers:    []string{"worker_a"},
	}
	m.code = []byte{1}
	writeRelease(t, oldDir, m)
	m.code = []byte{2}
	writeRelease(t, newDir, m)

	up := plan(t, oldDir, newDir)
	if len(up) != 1 {
		t.Fatalf("plan = %#v, want the structural no-op marker", up)
	}
	if _, ok := up[0].(UpdateSupervisor); !ok {
		t.Errorf("instruction = %#v, want UpdateSupervisor", up[0])
	}
}

// ---------------------------------------------------------------------------
// Added / removed modules and ordering
// ---------------------------------------------------------------------------

func TestAddedChangedDeletedOrdering(t *testing.T) {
	oldDir := t.TempDir()
	newDir := t.TempDir()
	writeRelease(t, oldDir,
		testModule{name: "changed_mod", code: []byte{1}},
		testModule{name: "gone_mod", code: []byte{1}},
	)
	writeRelease(t, newDir,
		testModule{name: "changed_mod", code: []byte{2}},
		testModule{name: "fresh_mod", code: []byte{1}},
	)

	up := plan(t, oldDir, newDir)
	if len(up) != 3 {
		t.Fatalf("plan = %#v, want 3 instructions", up)
	}
	if am, ok := up[0].(AddModule); !ok || am.Name != "fresh_mod" {
		t.Errorf("first = %#v, want AddModule fresh_mod", up[0])
	}
	if lm, ok := up[1].(LoadModule); !ok || lm.Name != "changed_mod" {
		t.Errorf("second = %#v, want LoadModule changed_mod", up[1])
	}
	if dm, ok := up[2].(DeleteModule); !ok || dm.Name != "gone_mod" {
		t.Errorf("third = %#v, want DeleteModule gone_mod", up[2])
	}
}

// Dependencies come from the call graph restricted to the changed+added
// set, excluding self and unchanged modules.
func TestLoadModuleDeps(t *testing.T) {
	oldDir := t.TempDir()
	newDir := t.TempDir()
	writeRelease(t, oldDir,
		testModule{name: "caller", code: []byte{1}, imports: []string{"callee", "stable", "lists"}},
		testModule{name: "callee", code: []byte{1}},
		testModule{name: "stable", code: []byte{1}},
	)
	writeRelease(t, newDir,
		testModule{name: "caller", code: []byte{2}, imports: []string{"callee", "stable", "lists"}},
		testModule{name: "callee", code: []byte{2}},
		testModule{name: "stable", code: []byte{1}},
	)

	up := plan(t, oldDir, newDir)
	var caller *LoadModule
	for _, in := range up {
		if lm, ok := in.(LoadModule); ok && lm.Name == "caller" {
			caller = &lm
		}
	}
	if caller == nil {
		t.Fatalf("plan = %#v, no load for caller", up)
	}
	if len(caller.Deps) != 1 || caller.Deps[0] != "callee" {
		t.Errorf("caller deps = %v, want [callee]", caller.Deps)
	}
}

func TestApplicationPlan(t *testing.T) {
	add := ApplicationPlan("new_app", true)
	if len(add) != 1 {
		t.Fatalf("plan = %#v", add)
	}
	if _, ok := add[0].(AddApplication); !ok {
		t.Errorf("instruction = %#v, want AddApplication", add[0])
	}
	rm := ApplicationPlan("old_app", false)
	if _, ok := rm[0].(RemoveApplication); !ok {
		t.Errorf("instruction = %#v, want RemoveApplication", rm[0])
	}
}

// ---------------------------------------------------------------------------
// Supervision-tree diffing
// ---------------------------------------------------------------------------

// TestSupervisorNoChildChanges: identical worker children yield a single
// structural update and no child management instructions.
func TestSupervisorNoChildChanges(t *testing.T) {
	oldDir := t.TempDir()
	newDir := t.TempDir()
	sup := testModule{name: "my_sup", behaviours: []string{"supervisor"}, workers: []string{"worker_a", "worker_b"}}
	sup.code = []byte{1}
	writeRelease(t, oldDir, sup)
	sup.code = []byte{2}
	writeRelease(t, newDir, sup)

	up := plan(t, oldDir, newDir)
	if len(up) != 1 {
		t.Fatalf("plan = %#v, want single UpdateSupervisor", up)
	}
	if _, ok := up[0].(UpdateSupervisor); !ok {
		t.Errorf("instruction = %#v, want UpdateSupervisor", up[0])
	}
	for _, in := range up {
		if _, ok := in.(Apply); ok {
			t.Errorf("unexpected Apply in no-op supervisor plan: %#v", in)
		}
	}
}

func TestSupervisorNewWorker(t *testing.T) {
	oldDir := t.TempDir()
	newDir := t.TempDir()
	sup := testModule{name: "my_sup", behaviours: []string{"supervisor"}, workers: []string{"worker_a"}}
	sup.code = []byte{1}
	writeRelease(t, oldDir, sup)
	sup.workers = []string{"worker_a", "worker_b"}
	sup.code = []byte{2}
	writeRelease(t, newDir, sup)

	up := plan(t, oldDir, newDir)
	if len(up) != 2 {
		t.Fatalf("plan = %#v, want update then restart", up)
	}
	if us, ok := up[0].(UpdateSupervisor); !ok || us.Name != "my_sup" {
		t.Errorf("first = %#v, want UpdateSupervisor my_sup", up[0])
	}
	apply, ok := up[1].(Apply)
	if !ok || apply.Function != "restart_child" || apply.Args[1] != "worker_b" {
		t.Errorf("second = %#v, want restart_child worker_b", up[1])
	}
}

func TestSupervisorRemovedWorker(t *testing.T) {
	oldDir := t.TempDir()
	newDir := t.TempDir()
	sup := testModule{name: "my_sup", behaviours: []string{"supervisor"}, workers: []string{"worker_a", "worker_b"}}
	sup.code = []byte{1}
	writeRelease(t, oldDir, sup)
	sup.workers = []string{"worker_a"}
	sup.code = []byte{2}
	writeRelease(t, newDir, sup)

	up := plan(t, oldDir, newDir)
	if len(up) != 3 {
		t.Fatalf("plan = %#v, want terminate/delete/update", up)
	}
	term, ok := up[0].(Apply)
	if !ok || term.Function != "terminate_child" || term.Args[1] != "worker_b" {
		t.Errorf("first = %#v, want terminate_child worker_b", up[0])
	}
	del, ok := up[1].(Apply)
	if !ok || del.Function != "delete_child" {
		t.Errorf("second = %#v, want delete_child", up[1])
	}
	if _, ok := up[2].(UpdateSupervisor); !ok {
		t.Errorf("third = %#v, want UpdateSupervisor", up[2])
	}

	// The downgrade recognizes the idiom and restarts the worker.
	down := InvertPlan(up)
	if len(down) != 2 {
		t.Fatalf("downgrade = %#v, want update/restart", down)
	}
	restart, ok := down[1].(Apply)
	if !ok || restart.Function != "restart_child" || restart.Args[1] != "worker_b" {
		t.Errorf("downgrade second = %#v, want restart_child worker_b", down[1])
	}
}

// A supervisor without stored forms still gets its structural update:
// the child spec is unavailable, so no child instructions are emitted.
func TestSupervisorSpecUnavailable(t *testing.T) {
	oldDir := t.TempDir()
	newDir := t.TempDir()
	sup := testModule{name: "my_sup", behaviours: []string{"supervisor"}, noForms: true}
	sup.code = []byte{1}
	writeRelease(t, oldDir, sup)
	sup.code = []byte{2}
	writeRelease(t, newDir, sup)

	up := plan(t, oldDir, newDir)
	if len(up) != 1 {
		t.Fatalf("plan = %#v, want single UpdateSupervisor", up)
	}
	if _, ok := up[0].(UpdateSupervisor); !ok {
		t.Errorf("instruction = %#v, want UpdateSupervisor", up[0])
	}
}
