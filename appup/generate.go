package appup

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/RAMAABHI/rebar3-appup-plugin/beam"
	"github.com/RAMAABHI/rebar3-appup-plugin/release"
	"github.com/RAMAABHI/rebar3-appup-plugin/syntax"
	"github.com/RAMAABHI/rebar3-appup-plugin/xref"
)

var log = commonlog.GetLogger("appup.generate")

// ---------------------------------------------------------------------------
// Role classification
// ---------------------------------------------------------------------------

// Role is a module's declared behavioral role, drawn from a closed set.
type Role int

const (
	RoleNone Role = iota
	RoleSupervisor
	RoleStateHolder // generic stateful server
	RoleEventHandler
	RoleStateMachine
	RoleApplication
)

var roleNames = map[string]Role{
	"supervisor":  RoleSupervisor,
	"gen_server":  RoleStateHolder,
	"gen_event":   RoleEventHandler,
	"gen_statem":  RoleStateMachine,
	"gen_fsm":     RoleStateMachine,
	"application": RoleApplication,
}

// ErrUnresolvedRole reports a declared-role combination with no defined
// precedence. The only resolved pair is {application, supervisor}; an
// application's top-level module doubling as its own supervisor takes
// the structural path.
var ErrUnresolvedRole = errors.New("unresolved role combination")

// classify resolves a module's declared behaviours to a single role.
func classify(module string, behaviours []string) (Role, error) {
	var roles []Role
	for _, b := range behaviours {
		if r, ok := roleNames[b]; ok {
			roles = append(roles, r)
		}
	}
	switch len(roles) {
	case 0:
		return RoleNone, nil
	case 1:
		return roles[0], nil
	case 2:
		if (roles[0] == RoleApplication && roles[1] == RoleSupervisor) ||
			(roles[0] == RoleSupervisor && roles[1] == RoleApplication) {
			return RoleSupervisor, nil
		}
	}
	return RoleNone, fmt.Errorf("%w: module %s declares %v", ErrUnresolvedRole, module, behaviours)
}

// ---------------------------------------------------------------------------
// Purge table
// ---------------------------------------------------------------------------

// PurgePair is a (pre-purge, post-purge) policy pair.
type PurgePair struct {
	Pre  Purge
	Post Purge
}

// PurgeTable resolves a module's purge policy by exact name lookup,
// falling back to the default pair.
type PurgeTable struct {
	Default PurgePair
	Modules map[string]PurgePair
}

// DefaultPurgeTable purges softly in both phases for every module.
func DefaultPurgeTable() *PurgeTable {
	return &PurgeTable{Default: PurgePair{Pre: SoftPurge, Post: SoftPurge}}
}

// For returns the purge pair for module.
func (t *PurgeTable) For(module string) PurgePair {
	if t == nil {
		return PurgePair{Pre: SoftPurge, Post: SoftPurge}
	}
	if p, ok := t.Modules[module]; ok {
		return p
	}
	return t.Default
}

// ---------------------------------------------------------------------------
// Instruction Generator
// ---------------------------------------------------------------------------

// readTags is the chunk set the generator needs from a changed module's
// new artifact. Everything but the atom table may legitimately be absent.
var readTags = []string{
	beam.TagAtomWide, beam.TagAtomNarrow,
	beam.TagAttributes, beam.TagExports, beam.TagSyntax,
}

var readOptional = readTags

// Generator emits one instruction (or supervisor instruction sequence)
// per added, removed and changed module.
type Generator struct {
	Xref    *xref.Index
	Purge   *PurgeTable
	Runtime syntax.Runtime
}

// NewGenerator wires a generator with the default purge table and the
// static evaluator runtime.
func NewGenerator(x *xref.Index) *Generator {
	return &Generator{
		Xref:    x,
		Purge:   DefaultPurgeTable(),
		Runtime: syntax.NewEvaluator(),
	}
}

// Plan turns a directory diff into the upgrade instruction list: added
// modules first, then changed modules, then deleted modules.
func (g *Generator) Plan(d *release.Diff) ([]Instruction, error) {
	// deps are computed against the changed+added module set.
	depSet := append(append([]string{}, d.OnlyNew...), d.ChangedNames()...)

	var plan []Instruction
	for _, name := range d.OnlyNew {
		plan = append(plan, AddModule{Name: name, Deps: g.deps(name, depSet)})
	}

	for _, pair := range d.Changed {
		ins, err := g.changedModule(pair, depSet)
		if err != nil {
			return nil, err
		}
		plan = append(plan, ins...)
	}

	for _, name := range d.OnlyOld {
		plan = append(plan, DeleteModule{Name: name})
	}
	return plan, nil
}

// ApplicationPlan is the degenerate plan for a whole-component addition
// or removal: a single instruction, no dependency analysis.
func ApplicationPlan(name string, added bool) []Instruction {
	if added {
		return []Instruction{AddApplication{Name: name}}
	}
	return []Instruction{RemoveApplication{Name: name}}
}

// changedModule classifies one changed module and emits its instructions.
func (g *Generator) changedModule(pair release.ModulePair, depSet []string) ([]Instruction, error) {
	newFile, err := beam.ReadFile(pair.NewPath, readTags, readOptional)
	if err != nil {
		return nil, err
	}
	attrs, err := newFile.Attributes()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pair.Name, err)
	}
	role, err := classify(pair.Name, attrs.Behaviours)
	if err != nil {
		return nil, err
	}

	if role == RoleSupervisor {
		oldFile, err := beam.ReadFile(pair.OldPath, readTags, readOptional)
		if err != nil {
			return nil, err
		}
		return g.superviseDiff(pair.Name, oldFile, newFile), nil
	}

	// The transfer hook outranks the remaining roles: a module that can
	// migrate its own state gets the state-holder update regardless of
	// what it declares.
	hook, err := newFile.ExportsFunction("code_change", 3)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pair.Name, err)
	}
	purge := g.Purge.For(pair.Name)
	deps := g.deps(pair.Name, depSet)
	if hook {
		return []Instruction{UpdateStateHolder{
			Name: pair.Name, Deps: deps,
			PrePurge: purge.Pre, PostPurge: purge.Post,
		}}, nil
	}

	return []Instruction{LoadModule{
		Name: pair.Name, PrePurge: purge.Pre, PostPurge: purge.Post, Deps: deps,
	}}, nil
}

// deps queries the call graph for the modules name statically calls,
// restricted to candidates and excluding self-calls.
func (g *Generator) deps(name string, candidates []string) []string {
	if g.Xref == nil {
		return nil
	}
	return g.Xref.Calls(name, candidates)
}
