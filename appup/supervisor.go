package appup

import (
	"github.com/RAMAABHI/rebar3-appup-plugin/beam"
	"github.com/RAMAABHI/rebar3-appup-plugin/syntax"
)

// ---------------------------------------------------------------------------
// Supervision-Tree Differ
// ---------------------------------------------------------------------------

// superviseDiff emits the instruction sequence for a changed supervisor
// module: worker children added on the new side get a restart sequence,
// workers removed get a terminate/delete sequence, and a supervisor with
// no child changes still gets the single structural update instruction.
func (g *Generator) superviseDiff(name string, oldFile, newFile *beam.File) []Instruction {
	oldWorkers := g.workerChildren(name, oldFile)
	newWorkers := g.workerChildren(name, newFile)

	var added, removed []string
	for _, w := range newWorkers {
		if !contains(oldWorkers, w) {
			added = append(added, w)
		}
	}
	for _, w := range oldWorkers {
		if !contains(newWorkers, w) {
			removed = append(removed, w)
		}
	}

	if len(added) == 0 && len(removed) == 0 {
		return []Instruction{UpdateSupervisor{Name: name}}
	}

	var out []Instruction
	for _, w := range added {
		out = append(out,
			UpdateSupervisor{Name: name},
			Apply{Module: "supervisor", Function: "restart_child", Args: []string{name, w}},
		)
	}
	for _, w := range removed {
		out = append(out,
			Apply{Module: "supervisor", Function: "terminate_child", Args: []string{name, w}},
			Apply{Module: "supervisor", Function: "delete_child", Args: []string{name, w}},
			UpdateSupervisor{Name: name},
		)
	}
	return out
}

// workerChildren obtains one side's worker child start modules by loading
// the stored forms transiently, folding the init argument, and invoking
// init. Any failure along the way means the child specification is
// unavailable for that side: the differ logs it and proceeds with no
// known children. The transient load is released on every exit path.
func (g *Generator) workerChildren(name string, f *beam.File) []string {
	chunk := f.Chunk(beam.TagSyntax)
	if chunk == nil || chunk.Data == nil {
		log.Infof("supervisor %s: no stored forms, child spec unavailable", name)
		return nil
	}

	var workers []string
	err := syntax.WithModule(g.Runtime, name, chunk.Data, func(m *syntax.Module) error {
		arg, err := syntax.InitArgument(m)
		if err != nil {
			return err
		}
		result, err := g.Runtime.InvokeInit(m, arg)
		if err != nil {
			return err
		}
		workers = workerModules(result)
		return nil
	})
	if err != nil {
		log.Warningf("supervisor %s: child spec unavailable: %v", name, err)
		return nil
	}
	return workers
}

// workerModules extracts worker start-module names from an init result of
// the shape {ok, {Flags, [ChildSpec]}} where each child spec is the
// six-tuple {Id, {Mod, Fun, Args}, Restart, Shutdown, Type, Modules}.
// Entries of any other shape, and supervisor-typed children, are skipped.
func workerModules(result syntax.Term) []string {
	top, ok := result.(syntax.Tuple)
	if !ok || len(top) != 2 {
		return nil
	}
	if tag, ok := top[0].(syntax.Atom); !ok || tag != "ok" {
		return nil
	}
	inner, ok := top[1].(syntax.Tuple)
	if !ok || len(inner) != 2 {
		return nil
	}
	children, ok := inner[1].(syntax.List)
	if !ok {
		return nil
	}

	var out []string
	for _, child := range children {
		spec, ok := child.(syntax.Tuple)
		if !ok || len(spec) != 6 {
			continue
		}
		kind, ok := spec[4].(syntax.Atom)
		if !ok || kind != "worker" {
			continue
		}
		start, ok := spec[1].(syntax.Tuple)
		if !ok || len(start) != 3 {
			continue
		}
		mod, ok := start[0].(syntax.Atom)
		if !ok {
			continue
		}
		out = append(out, string(mod))
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
