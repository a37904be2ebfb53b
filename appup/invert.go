package appup

// ---------------------------------------------------------------------------
// Instruction Inverter
// ---------------------------------------------------------------------------

// Invert maps a single instruction to its structural inverse. Reloads and
// updates are symmetric; module additions and deletions swap, with the
// dependency information intentionally dropped (it is unrecoverable on
// the deleted side).
func Invert(in Instruction) Instruction {
	switch i := in.(type) {
	case AddModule:
		return DeleteModule{Name: i.Name}
	case DeleteModule:
		return AddModule{Name: i.Name}
	case AddApplication:
		return RemoveApplication{Name: i.Name}
	case RemoveApplication:
		return AddApplication{Name: i.Name}
	default:
		// LoadModule, UpdateSupervisor, UpdateStateHolder, Apply and Raw
		// invert to themselves.
		return in
	}
}

// InvertPlan derives the downgrade plan from the upgrade plan: each
// instruction (or recognized multi-instruction idiom) is inverted, then
// the unit order is reversed. The supervisor new-worker and
// removed-worker sequences are matched by exact shape and swapped as
// whole units, not instruction-by-instruction.
func InvertPlan(plan []Instruction) []Instruction {
	var units [][]Instruction
	for i := 0; i < len(plan); {
		if unit, n := matchNewWorker(plan[i:]); unit != nil {
			units = append(units, unit)
			i += n
			continue
		}
		if unit, n := matchRemovedWorker(plan[i:]); unit != nil {
			units = append(units, unit)
			i += n
			continue
		}
		units = append(units, []Instruction{Invert(plan[i])})
		i++
	}

	var out []Instruction
	for i := len(units) - 1; i >= 0; i-- {
		out = append(out, units[i]...)
	}
	return out
}

// matchNewWorker recognizes [update supervisor, apply restart_child] and
// returns its inverse: the removed-worker sequence.
func matchNewWorker(plan []Instruction) ([]Instruction, int) {
	if len(plan) < 2 {
		return nil, 0
	}
	sup, ok := plan[0].(UpdateSupervisor)
	if !ok {
		return nil, 0
	}
	apply, ok := plan[1].(Apply)
	if !ok || !isChildApply(apply, "restart_child", sup.Name) {
		return nil, 0
	}
	worker := apply.Args[1]
	return []Instruction{
		Apply{Module: "supervisor", Function: "terminate_child", Args: []string{sup.Name, worker}},
		Apply{Module: "supervisor", Function: "delete_child", Args: []string{sup.Name, worker}},
		UpdateSupervisor{Name: sup.Name},
	}, 2
}

// matchRemovedWorker recognizes [apply terminate_child, apply
// delete_child, update supervisor] and returns its inverse: the
// new-worker sequence.
func matchRemovedWorker(plan []Instruction) ([]Instruction, int) {
	if len(plan) < 3 {
		return nil, 0
	}
	term, ok := plan[0].(Apply)
	if !ok {
		return nil, 0
	}
	del, ok := plan[1].(Apply)
	if !ok {
		return nil, 0
	}
	sup, ok := plan[2].(UpdateSupervisor)
	if !ok {
		return nil, 0
	}
	if !isChildApply(term, "terminate_child", sup.Name) || !isChildApply(del, "delete_child", sup.Name) {
		return nil, 0
	}
	if term.Args[1] != del.Args[1] {
		return nil, 0
	}
	worker := term.Args[1]
	return []Instruction{
		UpdateSupervisor{Name: sup.Name},
		Apply{Module: "supervisor", Function: "restart_child", Args: []string{sup.Name, worker}},
	}, 3
}

func isChildApply(a Apply, function, supName string) bool {
	return a.Module == "supervisor" && a.Function == function &&
		len(a.Args) == 2 && a.Args[0] == supName
}
