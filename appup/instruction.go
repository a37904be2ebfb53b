// Package appup turns a release-level module diff into reversible
// upgrade/downgrade instruction plans: classification of changed modules,
// supervision-tree diffing, byte-exact plan inversion, version-pattern
// fragment splicing, and rendering of the final instruction file.
package appup

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Purge policy
// ---------------------------------------------------------------------------

// Purge is a code-purge policy applied before or after a module reload.
type Purge string

const (
	SoftPurge   Purge = "soft_purge"
	BrutalPurge Purge = "brutal_purge"
)

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Instruction is one step of an upgrade or downgrade plan. The closed set
// of variants all implement the marker method and Format.
type Instruction interface {
	instr()
	// Format renders the instruction as a term for the instruction file.
	Format() string
}

// AddModule introduces a module that did not exist in the old release.
type AddModule struct {
	Name string
	Deps []string
}

// DeleteModule removes a module that no longer exists.
type DeleteModule struct {
	Name string
}

// LoadModule reloads a changed module's code in place.
type LoadModule struct {
	Name      string
	PrePurge  Purge
	PostPurge Purge
	Deps      []string
}

// UpdateSupervisor applies a structural code update to a supervisor
// module.
type UpdateSupervisor struct {
	Name string
}

// UpdateStateHolder updates a module that holds live state and exports a
// state-transfer hook, suspending and migrating its processes.
type UpdateStateHolder struct {
	Name      string
	Deps      []string
	PrePurge  Purge
	PostPurge Purge
}

// AddApplication introduces a whole new top-level component.
type AddApplication struct {
	Name string
}

// RemoveApplication removes a whole top-level component.
type RemoveApplication struct {
	Name string
}

// Apply calls target(args...) during the upgrade, used for supervisor
// child management.
type Apply struct {
	Module   string
	Function string
	Args     []string
}

// Raw is an externally authored instruction carried verbatim from a
// fragment file.
type Raw struct {
	Text string
}

func (AddModule) instr()         {}
func (DeleteModule) instr()      {}
func (LoadModule) instr()        {}
func (UpdateSupervisor) instr()  {}
func (UpdateStateHolder) instr() {}
func (AddApplication) instr()    {}
func (RemoveApplication) instr() {}
func (Apply) instr()             {}
func (Raw) instr()               {}

func (i AddModule) Format() string {
	if len(i.Deps) == 0 {
		return fmt.Sprintf("{add_module, %s}", i.Name)
	}
	return fmt.Sprintf("{add_module, %s, %s}", i.Name, formatList(i.Deps))
}

func (i DeleteModule) Format() string {
	return fmt.Sprintf("{delete_module, %s}", i.Name)
}

func (i LoadModule) Format() string {
	return fmt.Sprintf("{load_module, %s, %s, %s, %s}",
		i.Name, i.PrePurge, i.PostPurge, formatList(i.Deps))
}

func (i UpdateSupervisor) Format() string {
	return fmt.Sprintf("{update, %s, supervisor}", i.Name)
}

func (i UpdateStateHolder) Format() string {
	return fmt.Sprintf("{update, %s, {advanced, []}, %s, %s, %s}",
		i.Name, i.PrePurge, i.PostPurge, formatList(i.Deps))
}

func (i AddApplication) Format() string {
	return fmt.Sprintf("{add_application, %s}", i.Name)
}

func (i RemoveApplication) Format() string {
	return fmt.Sprintf("{remove_application, %s}", i.Name)
}

func (i Apply) Format() string {
	return fmt.Sprintf("{apply, {%s, %s, %s}}", i.Module, i.Function, formatList(i.Args))
}

func (i Raw) Format() string {
	return i.Text
}

func formatList(items []string) string {
	return "[" + strings.Join(items, ", ") + "]"
}

// FormatPlan renders a plan one instruction per line with the given
// indent, comma-separated, for template substitution.
func FormatPlan(plan []Instruction, indent string) string {
	lines := make([]string, len(plan))
	for i, in := range plan {
		lines[i] = indent + in.Format()
	}
	return strings.Join(lines, ",\n")
}
