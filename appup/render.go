package appup

import (
	"fmt"
	"io"
	"text/template"
	"time"
)

// ---------------------------------------------------------------------------
// Instruction file rendering
// ---------------------------------------------------------------------------

const appupTemplate = `%% appup generated for {{.Name}} on {{.Date}}
{"{{.NewVersion}}",
 [{"{{.OldVersion}}", [
{{.UpgradeBody}}
 ]}],
 [{"{{.OldVersion}}", [
{{.DowngradeBody}}
 ]}]}.
`

// RenderData is the substitution input for the instruction file.
type RenderData struct {
	Name       string
	OldVersion string
	NewVersion string
	Date       time.Time
	Upgrade    []Instruction
	Downgrade  []Instruction
}

// Render writes the final instruction file: component identity, the
// timestamp, and both formatted plans.
func Render(w io.Writer, data RenderData) error {
	tmpl, err := template.New("appup").Parse(appupTemplate)
	if err != nil {
		return fmt.Errorf("parsing appup template: %w", err)
	}
	return tmpl.Execute(w, struct {
		Name          string
		OldVersion    string
		NewVersion    string
		Date          string
		UpgradeBody   string
		DowngradeBody string
	}{
		Name:          data.Name,
		OldVersion:    data.OldVersion,
		NewVersion:    data.NewVersion,
		Date:          data.Date.Format(time.RFC3339),
		UpgradeBody:   FormatPlan(data.Upgrade, "  "),
		DowngradeBody: FormatPlan(data.Downgrade, "  "),
	})
}
