package output

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/leapstack-labs/sqlweave/internal/diag"
)

// Diagnostic is the JSON form of a diagnostic.
type Diagnostic struct {
	Kind     string   `json:"kind"`
	Severity string   `json:"severity"`
	Message  string   `json:"message"`
	Location string   `json:"location,omitempty"`
	Artifact string   `json:"artifact,omitempty"`
	Related  []string `json:"related,omitempty"`
	Chain    []Frame  `json:"chain,omitempty"`
}

// Frame is the JSON form of one expansion frame.
type Frame struct {
	Name     string `json:"name"`
	Defined  string `json:"defined,omitempty"`
	CalledAt string `json:"called_at,omitempty"`
}

// NewDiagnostics converts diagnostics to their JSON form.
func NewDiagnostics(list diag.List) []Diagnostic {
	out := make([]Diagnostic, 0, len(list))
	for _, d := range list {
		o := Diagnostic{
			Kind:     d.Kind.String(),
			Severity: d.Severity.String(),
			Message:  d.Message,
			Artifact: d.Artifact,
		}
		if !d.Span.IsZero() {
			o.Location = d.Span.String()
		}
		if d.Cause != nil {
			o.Message += ": " + d.Cause.Error()
		}
		for _, r := range d.Related {
			o.Related = append(o.Related, r.String())
		}
		for _, f := range d.Chain {
			fr := Frame{Name: f.Name, Defined: f.Callee.String()}
			if !f.CallSite.IsZero() {
				fr.CalledAt = f.CallSite.String()
			}
			o.Chain = append(o.Chain, fr)
		}
		out = append(out, o)
	}
	return out
}

// Diagnostics writes diagnostics to the diagnostics writer, one block each:
//
//	error[UnresolvedMacroError] shop/macros/fmt.sql:3:5: no implementation ...
//	  in shop.fmt (shop/macros/fmt.sql:1:1) at shop/models/a.sql:2:3
func (r *Renderer) Diagnostics(list diag.List) {
	for _, d := range list {
		label := fmt.Sprintf("%s[%s]", d.Severity, d.Kind)
		line := r.severityStyle(d.Severity).Render(label)
		if !d.Span.IsZero() {
			line += " " + r.styles.ModelPath.Render(d.Span.String()) + ":"
		}
		msg := d.Message
		if d.Cause != nil {
			msg += ": " + d.Cause.Error()
		}
		_, _ = fmt.Fprintln(r.errOut, line+" "+msg)

		for _, rel := range d.Related {
			_, _ = fmt.Fprintln(r.errOut, r.styles.Muted.Render("  see also: "+rel.String()))
		}
		for i, f := range d.Chain {
			prefix := "  called from "
			if i == 0 {
				prefix = "  in "
			}
			text := prefix + f.Name + " (" + f.Callee.String() + ")"
			if !f.CallSite.IsZero() {
				text += " at " + f.CallSite.String()
			}
			_, _ = fmt.Fprintln(r.errOut, r.styles.Muted.Render(text))
		}
	}
}

func (r *Renderer) severityStyle(s diag.Severity) lipgloss.Style {
	switch s {
	case diag.SeverityFatal:
		return r.styles.Fatal
	case diag.SeverityError:
		return r.styles.Error
	default:
		return r.styles.Warning
	}
}
