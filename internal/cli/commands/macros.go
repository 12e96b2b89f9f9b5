package commands

import (
	"fmt"

	"github.com/leapstack-labs/sqlweave/internal/cli/output"
	"github.com/leapstack-labs/sqlweave/internal/macro"
	"github.com/spf13/cobra"
)

// MacrosOptions holds options for the macros command.
type MacrosOptions struct {
	Package string
}

// NewMacrosCommand creates the macros command.
func NewMacrosCommand() *cobra.Command {
	opts := &MacrosOptions{}

	cmd := &cobra.Command{
		Use:   "macros",
		Short: "List macro definitions",
		Long: `List every macro defined across the project, its dependency packages
and the built-in sqlweave package, in package precedence order.

Adapter implementations ("postgres__concat") show their base name and
adapter prefix.`,
		Example: `  # List all macros
  sqlweave macros

  # List the macros of one package
  sqlweave macros --package sqlweave`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMacros(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Package, "package", "p", "", "Only list macros of this package")

	return cmd
}

func runMacros(cmd *cobra.Command, opts *MacrosOptions) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	r := cc.Renderer

	p, err := cc.Engine.Load(cmd.Context())
	if err != nil {
		return err
	}

	defs := p.Macros.Definitions()
	if opts.Package != "" {
		if _, ok := p.Catalog.Package(opts.Package); !ok {
			return fmt.Errorf("unknown package %q", opts.Package)
		}
		defs = p.Macros.PackageDefinitions(opts.Package)
	}

	rows := make([]output.MacroOutput, 0, len(defs))
	for _, d := range defs {
		rows = append(rows, macroRow(d))
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(rows)
	}

	if len(rows) == 0 {
		r.Println(r.Styles().Muted.Render("(no macros)"))
		return nil
	}
	t := r.Table("PACKAGE", "MACRO", "ADAPTER", "SIGNATURE", "LOCATION")
	for _, row := range rows {
		t.AppendRow([]any{row.Package, row.Base, row.Prefix, row.Signature, row.Location})
	}
	t.Render()
	return nil
}

func macroRow(d *macro.Definition) output.MacroOutput {
	return output.MacroOutput{
		Package:   d.Package,
		Name:      d.Name,
		Base:      d.Base,
		Prefix:    d.Prefix,
		Signature: d.Signature(),
		Location:  d.Span.String(),
		Doc:       d.Doc,
	}
}
