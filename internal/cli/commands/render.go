package commands

import (
	"github.com/leapstack-labs/sqlweave/internal/cli/output"
	"github.com/spf13/cobra"
)

// NewRenderCommand creates the render command.
func NewRenderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <model>",
		Short: "Render SQL for a model with macros expanded",
		Long: `Render the final SQL of one model with all templates and macros
expanded for the selected adapter.

The model is named by id ("package.name") or by bare name, resolved from
the root package. Only the named model is rendered; references are not
checked.`,
		Example: `  # Render a model's SQL
  sqlweave render stg_orders

  # Render for another adapter
  sqlweave render shop.orders --adapter bigquery

  # Render as JSON, including the resolved model config
  sqlweave render shop.orders --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, args[0])
		},
	}

	return cmd
}

func runRender(cmd *cobra.Command, name string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	r := cc.Renderer

	p, err := cc.Engine.Load(cmd.Context())
	if err != nil {
		return err
	}
	art, diags, err := p.RenderModel(cmd.Context(), name)
	if err != nil {
		return err
	}
	if art == nil {
		r.Diagnostics(diags)
		return ErrCompileFailed
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(output.RenderOutput{
			Model:  art.ID,
			SQL:    art.Text,
			Config: art.Config,
		})
	}
	r.Println(art.Text)
	r.Diagnostics(diags)
	return nil
}
