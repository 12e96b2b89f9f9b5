package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/sqlweave/internal/cli/output"
	"github.com/leapstack-labs/sqlweave/internal/dispatch"
	"github.com/spf13/cobra"
)

// ResolveOptions holds options for the resolve command.
type ResolveOptions struct {
	From      string
	Namespace string
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand() *cobra.Command {
	opts := &ResolveOptions{}

	cmd := &cobra.Command{
		Use:   "resolve <macro>",
		Short: "Show how adapter.dispatch resolves a macro",
		Long: `Resolve a macro base name the way adapter.dispatch would for the
selected adapter, and print every registry lookup made on the way.

Packages are searched in precedence order (the calling package first);
within each package the adapter and its ancestors are tried before the
default implementation.`,
		Example: `  # Which concat does a root model get?
  sqlweave resolve concat

  # Resolve for another adapter
  sqlweave resolve concat --adapter redshift

  # Resolve as seen from a dependency package
  sqlweave resolve star --from utils`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "Calling package (default: the root project)")
	cmd.Flags().StringVar(&opts.Namespace, "namespace", "", "macro_namespace to search instead of the default order")

	return cmd
}

func runResolve(cmd *cobra.Command, base string, opts *ResolveOptions) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	r := cc.Renderer

	p, err := cc.Engine.Load(cmd.Context())
	if err != nil {
		return err
	}

	calling := opts.From
	if calling == "" {
		calling = p.Catalog.Root().Name
	} else if _, ok := p.Catalog.Package(calling); !ok {
		return fmt.Errorf("unknown package %q", calling)
	}

	t := p.Resolver.Trace(dispatch.Request{
		Base:      base,
		Calling:   calling,
		Identity:  p.Run.Identity,
		Namespace: opts.Namespace,
	})

	out := output.ResolveOutput{
		Macro:   base,
		Adapter: p.Run.Identity.Name(),
		Calling: calling,
		Order:   t.Order,
		Probes:  make([]output.ProbeOutput, 0, len(t.Probes)),
	}
	for _, pr := range t.Probes {
		out.Probes = append(out.Probes, output.ProbeOutput{
			Package:   pr.Package,
			Candidate: pr.Candidate(base),
			Found:     pr.Found,
		})
	}
	if t.Result != nil {
		out.Resolved = t.Result.QualifiedName()
		out.Location = t.Result.Span.String()
	}
	if t.Err != nil {
		out.Error = t.Err.Error()
	}

	if r.EffectiveMode() == output.ModeJSON {
		if err := r.JSON(out); err != nil {
			return err
		}
		return t.Err
	}

	styles := r.Styles()
	r.Header(1, fmt.Sprintf("Resolving %s for %s", base, strings.Join(p.Run.Identity.Chain(), " -> ")))
	r.Printf("%s %s\n", styles.Muted.Render("search order:"), strings.Join(out.Order, ", "))

	tw := r.Table("#", "PACKAGE", "CANDIDATE", "FOUND")
	for i, pr := range out.Probes {
		found := ""
		if pr.Found {
			found = "yes"
		}
		tw.AppendRow([]any{i + 1, pr.Package, pr.Candidate, found})
	}
	tw.Render()

	if t.Err != nil {
		return t.Err
	}
	r.Printf("%s %s %s\n", styles.Success.Render("resolved:"), styles.Bold.Render(out.Resolved), styles.Muted.Render("("+out.Location+")"))
	return nil
}
