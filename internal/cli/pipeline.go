package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	pipelineDescription string
	pipelineContext     []string
	pipelineActiveOnly  bool
)

func init() {
	pipelineStartCmd.Flags().StringVar(&pipelineDescription, "description", "", "description passed to every stage")
	pipelineStartCmd.Flags().StringArrayVar(&pipelineContext, "set", nil, "context value as key=value (repeatable)")
	pipelineListCmd.Flags().BoolVar(&pipelineActiveOnly, "active", false, "only pending and running pipelines")

	pipelineCmd.AddCommand(pipelineListCmd, pipelineTemplatesCmd, pipelineStartCmd)
	rootCmd.AddCommand(pipelineCmd)
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Manage multi-stage pipelines",
}

var pipelineTemplatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List pipeline templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		for _, t := range a.Orchestrator.Templates() {
			roles := make([]string, 0, len(t.Stages))
			for _, s := range t.Stages {
				roles = append(roles, s.Role)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s (%s)\n", t.Key, t.Name, strings.Join(roles, " -> "))
		}
		return nil
	},
}

var pipelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipelines",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.Orchestrator.Pipelines(cmd.Context(), pipelineActiveOnly)
		if err != nil {
			return err
		}
		for _, p := range list {
			done, total := p.Progress()
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s %-10s %d/%d\n", p.ID, p.Template, p.Status, done, total)
		}
		return nil
	},
}

var pipelineStartCmd = &cobra.Command{
	Use:   "start <template>",
	Short: "Start a pipeline from a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pctx, err := parseContext(pipelineContext)
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.Orchestrator.StartPipeline(cmd.Context(), args[0], pctx, pipelineDescription)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "started %s (%s), %d stages\n", p.ID, p.Name, len(p.Stages))
		return nil
	},
}

// parseContext turns key=value pairs into a map.
func parseContext(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", pair)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}
