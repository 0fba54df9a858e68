package main

import (
	"fmt"
	"strings"

	"github.com/gosuri/uitable"
	"github.com/martinemde/streamloop/unifiedllm"
	"github.com/spf13/cobra"
)

func newModelsCommand() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List known models",
		RunE: func(cmd *cobra.Command, _ []string) error {
			models := unifiedllm.ListModels(provider)
			if len(models) == 0 {
				return fmt.Errorf("no models known for provider %q", provider)
			}
			fmt.Fprintln(cmd.OutOrStdout(), modelTable(models))
			return nil
		},
	}
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "only list models of this provider")
	return cmd
}

func modelTable(models []unifiedllm.ModelInfo) string {
	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("ID", "PROVIDER", "PROTOCOL", "CONTEXT", "FEATURES", "ALIASES")
	for _, m := range models {
		table.AddRow(m.ID, m.Provider, m.Protocol, m.ContextWindow, features(m), strings.Join(m.Aliases, ","))
	}
	return table.String()
}

func features(m unifiedllm.ModelInfo) string {
	var out []string
	if m.SupportsTools {
		out = append(out, "tools")
	}
	if m.SupportsVision {
		out = append(out, "vision")
	}
	if m.SupportsReasoning {
		out = append(out, "reasoning")
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ",")
}
