package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
	"github.com/nextlevelbuilder/ohbridge/internal/engine/llmloop"
)

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the configured model catalog",
	}
	cmd.AddCommand(modelsListCmd())
	return cmd
}

type modelEntry struct {
	Name    string `json:"name"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url"`
	Status  string `json:"status"`
}

func modelsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured models in selection order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}

			entries := buildModelList(cfg.Catalog())

			if jsonOutput {
				data, _ := json.MarshalIndent(entries, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			if len(entries) == 0 {
				fmt.Fprintln(os.Stderr, "No models configured. Run `ohbridge onboard` to add one.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "NAME\tMODEL\tBASE URL\tSTATUS\n")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Name, e.Model, e.BaseURL, e.Status)
			}
			tw.Flush()
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

// buildModelList lists the catalog in the order clients see it.
func buildModelList(c *config.Catalog) []modelEntry {
	names, def := c.Names()
	entries := make([]modelEntry, 0, len(names))
	for _, name := range names {
		llm, err := c.Resolve(name)
		if err != nil {
			continue
		}
		base := llm.BaseURL
		if base == "" {
			base = llmloop.DefaultAPIBase
		}
		status := "available"
		switch {
		case llm.APIKey == "":
			status = "no api key"
		case name == def:
			status = "default"
		}
		entries = append(entries, modelEntry{Name: name, Model: llm.Model, BaseURL: base, Status: status})
	}
	return entries
}
