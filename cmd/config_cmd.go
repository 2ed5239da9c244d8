package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and validate configuration",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configPathCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration (secrets redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(redactConfig(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
}

func configPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			for name, llm := range cfg.LLMs {
				if llm.Model == "" {
					return fmt.Errorf("invalid config: llms.%s has no model", name)
				}
			}
			fmt.Printf("Config at %s is valid (%d models).\n", cfgPath, len(cfg.LLMs))
			return nil
		},
	}
}

// redactConfig returns a JSON-safe copy with secrets masked.
func redactConfig(cfg *config.Config) interface{} {
	data, _ := json.Marshal(cfg)
	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	redactMap(raw)
	return raw
}

var secretKeys = map[string]bool{"api_key": true, "token": true}

func redactMap(m map[string]interface{}) {
	for k, v := range m {
		if secretKeys[k] {
			if s, ok := v.(string); ok {
				m[k] = maskSecret(s)
			}
			continue
		}
		if sub, ok := v.(map[string]interface{}); ok {
			redactMap(sub)
		}
	}
}

// maskSecret keeps the first and last four characters of long secrets.
func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) > 8:
		return s[:4] + "****" + s[len(s)-4:]
	default:
		return "****"
	}
}
