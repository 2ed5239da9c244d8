package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard: model endpoint, server port, transcript storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runOnboard()
			if errors.Is(err, huh.ErrUserAborted) {
				fmt.Println("Cancelled.")
				return nil
			}
			return err
		},
	}
}

type endpointPreset struct {
	label     string
	baseURL   string
	modelHint string
}

var endpointPresets = map[string]endpointPreset{
	"openai":     {"OpenAI", "https://api.openai.com/v1", "gpt-4o"},
	"openrouter": {"OpenRouter", "https://openrouter.ai/api/v1", "anthropic/claude-sonnet-4"},
	"groq":       {"Groq", "https://api.groq.com/openai/v1", "llama-3.3-70b-versatile"},
	"deepseek":   {"DeepSeek", "https://api.deepseek.com/v1", "deepseek-chat"},
	"ollama":     {"Ollama (local)", "http://localhost:11434/v1", "llama3.2"},
	"custom":     {"Custom OpenAI-compatible", "", ""},
}

// endpointOrder is the menu order of endpointPresets.
var endpointOrder = []string{"openai", "openrouter", "groq", "deepseek", "ollama", "custom"}

// onboardAnswers is everything the wizard collects.
type onboardAnswers struct {
	Name    string
	BaseURL string
	Model   string
	APIKey  string
	Port    int
	Persist bool
}

const defaultTranscriptDB = "~/.ohbridge/transcripts.db"

// catalogKey maps the wizard's entry name to its llms key.
func catalogKey(name string) string {
	if name == "" || name == config.DefaultModelLabel {
		return config.DefaultLLMKey
	}
	return name
}

// applyOnboard merges the answers into cfg.
func applyOnboard(cfg *config.Config, a onboardAnswers) {
	name := catalogKey(a.Name)
	if cfg.LLMs == nil {
		cfg.LLMs = map[string]config.LLMConfig{}
	}
	llm := cfg.LLMs[name]
	llm.Model = a.Model
	llm.BaseURL = a.BaseURL
	if a.APIKey != "" {
		llm.APIKey = a.APIKey
	}
	cfg.LLMs[name] = llm

	if a.Port > 0 {
		cfg.Server.Port = a.Port
	}
	switch {
	case a.Persist && cfg.Transcript.Storage == "":
		cfg.Transcript.Storage = defaultTranscriptDB
	case !a.Persist:
		cfg.Transcript.Storage = ""
	}
}

func runOnboard() error {
	fmt.Println("ohbridge setup")
	fmt.Println()

	cfgPath := resolveConfigPath()
	cfg := config.Default()
	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("Found existing config at %s\n", cfgPath)
		useExisting, err := promptConfirm("Use existing config as base?", true)
		if err != nil {
			return err
		}
		if useExisting {
			loaded, err := config.Load(cfgPath)
			if err != nil {
				fmt.Printf("Warning: could not load existing config: %v\n", err)
			} else {
				cfg = loaded
			}
		}
	}

	var a onboardAnswers
	var err error

	preset, err := promptEndpoint()
	if err != nil {
		return err
	}
	p := endpointPresets[preset]

	a.BaseURL = p.baseURL
	if preset == "custom" {
		if a.BaseURL, err = promptString("API base URL", "e.g. http://localhost:4000/v1", ""); err != nil {
			return err
		}
	}
	if a.Model, err = promptString("Model", "", p.modelHint); err != nil {
		return err
	}
	if a.Model == "" {
		return fmt.Errorf("a model is required")
	}
	if preset != "ollama" {
		if a.APIKey, err = promptSecret("API key", "Leave empty to use OPENAI_API_KEY or the existing key"); err != nil {
			return err
		}
	}

	a.Name = config.DefaultLLMKey
	if _, exists := cfg.LLMs[config.DefaultLLMKey]; exists {
		if a.Name, err = promptString("Catalog name", "\"llm\" replaces the default model", config.DefaultLLMKey); err != nil {
			return err
		}
	}

	if a.Port, err = promptPort(cfg.Server.Port); err != nil {
		return err
	}

	if a.Persist, err = promptConfirm("Keep chat transcripts across restarts (SQLite)?", cfg.Transcript.Storage != ""); err != nil {
		return err
	}

	applyOnboard(cfg, a)

	fmt.Println()
	fmt.Println("  Verifying endpoint...")
	if verr := verifyLLM(cfg.LLMs[catalogKey(a.Name)]); verr != nil {
		fmt.Printf("    %s\n", verr.Error())
		if verr.fatal {
			save, err := promptConfirm("Save anyway?", false)
			if err != nil {
				return err
			}
			if !save {
				fmt.Println("Config not saved.")
				return nil
			}
		}
	} else {
		fmt.Println("    OK")
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Printf("\nConfig saved to %s\n", cfgPath)
	fmt.Println("Start the server with `ohbridge serve` or the terminal UI with `ohbridge tui`.")
	return nil
}
