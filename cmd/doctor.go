package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
	"github.com/nextlevelbuilder/ohbridge/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and model endpoint health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(probe)
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "send an auth probe to every model endpoint")
	return cmd
}

func runDoctor(probe bool) {
	fmt.Println("ohbridge doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Printf("  Listen:   %s", cfg.Addr())
	if cfg.Server.Token != "" {
		fmt.Print(" (token auth)")
	}
	fmt.Println()

	if path := cfg.Transcript.Storage; path != "" {
		fmt.Printf("  Storage:  %s", path)
		if _, err := os.Stat(path); err != nil {
			fmt.Println(" (will be created)")
		} else {
			fmt.Println(" (OK)")
		}
	} else {
		fmt.Println("  Storage:  in memory")
	}

	fmt.Println()
	fmt.Println("  Models:")
	entries := buildModelList(cfg.Catalog())
	if len(entries) == 0 {
		fmt.Println("    (none) run `ohbridge onboard`")
	}
	for _, e := range entries {
		llm, _ := cfg.Catalog().Resolve(e.Name)
		fmt.Printf("    %-12s %s  key: %s\n", e.Name+":", e.Model, keyStatus(llm.APIKey))
		if probe {
			if verr := verifyLLM(llm); verr != nil {
				fmt.Printf("    %-12s %s\n", "", verr.Error())
			} else {
				fmt.Printf("    %-12s endpoint OK\n", "")
			}
		}
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func keyStatus(apiKey string) string {
	if apiKey == "" {
		return "(not configured)"
	}
	return maskSecret(apiKey)
}
