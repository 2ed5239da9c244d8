package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
	"github.com/nextlevelbuilder/ohbridge/internal/transcript"
)

var errNoStorage = errors.New("transcript storage is not configured (set transcript.storage)")

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and reset archived chat transcripts",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsResetCmd())
	return cmd
}

type sessionInfo struct {
	ID         string    `json:"id"`
	Entries    int       `json:"entries"`
	LastActive time.Time `json:"last_active"`
}

func sessionsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openArchive()
			if err != nil {
				return err
			}
			defer db.Close()

			infos, err := listSessions(db)
			if err != nil {
				return err
			}
			printSessionInfos(infos, jsonOutput)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func sessionsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset [id]",
		Short: "Clear a session's archived transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openArchive()
			if err != nil {
				return err
			}
			defer db.Close()

			id := config.NormalizeSessionID(args[0])
			if err := db.Archive(id).Clear(); err != nil {
				return fmt.Errorf("reset session %s: %w", id, err)
			}
			fmt.Printf("Session reset: %s\n", id)
			return nil
		},
	}
}

func openArchive() (*transcript.SQLiteDB, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if cfg.Transcript.Storage == "" {
		return nil, errNoStorage
	}
	return transcript.OpenSQLite(cfg.Transcript.Storage)
}

func listSessions(db *transcript.SQLiteDB) ([]sessionInfo, error) {
	ids, err := db.Sessions()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	infos := make([]sessionInfo, 0, len(ids))
	for _, id := range ids {
		entries, err := db.Archive(id).Load()
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", id, err)
		}
		info := sessionInfo{ID: id, Entries: len(entries)}
		if n := len(entries); n > 0 {
			info.LastActive = entries[n-1].Timestamp
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func printSessionInfos(infos []sessionInfo, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(infos, "", "  ")
		fmt.Println(string(data))
		return
	}
	if len(infos) == 0 {
		fmt.Println("No archived sessions.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tENTRIES\tLAST ACTIVE\n")
	for _, s := range infos {
		last := "-"
		if !s.LastActive.IsZero() {
			last = s.LastActive.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", s.ID, s.Entries, last)
	}
	tw.Flush()
}
