package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/dcrodman/mediaserver/internal/core"
	"github.com/dcrodman/mediaserver/internal/core/data"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Session journal tools",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the sessions recorded in the journal database",
	RunE:  SessionsListCommand,
}

var (
	ServerFlag string
	AllFlag    bool
)

func openJournal() (*gorm.DB, error) {
	cfg, err := core.LoadConfig(ConfigFlag)
	if err != nil {
		return nil, err
	}
	if !cfg.Journal.Enabled {
		fmt.Fprintln(os.Stderr, "warning: the session journal is disabled in the config")
	}
	return data.Open(cfg.Journal.Engine, cfg.JournalDSN(), false)
}

func SessionsListCommand(cmd *cobra.Command, args []string) error {
	db, err := openJournal()
	if err != nil {
		return err
	}
	defer data.Shutdown(db)

	var records []data.SessionRecord
	if AllFlag {
		records, err = data.FindSessionRecords(db, ServerFlag)
	} else {
		records, err = data.FindOpenSessionRecords(db, ServerFlag)
	}
	if err != nil {
		return fmt.Errorf("error listing sessions: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSERVER\tENDPOINT\tTLS\tOPENED\tCLOSED\tREASON")
	for _, r := range records {
		closed := "-"
		if r.ClosedAt != nil {
			closed = r.ClosedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
			r.ID, r.Server, r.Endpoint, r.TLS, r.OpenedAt.Format(time.RFC3339), closed, r.Reason)
	}
	return w.Flush()
}
