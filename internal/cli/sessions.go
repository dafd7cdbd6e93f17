package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilops/vigil/internal/cli/output"
	"github.com/vigilops/vigil/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Session management",
	Long:  "Create, inspect, and close monitored interview sessions",
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create [candidate]",
	Short: "Create a session",
	Long:  "Create a new session and print the endpoint token for the agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("server")
		resp, err := newAPIClient(serverURL).createSession(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}

		if format, _ := cmd.Flags().GetString("output"); format == "json" {
			return output.JSON(resp)
		}
		output.Success("Session created")
		output.Info("ID:    %s", resp.Session.SessionID)
		output.Info("Token: %s", resp.Token)
		return nil
	},
}

var sessionsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List live sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("server")
		sessions, err := newAPIClient(serverURL).listSessions(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}

		if format, _ := cmd.Flags().GetString("output"); format == "json" {
			return output.JSON(sessions)
		}
		if len(sessions) == 0 {
			output.Info("No live sessions")
			return nil
		}

		table := output.NewTable([]string{"ID", "Candidate", "State", "Score", "Alerts", "Last Event"})
		for _, s := range sessions {
			table.AddRow([]string{
				s.SessionID,
				s.Candidate,
				string(s.State),
				fmt.Sprintf("%.2f", s.Score),
				fmt.Sprintf("%d", len(s.Alerts)),
				lastEvent(s),
			})
		}
		table.Render()
		return nil
	},
}

var sessionsGetCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Get session details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("server")
		snap, err := newAPIClient(serverURL).getSession(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get session: %w", err)
		}

		if format, _ := cmd.Flags().GetString("output"); format == "json" {
			return output.JSON(snap)
		}
		output.Info("ID:         %s", snap.SessionID)
		output.Info("Candidate:  %s", snap.Candidate)
		output.Info("State:      %s", snap.State)
		output.Info("Score:      %.3f", snap.Score)
		output.Info("Last seq:   %d", snap.LastSeq)
		output.Info("Created:    %s", snap.CreatedAt.Format(time.RFC3339))
		if snap.LostContact {
			output.Warn("Endpoint contact lost")
		}
		for t, v := range snap.Components {
			output.Info("  %-10s %.3f", t, v)
		}
		return nil
	},
}

var sessionsAlertsCmd = &cobra.Command{
	Use:   "alerts [id]",
	Short: "List a session's alert history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("server")
		alerts, err := newAPIClient(serverURL).listAlerts(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to list alerts: %w", err)
		}

		if format, _ := cmd.Flags().GetString("output"); format == "json" {
			return output.JSON(alerts)
		}
		if len(alerts) == 0 {
			output.Info("No alerts")
			return nil
		}

		table := output.NewTable([]string{"ID", "Triggered At", "Score", "Dominant Signal"})
		for _, a := range alerts {
			table.AddRow([]string{
				a.ID,
				a.TriggeredAt.Format("2006-01-02 15:04:05"),
				fmt.Sprintf("%.2f", a.Score),
				string(a.Reason),
			})
		}
		table.Render()
		return nil
	},
}

var sessionsCloseCmd = &cobra.Command{
	Use:   "close [id]",
	Short: "Close a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("server")
		reason, _ := cmd.Flags().GetString("reason")
		if err := newAPIClient(serverURL).closeSession(cmd.Context(), args[0], reason); err != nil {
			return fmt.Errorf("failed to close session: %w", err)
		}
		output.Success("Session %s closed", args[0])
		return nil
	},
}

func lastEvent(s session.Snapshot) string {
	if s.LastEventAt.IsZero() {
		return "-"
	}
	return s.LastEventAt.Format("15:04:05")
}

func init() {
	sessionsCloseCmd.Flags().String("reason", "closed by proctor", "close reason")

	sessionsCmd.AddCommand(sessionsCreateCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsGetCmd)
	sessionsCmd.AddCommand(sessionsAlertsCmd)
	sessionsCmd.AddCommand(sessionsCloseCmd)
}
