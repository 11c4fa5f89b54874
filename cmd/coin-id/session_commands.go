package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/menta2k/coin-id/internal/session"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage stored sessions",
	}

	sessionCmd.AddCommand(newSessionListCommand(ctx))
	sessionCmd.AddCommand(newSessionShowCommand(ctx))
	sessionCmd.AddCommand(newSessionResetCommand(ctx))
	sessionCmd.AddCommand(newSessionDeleteCommand(ctx))

	return sessionCmd
}

func newSessionListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := ctx.repository()
			if err != nil {
				return err
			}
			list, err := repo.List(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions")
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, s := range list {
				rows = append(rows, []string{
					s.ID,
					yesNo(s.Calibrated),
					fmt.Sprintf("%.2f", s.Scale),
					yesNo(s.HasResult),
					s.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Calibrated", "Scale (ppi)", "Result", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft}))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newSessionShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show a session's calibration and last report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession(cmd, ctx, args)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, sess)
			}

			out := cmd.OutOrStdout()
			cal := sess.Calibration
			m := cal.Measure()
			rows := [][]string{
				{"Session", sess.ID},
				{"Calibrated", yesNo(cal.Calibrated)},
				{"Scale", fmt.Sprintf("%.2f px per inch", cal.Scale)},
				{"Circle", fmt.Sprintf("%d px = %s", m.CirclePx, m.String())},
			}
			if cal.Calibrated {
				rows = append(rows, []string{"Reference", describeReference(cal)})
			}
			rows = append(rows, []string{"Updated", sess.UpdatedAt.Local().Format("2006-01-02 15:04:05")})
			fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, nil))

			if sess.LastResult == nil {
				fmt.Fprintln(out, "No identification yet")
				return nil
			}
			fmt.Fprintln(out, "Last identification:")
			printReport(out, sess.LastResult)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newSessionResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [id]",
		Short: "Clear the last identification, keeping the calibration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession(cmd, ctx, args)
			if err != nil {
				return err
			}
			sess.ResetResult()

			repo, err := ctx.repository()
			if err != nil {
				return err
			}
			if err := repo.Save(cmd.Context(), sess); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s ready for a new analysis\n", sess.ID)
			return nil
		},
	}
}

func newSessionDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := ctx.repository()
			if err != nil {
				return err
			}
			id := strings.TrimSpace(args[0])
			if err := repo.Delete(cmd.Context(), id); err != nil {
				if errors.Is(err, session.ErrNotFound) {
					return fmt.Errorf("session %s not found", id)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", id)
			return nil
		},
	}
}

func loadSession(cmd *cobra.Command, ctx *commandContext, args []string) (*session.Session, error) {
	repo, err := ctx.repository()
	if err != nil {
		return nil, err
	}
	id := ctx.sessionID()
	if len(args) == 1 {
		id = strings.TrimSpace(args[0])
	}
	sess, err := repo.Load(cmd.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return sess, err
}
