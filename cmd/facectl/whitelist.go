package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"facecheck/internal/whitelist"
)

var whitelistCmd = &cobra.Command{
	Use:   "whitelist <session-id>",
	Short: "Show which enrolled students a session's worker would match",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		sess, err := rt.Sessions.GetSession(ctx, ids[0])
		if err != nil {
			return fmt.Errorf("session %d: %w", ids[0], err)
		}
		wl, err := whitelist.NewLoader(rt.Sessions, rt.Templates).Load(ctx, sess)
		if err != nil {
			return err
		}
		enrolled, err := rt.Sessions.ListEnrolled(ctx, sess.CourseAssignmentID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "session %d (%s), %d of %d enrolled have templates, dim %d\n\n",
			sess.ID, sess.Status, len(wl.IDs), len(enrolled), wl.Dim())

		inList := make(map[int64]bool, len(wl.IDs))
		for _, id := range wl.IDs {
			inList[id] = true
		}
		w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTEMPLATE")
		for _, e := range enrolled {
			state := "missing"
			if inList[e.ID] {
				state = "ok"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", e.ID, e.DisplayName, state)
		}
		return w.Flush()
	},
}
