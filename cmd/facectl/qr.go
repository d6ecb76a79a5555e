package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"facecheck/internal/config"
	"facecheck/internal/qrtoken"
)

var qrCmd = &cobra.Command{
	Use:   "qr",
	Short: "Issue and inspect rotating QR attendance tokens",
}

var qrIssueCmd = &cobra.Command{
	Use:   "issue <session-id>",
	Short: "Print the current QR token of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runQRIssue,
}

var qrVerifyCmd = &cobra.Command{
	Use:   "verify <token>",
	Short: "Check a QR token against QR_SECRET and print its claims",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		claims, err := qrtoken.Verify(config.Load().QRSecret, args[0], time.Now())
		if err != nil {
			return err
		}
		room := "none"
		if claims.RoomID != nil {
			room = strconv.FormatInt(*claims.RoomID, 10)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %d room %s valid until %s\n",
			claims.SessionID, room, claims.ExpiresAt().Format(time.RFC3339))
		return nil
	},
}

func init() {
	qrIssueCmd.Flags().Int64("room", 0, "Room id to embed instead of the session's room (skips the database)")
	qrIssueCmd.Flags().String("png", "", "Also write the token as a QR code PNG to this file")
	qrCmd.AddCommand(qrIssueCmd, qrVerifyCmd)
}

func runQRIssue(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	sessionID := ids[0]
	cfg := config.Load()
	step := cfg.QRStep

	var roomID *int64
	if room, _ := cmd.Flags().GetInt64("room"); room > 0 {
		roomID = &room
	} else {
		ctx := cmd.Context()
		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()
		sess, err := rt.Sessions.GetSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("session %d: %w", sessionID, err)
		}
		roomID = sess.RoomID
		if sess.QRStepSeconds > 0 {
			step = time.Duration(sess.QRStepSeconds) * time.Second
		}
	}

	token, claims, err := qrtoken.Issue(cfg.QRSecret, sessionID, roomID, step, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", claims.ExpiresAt().Format(time.RFC3339))

	if path, _ := cmd.Flags().GetString("png"); path != "" {
		png, err := qrcode.Encode(token, qrcode.Medium, 320)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, png, 0o644); err != nil {
			return err
		}
	}
	return nil
}
