package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os/signal"
	"syscall"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/vigilops/vigil/internal/cli/output"
	"github.com/vigilops/vigil/internal/wire"
)

var watchCmd = &cobra.Command{
	Use:   "watch [session-id]",
	Short: "Watch sessions in real time",
	Long: `Stream live score updates and alerts over the observer websocket.
With no session ID, every session is watched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("server")
		observeURL, err := observeEndpoint(serverURL, args)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		conn, _, err := websocket.Dial(ctx, observeURL, &websocket.DialOptions{
			Subprotocols: []string{wire.Subprotocol},
		})
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		conn.SetReadLimit(1 << 16)

		output.Info("Watching (Ctrl-C to stop)")
		for {
			env, err := readEnvelope(ctx, conn)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("stream ended: %w", err)
			}
			printFrame(env)
		}
	},
}

func observeEndpoint(base string, args []string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/observe"
	if len(args) == 1 {
		q := u.Query()
		q.Set("session_id", args[0])
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (wire.Envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return wire.Envelope{}, err
	}
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return wire.Envelope{}, err
	}
	return env, nil
}

func printFrame(env wire.Envelope) {
	switch env.Type {
	case wire.TypeScore:
		var p wire.ScorePayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		line := fmt.Sprintf("%s  score=%.3f  state=%s", p.SessionID, p.Score, p.State)
		if p.LostContact {
			line += "  (lost contact)"
		}
		output.Info("%s", line)
	case wire.TypeAlert:
		var p wire.AlertPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		output.Warn("%s  ALERT score=%.3f signal=%s at=%s",
			p.SessionID, p.Score, p.Reason, p.TriggeredAt.Format("15:04:05"))
	case wire.TypeClose:
		var p wire.ClosePayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		output.Info("%s  closed: %s", p.SessionID, p.Reason)
	}
}
