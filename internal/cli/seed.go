package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"

	"github.com/vigilops/vigil/internal/agent"
	"github.com/vigilops/vigil/internal/cli/output"
	"github.com/vigilops/vigil/internal/stream"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Run simulated candidates against a server",
	Long: `Create sessions and drive them with fabricated detector input.
Useful for demos and for exercising the alerting pipeline end to end.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("server")
		count, _ := cmd.Flags().GetInt("count")
		duration, _ := cmd.Flags().GetDuration("duration")
		suspicion, _ := cmd.Flags().GetFloat64("suspicion")
		interval, _ := cmd.Flags().GetDuration("interval")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}

		ingestURL, err := seedIngestURL(serverURL)
		if err != nil {
			return err
		}

		api := newAPIClient(serverURL)
		logger := slog.New(slog.DiscardHandler)

		var wg sync.WaitGroup
		for i := 0; i < count; i++ {
			resp, err := api.createSession(ctx, gofakeit.Name())
			if err != nil {
				return fmt.Errorf("failed to create session %d: %w", i+1, err)
			}
			output.Info("Seeded session %s (%s)", resp.Session.SessionID, resp.Session.Candidate)

			client := stream.NewClient(stream.Config{
				URL:       ingestURL,
				SessionID: resp.Session.SessionID,
				Token:     resp.Token,
			}, logger)
			sim := agent.NewSimulator(suspicion, uint64(time.Now().UnixNano())+uint64(i))
			keys := agent.NewKeystrokeRecorder(interval)

			bl, err := agent.LoadBlacklist("")
			if err != nil {
				return err
			}
			a := agent.New(client, logger,
				agent.NewProcessDetector(sim, bl, interval),
				agent.NewClipboardDetector(sim, interval),
				agent.NewClassifierDetector(sim, nil, interval),
				keys,
			)

			wg.Add(3)
			go func() { defer wg.Done(); _ = client.Run(ctx) }()
			go func() { defer wg.Done(); _ = a.Run(ctx) }()
			go func() {
				defer wg.Done()
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						sim.FeedKeystrokes(keys, 40)
					}
				}
			}()
		}

		output.Info("Streaming; waiting for Ctrl-C or -duration")
		wg.Wait()
		output.Success("Seed run finished")
		return nil
	},
}

func seedIngestURL(base string) (string, error) {
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
	u.Path = "/ws/ingest"
	return u.String(), nil
}

func init() {
	seedCmd.Flags().Int("count", 3, "number of simulated candidates")
	seedCmd.Flags().Duration("duration", time.Minute, "how long to stream (0 runs until Ctrl-C)")
	seedCmd.Flags().Float64("suspicion", 0.3, "probability of suspicious samples")
	seedCmd.Flags().Duration("interval", 2*time.Second, "detector sampling interval")
}
