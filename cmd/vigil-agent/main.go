package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/vigilops/vigil/internal/agent"
	"github.com/vigilops/vigil/internal/logging"
	"github.com/vigilops/vigil/internal/server"
	"github.com/vigilops/vigil/internal/stream"
)

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8090", "vigil server base URL")
		sessionID = flag.String("session", "", "existing session ID (created via API when empty)")
		token     = flag.String("token", "", "endpoint token for the session")
		candidate = flag.String("candidate", "", "candidate name, used when creating a session")
		blacklist = flag.String("blacklist", "", "path to a YAML process blacklist")
		simulate  = flag.Bool("simulate", false, "fabricate detector input instead of reading the host")
		suspicion = flag.Float64("suspicion", 0.3, "probability of suspicious samples in simulate mode")
		interval  = flag.Duration("interval", 5*time.Second, "detector sampling interval")
		logLevel  = flag.String("log-level", "info", "log level (debug, info, warn, error)")
		logFormat = flag.String("log-format", "text", "log format (json, text)")
	)
	flag.Parse()

	logger := logging.New(logging.ParseLevel(*logLevel), *logFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create a session through the API unless one was handed to us.
	if *sessionID == "" {
		if *candidate == "" {
			log.Fatal("either -session/-token or -candidate must be given")
		}
		id, tok, err := createSession(ctx, *serverURL, *candidate)
		if err != nil {
			log.Fatalf("Failed to create session: %v", err)
		}
		*sessionID, *token = id, tok
		logger.Info("agent.session_created", "session_id", id)
	}
	if *token == "" {
		log.Fatal("-token is required when -session is given")
	}

	ingestURL, err := ingestEndpoint(*serverURL)
	if err != nil {
		log.Fatalf("Invalid server URL: %v", err)
	}

	client := stream.NewClient(stream.Config{
		URL:       ingestURL,
		SessionID: *sessionID,
		Token:     *token,
	}, logger)

	bl, err := agent.LoadBlacklist(*blacklist)
	if err != nil {
		log.Fatalf("Failed to load blacklist: %v", err)
	}

	keys := agent.NewKeystrokeRecorder(*interval)
	var detectors []agent.Detector
	if *simulate {
		sim := agent.NewSimulator(*suspicion, uint64(time.Now().UnixNano()))
		detectors = []agent.Detector{
			agent.NewProcessDetector(sim, bl, *interval),
			agent.NewClipboardDetector(sim, *interval),
			agent.NewClassifierDetector(sim, nil, *interval),
			keys,
		}
		go feedKeystrokes(ctx, sim, keys, *interval)
	} else {
		// Clipboard and transcript capture need platform input hooks that
		// are wired by the packaging layer; the portable build ships the
		// process and cadence channels.
		detectors = []agent.Detector{
			agent.NewProcessDetector(agent.SystemLister{}, bl, *interval),
			keys,
		}
	}

	a := agent.New(client, logger, detectors...)

	go func() {
		for score := range client.Scores() {
			logger.Info("agent.score", "score", score.Score, "state", score.State)
		}
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- client.Run(ctx) }()
	go func() { errCh <- a.Run(ctx) }()

	err = <-errCh
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Agent stopped: %v", err)
	}
}

// createSession calls POST /api/v1/sessions and returns the id and token.
func createSession(ctx context.Context, base, candidate string) (string, string, error) {
	body, _ := json.Marshal(server.CreateSessionRequest{Candidate: candidate})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	var out server.CreateSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}
	return out.Session.SessionID, out.Token, nil
}

// ingestEndpoint converts the HTTP base URL to the websocket ingest URL.
func ingestEndpoint(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws/ingest"
	return u.String(), nil
}

// feedKeystrokes periodically pushes synthetic keystroke bursts into the
// recorder so the cadence channel has material in simulate mode.
func feedKeystrokes(ctx context.Context, sim *agent.Simulator, rec *agent.KeystrokeRecorder, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sim.FeedKeystrokes(rec, 40)
		}
	}
}
