package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vigilops/vigil/internal/server"
	"github.com/vigilops/vigil/internal/session"
)

// apiClient is a thin wrapper over the sessions REST API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{base: base, http: &http.Client{Timeout: 15 * time.Second}}
}

func (c *apiClient) createSession(ctx context.Context, candidate string) (server.CreateSessionResponse, error) {
	var out server.CreateSessionResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/sessions",
		server.CreateSessionRequest{Candidate: candidate}, &out, http.StatusCreated)
	return out, err
}

func (c *apiClient) listSessions(ctx context.Context) ([]session.Snapshot, error) {
	var out struct {
		Sessions []session.Snapshot `json:"sessions"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/sessions", nil, &out, http.StatusOK)
	return out.Sessions, err
}

func (c *apiClient) getSession(ctx context.Context, id string) (session.Snapshot, error) {
	var out session.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+id, nil, &out, http.StatusOK)
	return out, err
}

func (c *apiClient) listAlerts(ctx context.Context, id string) ([]session.Alert, error) {
	var out struct {
		Alerts []session.Alert `json:"alerts"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+id+"/alerts", nil, &out, http.StatusOK)
	return out.Alerts, err
}

func (c *apiClient) closeSession(ctx context.Context, id, reason string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sessions/"+id+"/close",
		server.CloseSessionRequest{Reason: reason}, nil, http.StatusOK)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any, want int) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
