// Package remote drives a generation running on an external inference
// service. The service exposes an asynchronous job API:
//
//	POST   /v1/generations       start a generation, returns {"id"}
//	GET    /v1/generations/{id}  poll status, progress and result
//	DELETE /v1/generations/{id}  abort a running generation
//	GET    /ready                readiness check
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/kiranshivaraju/animgen/internal/config"
	"github.com/kiranshivaraju/animgen/internal/generator"
	"github.com/kiranshivaraju/animgen/pkg/models"
	"github.com/kiranshivaraju/animgen/pkg/timecode"
)

const defaultPollInterval = time.Second

// Client implements models.Generator against the inference service HTTP API.
type Client struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	pollInterval time.Duration
}

// NewClient creates a new inference service client.
func NewClient(cfg config.RemoteConfig) *Client {
	return &Client{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		client:       &http.Client{Timeout: cfg.Timeout},
		pollInterval: defaultPollInterval,
	}
}

// WithPollInterval sets how often a running generation is polled.
func (c *Client) WithPollInterval(d time.Duration) *Client {
	c.pollInterval = d
	return c
}

func (c *Client) Name() string { return "remote" }

// Generate starts a generation and polls it until it finishes, forwarding
// progress. When ctx is done or progress is rejected the remote generation
// is aborted on a best-effort basis.
func (c *Client) Generate(ctx context.Context, kind models.TargetKind, req models.GenerationRequest, progress models.ProgressFunc) (models.GenerationResult, error) {
	id, err := c.start(ctx, kind, req)
	if err != nil {
		return models.GenerationResult{}, err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		st, err := c.status(ctx, id)
		if err != nil {
			c.abort(id)
			return models.GenerationResult{}, err
		}

		switch st.Status {
		case statusSucceeded:
			if st.Result == nil {
				return models.GenerationResult{}, fmt.Errorf("%w: succeeded without result", generator.ErrInvalidResponse)
			}
			return st.Result.toModel(c.Name()), nil
		case statusFailed:
			return models.GenerationResult{}, fmt.Errorf("%w: %s", generator.ErrFailed, st.Error)
		case statusQueued, statusRunning:
		default:
			c.abort(id)
			return models.GenerationResult{}, fmt.Errorf("%w: unknown status %q", generator.ErrInvalidResponse, st.Status)
		}

		if progress != nil {
			if err := progress(st.Progress); err != nil {
				c.abort(id)
				return models.GenerationResult{}, err
			}
		}

		select {
		case <-ctx.Done():
			c.abort(id)
			return models.GenerationResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ready checks that the inference service accepts work.
func (c *Client) Ready(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/ready", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", generator.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: not ready (status %d)", generator.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) start(ctx context.Context, kind models.TargetKind, req models.GenerationRequest) (string, error) {
	body, err := json.Marshal(startRequest{
		Kind:       string(kind),
		Prompt:     req.Prompt,
		Style:      req.Style,
		Attributes: req.Attributes,
		Duration:   req.Duration.Seconds(),
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/generations", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var out startResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding start response: %v", generator.ErrInvalidResponse, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: missing generation id", generator.ErrInvalidResponse)
	}
	return out.ID, nil
}

func (c *Client) status(ctx context.Context, id string) (statusResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/generations/"+url.PathEscape(id), nil)
	if err != nil {
		return statusResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusResponse{}, statusError(resp)
	}

	var st statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return statusResponse{}, fmt.Errorf("%w: decoding status: %v", generator.ErrInvalidResponse, err)
	}
	return st, nil
}

// abort runs detached from the caller's context, which is usually already done.
func (c *Client) abort(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := c.do(ctx, http.MethodDelete, "/v1/generations/"+url.PathEscape(id), nil)
	if err != nil {
		slog.Debug("aborting remote generation failed", "generation_id", id, "error", err)
		return
	}
	resp.Body.Close()
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d", generator.ErrUnavailable, resp.StatusCode)
	}
	return fmt.Errorf("%w: status %d", generator.ErrInvalidResponse, resp.StatusCode)
}

// classifyError maps transport-level errors to sentinel errors. Context
// errors are kept matchable so callers can tell cancellation from outages.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", generator.ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", generator.ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", generator.ErrUnavailable, err)
}

// --- Inference service wire types ---

const (
	statusQueued    = "queued"
	statusRunning   = "running"
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
)

type startRequest struct {
	Kind       string            `json:"kind"`
	Prompt     string            `json:"prompt"`
	Style      string            `json:"style,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Duration   float64           `json:"duration,omitempty"`
}

type startResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	Status   string        `json:"status"`
	Progress float64       `json:"progress"`
	Result   *remoteResult `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type remoteResult struct {
	Character *models.Character `json:"character,omitempty"`
	Tracks    []remoteTrack     `json:"tracks,omitempty"`
}

type remoteTrack struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Keyframes []struct {
		Time  float64         `json:"time"`
		Value json.RawMessage `json:"value"`
	} `json:"keyframes"`
}

// toModel converts wire tracks. Times arrive as seconds; invalid ones are
// left negative so timeline validation rejects the merge.
func (r *remoteResult) toModel(name string) models.GenerationResult {
	out := models.GenerationResult{Generator: name, Character: r.Character}
	for _, rt := range r.Tracks {
		tr := models.Track{ID: rt.ID, Name: rt.Name, Kind: models.TrackKind(rt.Kind)}
		for _, k := range rt.Keyframes {
			at, err := timecode.FromSeconds(k.Time)
			if err != nil {
				at = -1
			}
			tr.Keyframes = append(tr.Keyframes, models.Keyframe{Time: at, Value: k.Value})
		}
		out.Tracks = append(out.Tracks, tr)
	}
	return out
}

var _ models.Generator = (*Client)(nil)
