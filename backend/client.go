// Package backend consumes the narrow HTTP contract of the telemetry server:
// paged frame ranges, fire-and-forget playback control, replay session
// metadata, and the live SSE telemetry stream. It implements the interfaces
// the buffering layer fetches through; nothing here mutates buffer state.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/alesr/spola"
	"github.com/alesr/spola/replaycache"
	"github.com/oklog/ulid/v2"
)

// StatusError reports an unexpected HTTP status from the backend.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// ErrNoReplay is returned when the backend has no active replay session.
var ErrNoReplay = errors.New("backend: no active replay")

// Client talks to one telemetry backend. It satisfies both
// replaycache.FrameSource and replaycache.ControlSink.
type Client struct {
	baseURL *url.URL
	cli     *http.Client
	logger  *slog.Logger
	metrics spola.MetricTable
	rid     string // replay session id tagging frame requests
}

var (
	_ replaycache.FrameSource = (*Client)(nil)
	_ replaycache.ControlSink = (*Client)(nil)
)

// ClientOption defines an option for configuring Client.
type ClientOption func(*Client)

// WithMetricTable sets the metric table applied to fetched payloads.
func WithMetricTable(table spola.MetricTable) ClientOption {
	return func(c *Client) {
		if table != nil {
			c.metrics = table
		}
	}
}

// WithClientLogger sets the logger. Defaults to slog.Default.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithReplayID overrides the generated replay session id.
func WithReplayID(rid string) ClientOption {
	return func(c *Client) {
		if rid != "" {
			c.rid = rid
		}
	}
}

// NewClient creates a new Client instance.
func NewClient(baseURL string, httpCli *http.Client, opts ...ClientOption) (*Client, error) {
	if baseURL == "" || httpCli == nil {
		return nil, errors.New("invalid arguments")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	c := &Client{
		baseURL: u,
		cli:     httpCli,
		logger:  slog.Default(),
		metrics: spola.DefaultMetricTable(),
		rid:     ulid.Make().String(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// frameEntry is one element of the frames response: {"i": index, "f": record}.
type frameEntry struct {
	I int             `json:"i"`
	F json.RawMessage `json:"f"`
}

// Frames fetches count frames starting at start, forwarding the field mask
// so the backend can thin the payloads. Metrics are extracted here, at
// ingestion, so buffers store render-ready samples.
func (c *Client) Frames(ctx context.Context, start, count int, mask spola.FieldMask) ([]spola.IndexedSample, error) {
	endpoint, err := url.JoinPath(c.baseURL.String(), "api/replay/frames")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := url.Values{}
	q.Set("start", strconv.Itoa(start))
	q.Set("count", strconv.Itoa(count))
	if fields := mask.String(); fields != "" {
		q.Set("fields", fields)
	}
	if c.rid != "" {
		q.Set("rid", c.rid)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	resp, err := c.cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var entries []frameEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("could not decode frames response: %w", err)
	}

	frames := make([]spola.IndexedSample, len(entries))
	for i, e := range entries {
		payload := spola.Payload(e.F)
		frames[i] = spola.IndexedSample{
			Frame: e.I,
			Sample: spola.Sample{
				Metrics: c.metrics.Extract(payload),
				Payload: payload,
			},
		}
	}
	return frames, nil
}

// controlRequest is the playback-control wire shape: {action, value?}.
type controlRequest struct {
	Action string   `json:"action"`
	Value  *float64 `json:"value,omitempty"`
}

// Control posts a playback-state change. Seek and speed carry a value; play
// and pause do not.
func (c *Client) Control(ctx context.Context, action replaycache.Action, value float64) error {
	endpoint, err := url.JoinPath(c.baseURL.String(), "api/replay/control")
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	body := controlRequest{Action: string(action)}
	if action == replaycache.ActionSeek || action == replaycache.ActionSpeed {
		body.Value = &value
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("could not marshal control request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cli.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// SessionInfo describes the active replay session as reported by the backend.
type SessionInfo struct {
	TotalFrames   int     `json:"total_frames"`
	TickRate      int     `json:"tick_rate"`
	DurationSecs  float64 `json:"duration_secs"`
	CurrentFrame  int     `json:"current_frame"`
	Playing       bool    `json:"playing"`
	PlaybackSpeed float64 `json:"playback_speed"`
	TrackName     string  `json:"track_name"`
	CarName       string  `json:"car_name"`
	FileSize      int64   `json:"file_size"`
}

// Session converts the metadata to the shape the replay cache adopts.
func (i SessionInfo) Session() replaycache.Session {
	return replaycache.Session{
		TotalFrames:  i.TotalFrames,
		TickRate:     i.TickRate,
		CurrentFrame: i.CurrentFrame,
		Playing:      i.Playing,
		Speed:        i.PlaybackSpeed,
	}
}

// SessionInfo fetches the replay session metadata, supplied once at replay
// session start. Returns ErrNoReplay when no replay is active.
func (c *Client) SessionInfo(ctx context.Context) (SessionInfo, error) {
	endpoint, err := url.JoinPath(c.baseURL.String(), "api/replay/info")
	if err != nil {
		return SessionInfo{}, fmt.Errorf("invalid base URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("could not create request: %w", err)
	}

	resp, err := c.cli.Do(req)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return SessionInfo{}, ErrNoReplay
	}
	if resp.StatusCode != http.StatusOK {
		return SessionInfo{}, &StatusError{Code: resp.StatusCode}
	}

	var info SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return SessionInfo{}, fmt.Errorf("could not decode session info: %w", err)
	}
	return info, nil
}

// ReplayID returns the replay session id tagging this client's requests.
func (c *Client) ReplayID() string {
	return c.rid
}
