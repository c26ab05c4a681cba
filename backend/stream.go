package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alesr/spola"
	"github.com/tidwall/gjson"
)

const (
	defaultReconnectDelay = 2 * time.Second

	// maxEventSize bounds a single SSE event line.
	maxEventSize = 1 << 20
)

// Stream subscribes to the live telemetry SSE feed and pushes each event
// into a live buffer. A dropped connection is retried until the context is
// canceled.
type Stream struct {
	baseURL        *url.URL
	cli            *http.Client
	logger         *slog.Logger
	metrics        spola.MetricTable
	mask           spola.FieldMask
	reconnectDelay time.Duration
}

// StreamOption defines an option for configuring Stream.
type StreamOption func(*Stream)

// WithStreamFields limits the subscription to the given payload sections.
func WithStreamFields(mask spola.FieldMask) StreamOption {
	return func(s *Stream) {
		s.mask = mask
	}
}

// WithStreamMetricTable sets the metric table applied to incoming events.
func WithStreamMetricTable(table spola.MetricTable) StreamOption {
	return func(s *Stream) {
		if table != nil {
			s.metrics = table
		}
	}
}

// WithStreamLogger sets the logger. Defaults to slog.Default.
func WithStreamLogger(logger *slog.Logger) StreamOption {
	return func(s *Stream) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithReconnectDelay sets the pause between reconnection attempts.
func WithReconnectDelay(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d > 0 {
			s.reconnectDelay = d
		}
	}
}

// NewStream creates a new Stream instance. The HTTP client must not carry a
// request timeout, the subscription is long-lived.
func NewStream(baseURL string, httpCli *http.Client, opts ...StreamOption) (*Stream, error) {
	if baseURL == "" || httpCli == nil {
		return nil, errors.New("invalid arguments")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	s := &Stream{
		baseURL:        u,
		cli:            httpCli,
		logger:         slog.Default(),
		metrics:        spola.DefaultMetricTable(),
		mask:           spola.AllFields(),
		reconnectDelay: defaultReconnectDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run consumes the feed until ctx is canceled, reconnecting after failures.
// Always returns the context error.
func (s *Stream) Run(ctx context.Context, buf *spola.LiveBuffer) error {
	for {
		if err := s.consume(ctx, buf); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("telemetry stream disconnected", "error", err)
		} else {
			s.logger.Info("telemetry stream ended, reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *Stream) consume(ctx context.Context, buf *spola.LiveBuffer) error {
	endpoint, err := url.JoinPath(s.baseURL.String(), "api/telemetry/stream")
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if fields := s.mask.String(); fields != "" {
		endpoint += "?fields=" + url.QueryEscape(fields)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.cli.Do(req)
	if err != nil {
		return fmt.Errorf("could not connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}

	s.logger.Info("telemetry stream connected", "url", endpoint)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		payload := spola.Payload(data)
		if !gjson.ValidBytes(payload) {
			s.logger.Debug("dropping malformed telemetry event")
			continue
		}

		buf.Push(spola.Sample{
			TimestampMs: eventTimestampMs(payload),
			Metrics:     s.metrics.Extract(payload),
			Payload:     payload,
		})
	}
	return scanner.Err()
}

// eventTimestampMs reads the event's own timestamp when present so buffered
// samples line up with the recording clock, falling back to arrival time.
func eventTimestampMs(p spola.Payload) int64 {
	if s, ok := p.Str("timestamp"); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UnixMilli()
		}
	}
	return time.Now().UnixMilli()
}
