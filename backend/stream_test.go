package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alesr/spola"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRun(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/telemetry/stream", r.URL.Path)
		assert.Equal(t, "speed", r.URL.Query().Get("fields"))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		for i := 0; i < 5; i++ {
			fmt.Fprintf(w, "data: {\"speed\": %d.5, \"timestamp\": \"2026-08-30T12:00:0%d.000Z\"}\n\n", 40+i, i)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: {not json}\n\n")
		fmt.Fprint(w, ": keepalive comment\n\n")
		flusher.Flush()

		<-r.Context().Done()
	}))
	defer srv.Close()

	stream, err := NewStream(srv.URL, srv.Client(), WithStreamFields(spola.NewFieldMask("speed")))
	require.NoError(t, err)

	buf := spola.NewLiveBuffer(spola.WithCapacity(100))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- stream.Run(ctx, buf)
	}()

	assert.Eventually(t, func() bool {
		return buf.Len() == 5
	}, time.Second, 10*time.Millisecond, "the five valid events should land in the buffer")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	first, ok := buf.At(0)
	require.True(t, ok)
	speed, ok := first.Payload.Num("speed")
	require.True(t, ok)
	assert.Equal(t, 40.5, speed)
	assert.Equal(t, 40.5, first.Metrics["speed"], "metrics should be extracted at ingestion")

	wantTs, err := time.Parse(time.RFC3339, "2026-08-30T12:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, wantTs.UnixMilli(), first.TimestampMs, "the event timestamp should win over arrival time")
}

func TestStreamReconnects(t *testing.T) {
	t.Parallel()

	var connects int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connects++
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"speed\": %d}\n\n", connects)
		// Returning closes the connection, forcing the subscriber to retry.
	}))
	defer srv.Close()

	stream, err := NewStream(srv.URL, srv.Client(), WithReconnectDelay(10*time.Millisecond))
	require.NoError(t, err)

	buf := spola.NewLiveBuffer(spola.WithCapacity(100))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stream.Run(ctx, buf)

	assert.Eventually(t, func() bool {
		return buf.Len() >= 3
	}, 2*time.Second, 10*time.Millisecond, "each reconnection should deliver another event")
}

func TestStreamRunStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	stream, err := NewStream(srv.URL, srv.Client(), WithReconnectDelay(time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = stream.Run(ctx, spola.NewLiveBuffer())
	assert.ErrorIs(t, err, context.DeadlineExceeded, "a failed connection should wait out the retry delay until the context expires")
}

func TestNewStreamValidation(t *testing.T) {
	t.Parallel()

	_, err := NewStream("", http.DefaultClient)
	assert.Error(t, err)

	_, err = NewStream("http://localhost:8080", nil)
	assert.Error(t, err)
}
