package uplink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

func TestSendChunksAndSkipsFailedChunk(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		sizes []int
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/add-pool", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body payload
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		calls++
		call := calls
		sizes = append(sizes, len(body.Servers))
		mu.Unlock()

		if call == 2 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = fmt.Fprintf(w, `{"added":%d}`, len(body.Servers)-1)
	}))
	defer srv.Close()

	client, err := New(Config{CollectorURL: srv.URL + "/"}, srv.Client(), zap.NewNop())
	require.NoError(t, err)

	added, failures := client.Send(context.Background(), makeEntries(1200))

	require.Equal(t, []int{500, 500, 200}, sizes)
	require.Equal(t, 1, failures)
	require.Equal(t, 499+199, added)
}

func TestSendPayloadShape(t *testing.T) {
	t.Parallel()

	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies <- body
		_, _ = w.Write([]byte(`{"added":1}`))
	}))
	defer srv.Close()

	client, err := New(Config{CollectorURL: srv.URL, Source: "harvester-1"}, srv.Client(), nil)
	require.NoError(t, err)

	added, failures := client.Send(context.Background(), []crawler.Entry{{ID: "abc", Playing: 8}})
	require.Equal(t, 1, added)
	require.Zero(t, failures)

	body := <-bodies
	require.Equal(t, "harvester-1", body["source"])
	require.Equal(t, []any{map[string]any{"id": "abc", "players": float64(8)}}, body["servers"])
}

func TestSendMalformedResponseCountsAsFailure(t *testing.T) {
	t.Parallel()

	for name, reply := range map[string]string{
		"not json":      "ok",
		"missing added": `{"status":"ok"}`,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(reply))
			}))
			defer srv.Close()

			client, err := New(Config{CollectorURL: srv.URL}, srv.Client(), zap.NewNop())
			require.NoError(t, err)
			added, failures := client.Send(context.Background(), makeEntries(3))
			require.Zero(t, added)
			require.Equal(t, 1, failures)
		})
	}
}

func TestSendTimeoutPerChunk(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		_, _ = w.Write([]byte(`{"added":1}`))
	}))
	defer srv.Close()
	defer close(release)

	client, err := New(Config{CollectorURL: srv.URL, Timeout: 50 * time.Millisecond}, srv.Client(), zap.NewNop())
	require.NoError(t, err)
	added, failures := client.Send(context.Background(), makeEntries(2))
	require.Zero(t, added)
	require.Equal(t, 1, failures)
}

func TestSendEmptyBatch(t *testing.T) {
	t.Parallel()

	client, err := New(Config{CollectorURL: "http://127.0.0.1:1"}, nil, zap.NewNop())
	require.NoError(t, err)
	added, failures := client.Send(context.Background(), nil)
	require.Zero(t, added)
	require.Zero(t, failures)
}

func TestNewRequiresCollector(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil)
	require.Error(t, err)
}

func TestChunk(t *testing.T) {
	t.Parallel()

	require.Nil(t, Chunk(nil, 10))
	require.Nil(t, Chunk(makeEntries(3), 0))

	chunks := Chunk(makeEntries(7), 3)
	require.Len(t, chunks, 3)
	require.Len(t, chunks[2], 1)
	require.Equal(t, "e-6", chunks[2][0].ID)
}

func makeEntries(n int) []crawler.Entry {
	out := make([]crawler.Entry, n)
	for i := range out {
		out[i] = crawler.Entry{ID: fmt.Sprintf("e-%d", i), Playing: 5 + i%10}
	}
	return out
}
