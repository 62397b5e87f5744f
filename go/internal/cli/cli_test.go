package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMarketplace serves the marketplace REST endpoints from memory.
type fakeMarketplace struct {
	mu         sync.Mutex
	auctions   map[string]map[string]any
	bidStatus  int
	bidBody    string
	bids       []map[string]any
	listQuery  string
	listResult map[string]any
}

func newFakeMarketplace(t *testing.T) (*fakeMarketplace, *httptest.Server) {
	t.Helper()
	m := &fakeMarketplace{
		auctions:  map[string]map[string]any{},
		bidStatus: http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /auction/{id}", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		a, ok := m.auctions[r.PathValue("id")]
		m.mu.Unlock()
		if !ok {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(a)
	})
	mux.HandleFunc("POST /auction/{id}/bid", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		m.mu.Lock()
		m.bids = append(m.bids, body)
		status, resp := m.bidStatus, m.bidBody
		m.mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(resp))
	})
	mux.HandleFunc("GET /auction", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.listQuery = r.URL.RawQuery
		resp := m.listResult
		m.mu.Unlock()
		json.NewEncoder(w).Encode(resp)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	t.Setenv("BAZAAR_API_URL", srv.URL)
	t.Setenv("BAZAAR_TRANSPORT", "none")
	t.Setenv("BAZAAR_USER_ID", "alice")
	t.Setenv("BAZAAR_LOG_LEVEL", "debug")
	return m, srv
}

func (m *fakeMarketplace) put(id string, fields map[string]any) {
	now := time.Now().UTC()
	a := map[string]any{
		"id":           id,
		"status":       "live",
		"currentPrice": "100",
		"minIncrement": "10",
		"endAt":        now.Add(time.Minute).Format(time.RFC3339Nano),
		"serverTime":   now.Format(time.RFC3339Nano),
	}
	for k, v := range fields {
		a[k] = v
	}
	m.mu.Lock()
	m.auctions[id] = a
	m.mu.Unlock()
}

func (m *fakeMarketplace) bidCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bids)
}

// syncBuffer is a bytes.Buffer safe for the logger and the test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr syncBuffer
	args = append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...)
	code := Execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	assert.Equal(t, "bazaar", cmd.Use)
	for _, name := range []string{"config", "env-file", "verbose", "format"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"watch", "bid", "list", "serve"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()

	tests := []struct {
		command string
		flag    string
	}{
		{"watch", "duration"},
		{"watch", "ticks"},
		{"bid", "wait"},
		{"list", "status"},
		{"list", "page"},
		{"list", "page-size"},
		{"serve", "addr"},
	}
	for _, tt := range tests {
		sub, _, err := cmd.Find([]string{tt.command})
		require.NoError(t, err)
		assert.NotNil(t, sub.Flags().Lookup(tt.flag), "%s --%s", tt.command, tt.flag)
	}
}

func TestExecute_InvalidFormat(t *testing.T) {
	newFakeMarketplace(t)

	code, _, stderr := runCLI(t, "--format", "xml", "list")

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, `invalid format "xml"`)
}

func TestExecute_UsageError(t *testing.T) {
	newFakeMarketplace(t)

	code, _, stderr := runCLI(t, "bid", "a1")

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "accepts 2 arg(s)")
}

func TestExecute_InvalidConfig(t *testing.T) {
	newFakeMarketplace(t)
	t.Setenv("BAZAAR_TRANSPORT", "pigeon")

	code, _, stderr := runCLI(t, "list")

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "failed to load config")
}

func TestList(t *testing.T) {
	m, _ := newFakeMarketplace(t)
	m.listResult = map[string]any{
		"items": []map[string]any{
			{"id": "a1", "title": "Vintage camera", "status": "live", "currentPrice": "120", "endAt": time.Now().Add(time.Hour).Format(time.RFC3339)},
			{"id": "a2", "title": "Record player", "status": "live", "currentPrice": "45.5", "endAt": time.Now().Add(2 * time.Hour).Format(time.RFC3339)},
		},
		"page": 2, "pageSize": 2, "total": 6,
	}

	code, stdout, _ := runCLI(t, "list", "--status", "live", "--page", "2", "--page-size", "2")

	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Vintage camera")
	assert.Contains(t, stdout, "Record player")
	assert.Contains(t, stdout, "page 2, 2 of 6 auctions")
	assert.Contains(t, m.listQuery, "status=live")
	assert.Contains(t, m.listQuery, "page=2")
	assert.Contains(t, m.listQuery, "pageSize=2")
}

func TestList_JSON(t *testing.T) {
	m, _ := newFakeMarketplace(t)
	m.listResult = map[string]any{
		"items": []map[string]any{{"id": "a1", "title": "Lamp", "status": "ended", "currentPrice": "30"}},
		"page":  1, "pageSize": 20, "total": 1,
	}

	code, stdout, _ := runCLI(t, "--format", "json", "list")
	require.Equal(t, ExitSuccess, code)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Items []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"items"`
			Total int `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Items, 1)
	assert.Equal(t, "a1", resp.Data.Items[0].ID)
	assert.Equal(t, "ended", resp.Data.Items[0].Status)
}

func TestList_InvalidStatus(t *testing.T) {
	newFakeMarketplace(t)

	code, _, stderr := runCLI(t, "list", "--status", "sold")

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, `invalid status "sold"`)
}

func TestBid_FallbackConfirmed(t *testing.T) {
	m, _ := newFakeMarketplace(t)
	m.put("a1", nil)
	m.bidBody = `{"currentPrice":"110","winnerId":"alice"}`

	code, stdout, _ := runCLI(t, "bid", "a1", "110")

	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "bid 110 sent via fallback: confirmed")
	assert.Contains(t, stdout, "price 110")
	assert.Contains(t, stdout, "leader alice")

	require.Equal(t, 1, m.bidCount())
	assert.NotEmpty(t, m.bids[0]["idempotencyKey"])
}

func TestBid_Rejected(t *testing.T) {
	m, _ := newFakeMarketplace(t)
	m.put("a1", nil)
	m.bidStatus = http.StatusConflict
	m.bidBody = `{"message":"a higher bid was placed"}`

	code, _, stderr := runCLI(t, "bid", "a1", "110")

	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "Error [rejected]")
	assert.Contains(t, stderr, "a higher bid was placed")
}

func TestBid_BelowMinimum(t *testing.T) {
	m, _ := newFakeMarketplace(t)
	m.put("a1", nil)

	code, stdout, _ := runCLI(t, "--format", "json", "bid", "a1", "105")

	assert.Equal(t, ExitFailure, code)
	assert.Zero(t, m.bidCount())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "below_minimum", resp.Error.Code)
}

func TestBid_NotLive(t *testing.T) {
	m, _ := newFakeMarketplace(t)
	m.put("a1", map[string]any{"status": "scheduled"})

	code, _, stderr := runCLI(t, "bid", "a1", "200")

	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "Error [not_live]")
	assert.Zero(t, m.bidCount())
}

func TestBid_InvalidAmount(t *testing.T) {
	newFakeMarketplace(t)

	for _, amount := range []string{"abc", "0", "-5"} {
		code, _, stderr := runCLI(t, "bid", "a1", amount)
		assert.Equal(t, ExitCommandError, code, amount)
		assert.Contains(t, stderr, "invalid amount", amount)
	}
}

func TestWatch_EndedAuctionPrintsOnce(t *testing.T) {
	m, _ := newFakeMarketplace(t)
	m.put("a1", map[string]any{
		"status":     "ended",
		"winnerId":   "bob",
		"finalPrice": "250",
	})

	code, stdout, _ := runCLI(t, "watch", "a1")

	require.Equal(t, ExitSuccess, code)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "ended")
	assert.Contains(t, lines[0], "leader bob")
	assert.Contains(t, lines[0], "final 250")
}

func TestWatch_StopsAfterDuration(t *testing.T) {
	m, _ := newFakeMarketplace(t)
	m.put("a1", nil)

	start := time.Now()
	code, stdout, _ := runCLI(t, "--format", "json", "watch", "a1", "--duration", "300ms", "--ticks=false")

	require.Equal(t, ExitSuccess, code)
	assert.Less(t, time.Since(start), 5*time.Second)

	first := strings.SplitN(strings.TrimSpace(stdout), "\n", 2)[0]
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Kind string `json:"kind"`
			View struct {
				AuctionID string `json:"auction_id"`
				CanBid    bool   `json:"can_bid"`
				Stale     bool   `json:"stale"`
			} `json:"view"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(first), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "state", resp.Data.Kind)
	assert.Equal(t, "a1", resp.Data.View.AuctionID)
	assert.True(t, resp.Data.View.CanBid)
	// No live channel configured.
	assert.True(t, resp.Data.View.Stale)
}

func TestWatch_NotFound(t *testing.T) {
	newFakeMarketplace(t)

	code, stdout, _ := runCLI(t, "--format", "json", "watch", "missing")

	assert.Equal(t, ExitCommandError, code)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	newFakeMarketplace(t)

	ctx, cancel := context.WithCancel(context.Background())
	var stdout, stderr syncBuffer
	done := make(chan int, 1)
	go func() {
		done <- Execute(ctx, []string{
			"--env-file", filepath.Join(t.TempDir(), "missing.env"),
			"serve", "--addr", "127.0.0.1:0",
		}, &stdout, &stderr)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(stderr.String(), "view hub starting")
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, ExitSuccess, code)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not shut down")
	}
	assert.Contains(t, stderr.String(), "view hub stopped")
}
