package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ABCWORK9/mintydoc/internal/server/auth"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "0x00000000000000000000000000000000000abc01"

// fakeServer mimics the HTTP API closely enough for the command tree.
type fakeServer struct {
	mu        sync.Mutex
	completed []map[string]any
	uploaded  map[string][]byte
	aborted   int
}

func (f *fakeServer) handler(t *testing.T, base func() string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/upload/initiate", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testWallet, body["wallet"])
		_, _ = w.Write([]byte(`{"jobId":"job-1","objectKey":"uploads/job-1/x","uploadId":"u"}`))
	})
	r.HandleFunc("/api/upload/presign-part", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PartNumber int `json:"partNumber"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(map[string]string{"url": fmt.Sprintf("%s/put/%d", base(), body.PartNumber)})
	})
	r.HandleFunc("/put/{n}", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		if f.uploaded == nil {
			f.uploaded = map[string][]byte{}
		}
		f.uploaded[mux.Vars(r)["n"]] = b
		f.mu.Unlock()
		w.Header().Set("ETag", `"etag-`+mux.Vars(r)["n"]+`"`)
	}).Methods(http.MethodPut)
	r.HandleFunc("/api/upload/complete", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.completed = append(f.completed, body)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.HandleFunc("/api/upload/abort", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.aborted++
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.HandleFunc("/api/pricing/estimate", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"priceCents":1234,"breakdown":{"arweaveCents":100,"baseFeeCents":1,"markupCents":1133,"totalCents":1234}}`))
	})
	r.HandleFunc("/api/reserve/intent", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-Client-Request-Id"))
		_, _ = w.Write([]byte(`{"chainId":31337,"contractAddress":"0x5FbDB2315678afecb367f032d93F642f64180aa3",
			"functionName":"reservePost","args":["6","1234","1700000600","0x01","0x02"],"value":"0",
			"reservationId":"0xfeed","priceCents":1234,"expiresAt":1700000600,"reissued":false}`))
	})
	r.HandleFunc("/api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] != "job-1" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"job_not_found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"jobId":"job-1","state":"finalized","uploadStatus":"uploaded","wallet":"` + testWallet + `",
			"sizeBytes":"6","reserveReservationId":"0xfeed","arweaveTxId":"ar-1","finalizeTxHash":"0xbeef"}`))
	})
	return r
}

func startFake(t *testing.T) (*fakeServer, string) {
	t.Helper()
	f := &fakeServer{}
	var ts *httptest.Server
	ts = httptest.NewServer(f.handler(t, func() string { return ts.URL }))
	t.Cleanup(ts.Close)
	return f, ts.URL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPublishCommand(t *testing.T) {
	f, url := startFake(t)
	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello!"), 0o600))

	out, err := run(t, "publish", path, "--server", url, "--wallet", testWallet, "--title", "Hello")
	require.NoError(t, err)

	assert.Contains(t, out, "job-1")
	assert.Contains(t, out, "$12.34")
	assert.Contains(t, out, "reservePost(6, 1234, 1700000600, 0x01, 0x02)")
	assert.Contains(t, out, "0xfeed")

	require.Len(t, f.completed, 1)
	assert.Equal(t, []byte("hello!"), f.uploaded["1"])
	parts := f.completed[0]["parts"].([]any)
	require.Len(t, parts, 1)
	assert.Equal(t, `"etag-1"`, parts[0].(map[string]any)["etag"])
	assert.Zero(t, f.aborted)
}

func TestPublishCommand_JSON(t *testing.T) {
	_, url := startFake(t)
	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello!"), 0o600))

	out, err := run(t, "publish", path, "-s", url, "-w", testWallet, "--json")
	require.NoError(t, err)

	var intent map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &intent))
	assert.Equal(t, "reservePost", intent["functionName"])
}

func TestPublishCommand_RequiresWallet(t *testing.T) {
	_, url := startFake(t)
	_, err := run(t, "publish", "whatever", "--server", url)
	assert.ErrorIs(t, err, errNoWallet)
}

func TestEstimateCommand(t *testing.T) {
	_, url := startFake(t)

	out, err := run(t, "estimate", "1048576", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "$12.34")
	assert.Contains(t, out, "$11.33")

	_, err = run(t, "estimate", "zero", "--server", url)
	assert.Error(t, err)
}

func TestStatusCommand(t *testing.T) {
	_, url := startFake(t)

	out, err := run(t, "status", "job-1", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "finalized")
	assert.Contains(t, out, "ar-1")
	assert.Contains(t, out, "0xbeef")

	_, err = run(t, "status", "missing", "--server", url)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "job_not_found"), err.Error())
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("PUBLISHCTL_SECRET_KEY", "s3cret")

	out, err := run(t, "token", "alice")
	require.NoError(t, err)

	op, err := auth.OperatorFromToken(strings.TrimSpace(out), []byte("s3cret"))
	require.NoError(t, err)
	assert.Equal(t, "alice", op)
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	_, err := run(t, "token", "alice")
	assert.ErrorIs(t, err, errNoSecret)
}
