package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/slicewise/pkg/algostore"
	"github.com/boristopalov/slicewise/pkg/experiment"
	"github.com/boristopalov/slicewise/pkg/luarunner"
	"github.com/boristopalov/slicewise/pkg/messaging"
	"github.com/boristopalov/slicewise/pkg/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	algos, err := algostore.Open(t.TempDir(), algostore.WithInMemory())
	require.NoError(t, err)
	t.Cleanup(func() { algos.Close() })

	broker := messaging.NewBroker()
	store := session.NewStore(session.WithBroker(broker))
	runner := experiment.NewRunner(experiment.WithResolver(luarunner.NewResolver(algos)))

	return New(store, runner, WithAlgoStore(algos), WithBroker(broker))
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func startSession(t *testing.T, srv *Server, env string, nActions, iterations int, seed int64) string {
	t.Helper()
	w, out := doJSON(t, srv, http.MethodPost, "/api/play/start", gin.H{
		"env":        env,
		"n_actions":  nActions,
		"iterations": iterations,
		"seed":       seed,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id, ok := out["session_id"].(string)
	require.True(t, ok)
	require.Len(t, id, 32)
	return id
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	w, out := doJSON(t, srv, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, out["ok"])
}

func TestCORSAllowsAnyOrigin(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestPlayLifecycle(t *testing.T) {
	srv := newTestServer(t)
	id := startSession(t, srv, "bernoulli", 3, 3, 11)

	for i := 1; i <= 3; i++ {
		w, out := doJSON(t, srv, http.MethodPost, "/api/play/step", gin.H{
			"session_id": id,
			"action":     0,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Equal(t, float64(i), out["t"])
		require.Equal(t, float64(0), out["action"])
		require.Contains(t, out, "reward")
		require.Contains(t, out, "accepted")
		require.Equal(t, i == 3, out["done"])
	}

	// past the horizon the step endpoint reports done without stepping
	w, out := doJSON(t, srv, http.MethodPost, "/api/play/step", gin.H{
		"session_id": id,
		"action":     0,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(3), out["t"])
	require.Equal(t, true, out["done"])
	require.NotContains(t, out, "reward")

	w, out = doJSON(t, srv, http.MethodGet, "/api/play/log?session_id="+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(3), out["t"])
	require.Len(t, out["history"], 3)

	w, out = doJSON(t, srv, http.MethodPost, "/api/play/reset", gin.H{"session_id": id})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(0), out["t"])

	w, out = doJSON(t, srv, http.MethodPost, "/api/play/end", gin.H{"session_id": id})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, out["ok"])

	// ending twice is a no-op
	w, out = doJSON(t, srv, http.MethodPost, "/api/play/end", gin.H{"session_id": id})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, false, out["ok"])

	w, _ = doJSON(t, srv, http.MethodGet, "/api/play/log?session_id="+id, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlayErrors(t *testing.T) {
	srv := newTestServer(t)

	t.Run("unknown session", func(t *testing.T) {
		w, out := doJSON(t, srv, http.MethodPost, "/api/play/step", gin.H{
			"session_id": "ffffffffffffffffffffffffffffffff",
			"action":     0,
		})
		require.Equal(t, http.StatusNotFound, w.Code)
		require.Equal(t, "invalid session", out["error"])
	})

	t.Run("action out of range", func(t *testing.T) {
		id := startSession(t, srv, "gaussian", 4, 5, 7)
		w, out := doJSON(t, srv, http.MethodPost, "/api/play/step", gin.H{
			"session_id": id,
			"action":     4,
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "action out of range", out["error"])
	})

	t.Run("invalid start payload", func(t *testing.T) {
		w, out := doJSON(t, srv, http.MethodPost, "/api/play/start", gin.H{
			"env":        "poisson",
			"n_actions":  1,
			"iterations": 10,
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "invalid payload", out["error"])
		require.NotEmpty(t, out["detail"])
	})

	t.Run("missing action is rejected", func(t *testing.T) {
		id := startSession(t, srv, "bernoulli", 2, 5, 1)
		w, out := doJSON(t, srv, http.MethodPost, "/api/play/step", gin.H{
			"session_id": id,
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "invalid payload", out["error"])
	})
}

func TestPlot(t *testing.T) {
	srv := newTestServer(t)
	id := startSession(t, srv, "bernoulli", 3, 50, 42)

	t.Run("built-in algorithms with a warning", func(t *testing.T) {
		w, out := doJSON(t, srv, http.MethodPost, "/api/plot", gin.H{
			"session_id": id,
			"algorithms": []string{"greedy", "ucb1", "exp3"},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Equal(t, float64(50), out["iterations"])

		traces := out["traces"].(map[string]any)
		require.Contains(t, traces, "greedy")
		require.Contains(t, traces, "ucb1")
		require.NotContains(t, traces, "exp3")

		summary := out["summary"].(map[string]any)
		require.Contains(t, summary, "greedy")

		warnings := out["warnings"].([]any)
		require.Len(t, warnings, 1)
		require.Contains(t, warnings[0], "exp3")
	})

	t.Run("plot is deterministic for one session", func(t *testing.T) {
		body := gin.H{"session_id": id, "algorithms": []string{"thompson"}}
		_, first := doJSON(t, srv, http.MethodPost, "/api/plot", body)
		_, second := doJSON(t, srv, http.MethodPost, "/api/plot", body)
		require.Equal(t, first["traces"], second["traces"])
		require.Equal(t, first["summary"], second["summary"])
	})

	t.Run("empty algorithm set yields the sentinel trace", func(t *testing.T) {
		w, out := doJSON(t, srv, http.MethodPost, "/api/plot", gin.H{"session_id": id})
		require.Equal(t, http.StatusOK, w.Code)
		traces := out["traces"].(map[string]any)
		require.Contains(t, traces, "empty_trace")
	})

	t.Run("iterations override", func(t *testing.T) {
		w, out := doJSON(t, srv, http.MethodPost, "/api/plot", gin.H{
			"session_id": id,
			"algorithms": []string{"greedy"},
			"iterations": 7,
		})
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, float64(7), out["iterations"])
		trace := out["traces"].(map[string]any)["greedy"].(map[string]any)
		require.Len(t, trace["rewards"], 7)
	})

	t.Run("unknown session", func(t *testing.T) {
		w, out := doJSON(t, srv, http.MethodPost, "/api/plot", gin.H{
			"session_id": "ffffffffffffffffffffffffffffffff",
			"algorithms": []string{"greedy"},
		})
		require.Equal(t, http.StatusNotFound, w.Code)
		require.Equal(t, "invalid session", out["error"])
	})
}

func uploadAlgorithm(t *testing.T, srv *Server, filename, source string, meta gin.H) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(source))
	require.NoError(t, err)
	if meta != nil {
		raw, err := json.Marshal(meta)
		require.NoError(t, err)
		require.NoError(t, mw.WriteField("meta", string(raw)))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/algorithms", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestUploadAndRunCustomAlgorithm(t *testing.T) {
	srv := newTestServer(t)

	source := `
function run(state)
  return state.t % state.n_actions
end
`
	w, out := uploadAlgorithm(t, srv, "round_robin.lua", source, gin.H{"name": "round_robin"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	algoID := out["id"].(string)
	require.NotEmpty(t, algoID)
	require.Equal(t, "round_robin", out["name"])
	require.Equal(t, "lua", out["language"])
	require.Equal(t, "run", out["entry"])

	// the record is listed
	req := httptest.NewRequest(http.MethodGet, "/api/algorithms", nil)
	lw := httptest.NewRecorder()
	srv.Handler().ServeHTTP(lw, req)
	require.Equal(t, http.StatusOK, lw.Code)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal(lw.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	require.Equal(t, algoID, listed[0]["id"])

	// and runnable through the batch endpoint
	sessionID := startSession(t, srv, "bernoulli", 3, 6, 9)
	pw, pout := doJSON(t, srv, http.MethodPost, "/api/plot", gin.H{
		"session_id":        sessionID,
		"custom_algorithms": []string{algoID},
	})
	require.Equal(t, http.StatusOK, pw.Code, pw.Body.String())
	traces := pout["traces"].(map[string]any)
	trace := traces["custom:round_robin"].(map[string]any)
	require.Equal(t,
		[]any{float64(0), float64(1), float64(2), float64(0), float64(1), float64(2)},
		trace["actions"].([]any))
}

func TestUploadHashMismatch(t *testing.T) {
	srv := newTestServer(t)
	w, out := uploadAlgorithm(t, srv, "algo.lua", "function run(s) return 0 end",
		gin.H{"sha256": "deadbeef"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, out["error"], "sha256 mismatch")
}

func TestPlotWarnsOnMissingCustomID(t *testing.T) {
	srv := newTestServer(t)
	id := startSession(t, srv, "bernoulli", 2, 5, 3)
	w, out := doJSON(t, srv, http.MethodPost, "/api/plot", gin.H{
		"session_id":        id,
		"algorithms":        []string{"greedy"},
		"custom_algorithms": []string{"does-not-exist"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	warnings := out["warnings"].([]any)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], "not found")
}

func TestWatchStreamsStepEvents(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	id := startSession(t, srv, "bernoulli", 2, 1000, 5)

	t.Run("unknown session is refused", func(t *testing.T) {
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/play/watch?session_id=nope"
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("events arrive over the socket", func(t *testing.T) {
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + fmt.Sprintf("/api/play/watch?session_id=%s", id)
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()
		resp.Body.Close()

		// step in the background until a frame arrives; the subscription
		// may land slightly after the dial returns
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			for {
				select {
				case <-stop:
					return
				default:
				}
				doJSON(t, srv, http.MethodPost, "/api/play/step", gin.H{
					"session_id": id,
					"action":     0,
				})
				time.Sleep(20 * time.Millisecond)
			}
		}()

		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var ev messaging.StepEvent
		require.NoError(t, conn.ReadJSON(&ev))
		require.Equal(t, id, ev.SessionID)
		require.Equal(t, 0, ev.Action)
	})
}
