package rails

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// rpcHandler answers one JSON-RPC method. Returning a non-nil rpcErr sends a
// JSON-RPC error object instead of the result.
type rpcHandler func(params json.RawMessage) (result any, rpcErr map[string]any)

type rpcCall struct {
	Method string
	Params json.RawMessage
	User   string
	Pass   string
}

type fakeRPC struct {
	*httptest.Server

	mu    sync.Mutex
	calls []rpcCall
}

func (f *fakeRPC) Calls() []rpcCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rpcCall(nil), f.calls...)
}

func (f *fakeRPC) methods() []string {
	var out []string
	for _, c := range f.Calls() {
		out = append(out, c.Method)
	}
	return out
}

// newRPCServer starts a JSON-RPC 2.0 style fake. rippled shaped responses are
// produced by handlers returning the full result object themselves.
func newRPCServer(t *testing.T, handlers map[string]rpcHandler) *fakeRPC {
	t.Helper()

	f := &fakeRPC{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		user, pass, _ := r.BasicAuth()
		f.mu.Lock()
		f.calls = append(f.calls, rpcCall{Method: req.Method, Params: req.Params, User: user, Pass: pass})
		f.mu.Unlock()

		h, ok := handlers[req.Method]
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]any{"code": -32601, "message": "method not found"},
			})
			return
		}

		result, rpcErr := h(req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(f.Close)
	return f
}

// newRawServer answers every request with the given status and body.
func newRawServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newSlowServer blocks until the client gives up.
func newSlowServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func returns(v any) rpcHandler {
	return func(json.RawMessage) (any, map[string]any) { return v, nil }
}

func int64p(v int64) *int64 { return &v }
