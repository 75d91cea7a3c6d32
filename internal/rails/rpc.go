package rails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/roach88/railverify/internal/verify"
)

// DefaultRequestTimeout bounds one upstream call when no timeout is configured.
const DefaultRequestTimeout = 10 * time.Second

const (
	maxResponseBytes = 4 << 20
	maxErrorBody     = 512
)

type rpcDialect int

const (
	// dialectJSONRPC2 is plain JSON-RPC 2.0 (EVM nodes).
	dialectJSONRPC2 rpcDialect = iota
	// dialectBitcoin is Bitcoin Core's JSON-RPC 1.0 with basic auth. Errors
	// arrive with HTTP 500 and a JSON error object.
	dialectBitcoin
	// dialectRippled is rippled's JSON-RPC. Errors are reported inside the
	// result object with status "error".
	dialectRippled
)

// rpcClient is a minimal JSON-RPC client shared by the node-backed rails.
type rpcClient struct {
	rail     verify.Rail
	url      string
	dialect  rpcDialect
	user     string
	password string
	timeout  time.Duration
	http     *http.Client

	nextID atomic.Uint64
}

type rpcErrorObject struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcErrorObject `json:"error"`
}

type rippledStatus struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorCode    any    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// call performs one request and decodes the result into out. A JSON null
// result leaves out untouched, which callers use to detect "not found yet".
func (c *rpcClient) call(ctx context.Context, method string, params any, out any) error {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(c.request(method, params))
	if err != nil {
		return fmt.Errorf("%s %s: encode request: %w", c.rail, method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s %s: build request: %w", c.rail, method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.user != "" || c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &verify.TransportError{Rail: c.rail, Op: method, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &verify.TransportError{Rail: c.rail, Op: method, Err: fmt.Errorf("read body: %w", err)}
	}

	var env rpcEnvelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && env.Error != nil {
			return c.upstreamError(method, env.Error)
		}
		return &verify.StatusError{Rail: c.rail, Op: method, StatusCode: resp.StatusCode, Body: truncate(body)}
	}
	if decodeErr != nil {
		return &verify.DecodeError{Rail: c.rail, Op: method, Body: truncate(body), Err: decodeErr}
	}
	if env.Error != nil {
		return c.upstreamError(method, env.Error)
	}
	if len(env.Result) == 0 {
		return &verify.DecodeError{Rail: c.rail, Op: method, Body: truncate(body), Err: fmt.Errorf("response has no result")}
	}

	if c.dialect == dialectRippled {
		var st rippledStatus
		if err := json.Unmarshal(env.Result, &st); err != nil {
			return &verify.DecodeError{Rail: c.rail, Op: method, Body: truncate(body), Err: err}
		}
		if st.Status == "error" || st.Error != "" {
			return &verify.UpstreamError{Rail: c.rail, Op: method, Code: st.Error, Message: st.ErrorMessage}
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &verify.DecodeError{Rail: c.rail, Op: method, Body: truncate(body), Err: err}
	}
	return nil
}

func (c *rpcClient) request(method string, params any) any {
	if params == nil {
		params = []any{}
	}
	switch c.dialect {
	case dialectBitcoin:
		return map[string]any{"jsonrpc": "1.0", "id": "railverify", "method": method, "params": params}
	case dialectRippled:
		return map[string]any{"method": method, "params": params}
	default:
		return map[string]any{"jsonrpc": "2.0", "id": c.nextID.Add(1), "method": method, "params": params}
	}
}

func (c *rpcClient) upstreamError(method string, e *rpcErrorObject) error {
	code := string(e.Code)
	if s, err := strconv.Unquote(code); err == nil {
		code = s
	}
	return &verify.UpstreamError{Rail: c.rail, Op: method, Code: code, Message: e.Message, Data: e.Data}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultRequestTimeout
	}
	return context.WithTimeout(ctx, d)
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}

func httpClientOrDefault(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}
