// Package jsonrpc is a minimal JSON-RPC 2.0 HTTP client shared by the non-EVM
// chain adapters. It covers exactly what the adapters need: a single call with
// a timeout, typed result decoding and error surfacing.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

const defaultTimeout = 15 * time.Second

// Client talks JSON-RPC 2.0 to a single endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Int64
}

// NewClient creates a client for the given endpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is the error object of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes method with params and decodes the result into result, which
// may be nil when the caller does not care about the payload.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "rpc call %s failed", method)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("rpc call %s: unexpected status %d", method, resp.StatusCode)
	}

	var decoded response
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return errors.Wrapf(err, "rpc call %s: invalid response", method)
	}
	if decoded.Error != nil {
		return errors.Wrapf(decoded.Error, "rpc call %s", method)
	}

	if result != nil {
		if err := json.Unmarshal(decoded.Result, result); err != nil {
			return errors.Wrapf(err, "rpc call %s: failed to decode result", method)
		}
	}

	return nil
}
