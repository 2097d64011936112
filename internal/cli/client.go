package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/harun/passivebridge/internal/config"
	"github.com/harun/passivebridge/pkg/gateway"
)

const (
	clientTimeout    = 5 * time.Second
	clientMaxRetries = 4
)

// rpcClient calls the daemon's HTTP /rpc endpoint.
type rpcClient struct {
	url        string
	secret     string
	httpClient *http.Client
	maxRetries uint64
}

func newRPCClient(cfg *config.Config) *rpcClient {
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return &rpcClient{
		url:        "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Gateway.Port)) + "/rpc",
		secret:     cfg.Gateway.SharedSecret,
		httpClient: &http.Client{Timeout: clientTimeout},
		maxRetries: clientMaxRetries,
	}
}

func (c *rpcClient) newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)
}

// Call invokes method and returns its result. Transport failures are
// retried with exponential backoff; an RPC error is returned as a
// *gateway.RPCError without retrying.
func (c *rpcClient) Call(ctx context.Context, method string, params ...interface{}) (interface{}, error) {
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params: %w", err)
		}
		raw = append(raw, data)
	}
	body, err := json.Marshal(gateway.RPCRequest{
		ID:      uuid.NewString(),
		Method:  method,
		Params:  raw,
		JSONRPC: "2.0",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	var resp gateway.RPCResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(gateway.SecretHeader, c.secret)

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()

		switch {
		case httpResp.StatusCode == http.StatusUnauthorized:
			return backoff.Permanent(fmt.Errorf("daemon rejected the shared secret"))
		case httpResp.StatusCode >= 500:
			return fmt.Errorf("daemon returned %s", httpResp.Status)
		case httpResp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("daemon returned %s", httpResp.Status))
		}
		if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}
	if err := backoff.Retry(operation, c.newBackoff(ctx)); err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}
