// Package chain reads a node's position in its market queue from the Solana
// JSON-RPC API. It is the only on-chain read the monitor performs.
package chain

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cosmos/btcutil/base58"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/aceteam-ai/nosana-monitor/internal/nosana"
)

// DefaultRPCURL is the public Solana mainnet endpoint.
const DefaultRPCURL = "https://api.mainnet-beta.solana.com"

// ErrCapabilityUnavailable is wrapped by every error of a disabled client.
var ErrCapabilityUnavailable = errors.New("queue position capability unavailable")

// QueueConfig holds configuration for the queue client.
type QueueConfig struct {
	// RPCURL is the Solana JSON-RPC endpoint; empty disables the client
	RPCURL string

	// Timeout bounds every call (default: 10s)
	Timeout time.Duration

	// Decoder parses market accounts; nil disables the client
	Decoder QueueDecoder

	// HTTPClient overrides the default transport (optional)
	HTTPClient *http.Client

	// LogFn receives log messages (optional)
	LogFn func(level, msg string)
}

// QueueClient fetches queue positions. A client that could not be set up is
// permanently disabled and never touches the network.
type QueueClient struct {
	rpc      *rpc.Client
	decoder  QueueDecoder
	timeout  time.Duration
	disabled string
	logFn    func(level, msg string)
}

// NewQueueClient creates a queue client. It never fails; setup problems
// disable the client and are reported once through LogFn.
func NewQueueClient(cfg QueueConfig) *QueueClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &QueueClient{
		decoder: cfg.Decoder,
		timeout: cfg.Timeout,
		logFn:   cfg.LogFn,
	}

	switch {
	case cfg.Decoder == nil:
		c.disabled = "no market account decoder"
	case cfg.RPCURL == "":
		c.disabled = "no RPC endpoint configured"
	default:
		httpClient := cfg.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: cfg.Timeout}
		}
		client, err := rpc.DialHTTPWithClient(cfg.RPCURL, httpClient)
		if err != nil {
			c.disabled = fmt.Sprintf("dial %s: %v", cfg.RPCURL, err)
		} else {
			c.rpc = client
		}
	}

	if c.disabled != "" {
		c.log("warning", fmt.Sprintf("Queue position disabled: %s", c.disabled))
	}
	return c
}

func (c *QueueClient) log(level, msg string) {
	if c.logFn != nil {
		c.logFn(level, msg)
	}
}

// Enabled reports whether the client can make calls.
func (c *QueueClient) Enabled() bool {
	return c != nil && c.disabled == "" && c.rpc != nil
}

// DisabledReason explains why the client is disabled, or "" when enabled.
func (c *QueueClient) DisabledReason() string {
	if c == nil {
		return "no queue client"
	}
	return c.disabled
}

// accountInfo is the result of getAccountInfo with base64 encoding.
type accountInfo struct {
	Value *struct {
		Data  []string `json:"data"`
		Owner string   `json:"owner"`
	} `json:"value"`
}

// FetchPosition returns the node's 1-based position in the market queue.
// A nil position with a nil error means the node is not queued.
func (c *QueueClient) FetchPosition(ctx context.Context, market, node string) (*int, error) {
	if !c.Enabled() {
		return nil, &nosana.FetchError{Source: "queue", Kind: nosana.KindUnavailable, Err: ErrCapabilityUnavailable}
	}

	nodeKey, err := decodePubkey(node)
	if err != nil {
		return nil, &nosana.FetchError{Source: "queue", Kind: nosana.KindInvalidPayload, Err: fmt.Errorf("node address: %w", err)}
	}
	if _, err := decodePubkey(market); err != nil {
		return nil, &nosana.FetchError{Source: "queue", Kind: nosana.KindInvalidPayload, Err: fmt.Errorf("market address: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var info accountInfo
	err = c.rpc.CallContext(ctx, &info, "getAccountInfo", market, map[string]string{
		"encoding":   "base64",
		"commitment": "confirmed",
	})
	if err != nil {
		return nil, classifyRPCError(err)
	}
	if info.Value == nil {
		return nil, &nosana.FetchError{Source: "queue", Kind: nosana.KindInvalidPayload, Err: errors.New("market account not found")}
	}
	if len(info.Value.Data) < 1 {
		return nil, &nosana.FetchError{Source: "queue", Kind: nosana.KindInvalidPayload, Err: errors.New("account data missing")}
	}

	data, err := base64.StdEncoding.DecodeString(info.Value.Data[0])
	if err != nil {
		return nil, &nosana.FetchError{Source: "queue", Kind: nosana.KindInvalidPayload, Err: fmt.Errorf("account data: %w", err)}
	}

	pos, ok, err := c.decoder.QueuePosition(data, nodeKey)
	if err != nil {
		return nil, &nosana.FetchError{Source: "queue", Kind: nosana.KindInvalidPayload, Err: err}
	}
	if !ok {
		return nil, nil
	}
	return &pos, nil
}

// Close releases the RPC client.
func (c *QueueClient) Close() {
	if c != nil && c.rpc != nil {
		c.rpc.Close()
	}
}

func classifyRPCError(err error) error {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return &nosana.FetchError{Source: "queue", Kind: nosana.KindRateLimited, Err: err}
	}
	return &nosana.FetchError{Source: "queue", Kind: nosana.KindUnreachable, Err: err}
}

func decodePubkey(s string) ([PubkeySize]byte, error) {
	var key [PubkeySize]byte
	raw := base58.Decode(s)
	if len(raw) != PubkeySize {
		return key, fmt.Errorf("invalid public key %q", s)
	}
	copy(key[:], raw)
	return key, nil
}
