// Package synthesis sends chat messages to the local synthesis service and
// returns its decoded JSON reply.
package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/novus-synthesis/internal/utils"
)

// maxErrorSnippet bounds how much of a rejected response body is logged.
const maxErrorSnippet = 256

// ErrRequestFailed is returned for every non-2xx response. Callers cannot
// tell a 400 from a 500; the status and body are only logged.
var ErrRequestFailed = errors.New("Synthesis request failed")

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Request is the JSON body posted to the synthesis endpoint. A nil
// ConversationID is encoded as an explicit null.
type Request struct {
	Message        string  `json:"message"`
	ConversationID *string `json:"conversation_id"`
}

// Client posts Requests to a single synthesis endpoint. It holds no mutable
// state and is safe for concurrent use.
type Client struct {
	endpoint string
	client   httpDoer
	logger   *zap.SugaredLogger
}

// NewClient constructs a Client from cfg. An empty endpoint falls back to
// utils.DefaultSynthesisEndpoint and a zero timeout leaves requests without a
// client-side deadline.
func NewClient(cfg utils.SynthesisConfig, logger *zap.SugaredLogger) *Client {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = utils.DefaultSynthesisEndpoint
	}

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

// Endpoint reports the URL requests are posted to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Send posts message and the optional conversation id and returns the
// decoded response body as-is.
//
// A non-2xx status yields ErrRequestFailed. Errors from the HTTP transport
// (refused connections, DNS failures, timeouts) are returned unchanged.
func (c *Client) Send(ctx context.Context, message string, conversationID *string) (any, error) {
	body, err := json.Marshal(Request{Message: message, ConversationID: conversationID})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create synthesis request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorSnippet))
		c.logger.Warnw("synthesis request rejected",
			"endpoint", c.endpoint,
			"status", response.StatusCode,
			"body", strings.TrimSpace(string(snippet)),
		)
		return nil, ErrRequestFailed
	}

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesis response: %w", err)
	}

	var result any
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode synthesis response: %w", err)
	}

	c.logger.Debugw("synthesis request completed",
		"status", response.StatusCode,
		"has_conversation", conversationID != nil,
	)

	return result, nil
}
