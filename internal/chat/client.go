// Package chat talks to the assistant endpoint. Answers arrive complete in a
// single blocking response; Replay re-delivers one incrementally for
// typewriter-style presentation, which is a display trick, not streaming.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genclient/internal/domain"
	"genclient/internal/infra"
)

const (
	defaultTimeout = 120 * time.Second

	replayChunkSize = 3
	replayInterval  = 50 * time.Millisecond
)

// Options configures the chat client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *infra.Logger
}

// Client sends chat queries to the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// Answer is one completed assistant reply.
type Answer struct {
	Text           string `json:"answer"`
	ConversationID string `json:"conversation_id"`
}

// NewClient constructs a chat client with sane defaults. Assistant replies
// can take a while, so the default timeout is generous.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Send posts a query and blocks until the complete answer arrives. Passing
// the conversation id from a previous Answer keeps the thread; leave it empty
// to start a new one.
func (c *Client) Send(ctx context.Context, query, conversationID string) (Answer, error) {
	if strings.TrimSpace(query) == "" {
		return Answer{}, domain.Validationf("chat: query is required")
	}

	body, err := json.Marshal(map[string]any{
		"query":           query,
		"conversation_id": conversationID,
		"inputs":          map[string]any{},
	})
	if err != nil {
		return Answer{}, fmt.Errorf("chat: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/dify/chat", bytes.NewReader(body))
	if err != nil {
		return Answer{}, fmt.Errorf("chat: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Answer{}, &domain.TransientError{Msg: "chat: request", Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Answer{}, &domain.TransientError{Msg: "chat: read response", Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusNotFound:
		return Answer{}, fmt.Errorf("chat: assistant endpoint not deployed: %w",
			&domain.RequestFailedError{StatusCode: resp.StatusCode})
	case http.StatusTooManyRequests:
		return Answer{}, fmt.Errorf("chat: assistant is busy, try again shortly: %w",
			&domain.RequestFailedError{StatusCode: resp.StatusCode})
	case http.StatusBadGateway:
		return Answer{}, fmt.Errorf("chat: %w", domain.ErrUpstreamUnavailable)
	default:
		return Answer{}, &domain.RequestFailedError{StatusCode: resp.StatusCode, Message: extractDetail(raw)}
	}

	var answer Answer
	if err := json.Unmarshal(raw, &answer); err != nil {
		return Answer{}, fmt.Errorf("chat: decode response: %w", err)
	}
	if answer.Text == "" {
		return Answer{}, fmt.Errorf("chat: response carries no answer")
	}
	return answer, nil
}

// Replay delivers text in small fixed-size chunks on a fixed cadence,
// calling emit for each chunk and done exactly once at the end. Cancelling
// the context stops delivery early without calling done.
func Replay(ctx context.Context, text string, emit func(chunk string), done func()) error {
	runes := []rune(text)
	ticker := time.NewTicker(replayInterval)
	defer ticker.Stop()

	for i := 0; i < len(runes); i += replayChunkSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		end := i + replayChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if emit != nil {
			emit(string(runes[i:end]))
		}
	}
	if done != nil {
		done()
	}
	return nil
}

func extractDetail(raw []byte) string {
	var body struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
