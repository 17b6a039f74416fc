// Package workflow talks to the graph-execution engine directly: image
// upload, prompt queueing, history lookup, and artifact URLs. It carries its
// own bearer credential, independent of the main backend's token store.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genclient/internal/domain"
	"genclient/internal/infra"
)

const (
	defaultHistoryInterval = 3 * time.Second
	defaultWaitTimeout     = 10 * time.Minute
)

// Options configures the workflow client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *infra.Logger

	// HistoryInterval overrides the poll cadence of WaitForImages.
	HistoryInterval time.Duration
}

// Client is an HTTP client for the workflow engine.
type Client struct {
	baseURL         string
	apiKey          string
	httpClient      *http.Client
	logger          *infra.Logger
	historyInterval time.Duration
}

// UploadedImage is the engine's record of a stored input image.
type UploadedImage struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Ref is the subfolder-qualified name other workflow nodes address the
// image by.
func (u UploadedImage) Ref() string {
	if u.Subfolder == "" {
		return u.Name
	}
	return u.Subfolder + "/" + u.Name
}

// OutputImage is one artifact listed in a finished prompt's history entry.
type OutputImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NewClient constructs a workflow client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	historyInterval := opts.HistoryInterval
	if historyInterval <= 0 {
		historyInterval = defaultHistoryInterval
	}
	return &Client{
		baseURL:         strings.TrimRight(opts.BaseURL, "/"),
		apiKey:          opts.APIKey,
		httpClient:      httpClient,
		logger:          logger,
		historyInterval: historyInterval,
	}
}

// UploadImage stores a local image on the engine so workflow nodes can
// reference it. With overwrite set, an existing file of the same name is
// replaced instead of deduplicated.
func (c *Client) UploadImage(ctx context.Context, path string, overwrite bool) (UploadedImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return UploadedImage{}, fmt.Errorf("workflow: read image %s: %w", path, err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return UploadedImage{}, fmt.Errorf("workflow: build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return UploadedImage{}, fmt.Errorf("workflow: build form: %w", err)
	}
	if overwrite {
		if err := w.WriteField("overwrite", "true"); err != nil {
			return UploadedImage{}, fmt.Errorf("workflow: build form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return UploadedImage{}, fmt.Errorf("workflow: build form: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, "/upload/image", &buf, w.FormDataContentType())
	if err != nil {
		return UploadedImage{}, err
	}
	var uploaded UploadedImage
	if err := json.Unmarshal(raw, &uploaded); err != nil {
		return UploadedImage{}, fmt.Errorf("workflow: decode upload response: %w", err)
	}
	if uploaded.Name == "" {
		return UploadedImage{}, fmt.Errorf("workflow: upload response names no file")
	}
	return uploaded, nil
}

// QueuePrompt submits a workflow graph for execution and returns the
// prompt id the engine assigned. The client id is random per submission.
func (c *Client) QueuePrompt(ctx context.Context, graph json.RawMessage) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"prompt":    graph,
		"client_id": uuid.NewString(),
	})
	if err != nil {
		return "", fmt.Errorf("workflow: encode prompt: %w", err)
	}
	raw, err := c.do(ctx, http.MethodPost, "/prompt", bytes.NewReader(payload), "application/json")
	if err != nil {
		return "", err
	}
	var decoded struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded.PromptID == "" {
		return "", fmt.Errorf("workflow: queue response names no prompt id")
	}
	c.logger.Debug().Str("prompt_id", decoded.PromptID).Msg("workflow: prompt queued")
	return decoded.PromptID, nil
}

// History fetches the engine's record for one prompt id. The entry is nil
// until the engine has finished (or at least registered) the prompt.
func (c *Client) History(ctx context.Context, promptID string) (map[string]json.RawMessage, error) {
	raw, err := c.do(ctx, http.MethodGet, "/history/"+url.PathEscape(promptID), nil, "")
	if err != nil {
		return nil, err
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("workflow: decode history: %w", err)
	}
	return entries, nil
}

// ViewURL builds the artifact download URL for a history output entry.
func (c *Client) ViewURL(filename, subfolder, typ string) string {
	q := url.Values{}
	q.Set("filename", filename)
	if subfolder != "" {
		q.Set("subfolder", subfolder)
	}
	if typ != "" {
		q.Set("type", typ)
	}
	return c.baseURL + "/view?" + q.Encode()
}

// WaitForImages polls history until the prompt id shows up with outputs,
// then returns every image listed across the output nodes. A 404 or an entry
// that has not appeared yet just means the engine is still working.
func (c *Client) WaitForImages(ctx context.Context, promptID string, timeout time.Duration) ([]OutputImage, error) {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	start := time.Now()
	ticker := time.NewTicker(c.historyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		if time.Since(start) > timeout {
			return nil, fmt.Errorf("workflow: prompt %s: %w", promptID, domain.ErrPollTimeout)
		}

		entries, err := c.History(ctx, promptID)
		if err != nil {
			var failed *domain.RequestFailedError
			if errors.As(err, &failed) && failed.StatusCode == http.StatusNotFound {
				continue
			}
			c.logger.Warn().Err(err).Str("prompt_id", promptID).Msg("workflow: history query failed, will retry")
			continue
		}

		entry, ok := entries[promptID]
		if !ok {
			continue
		}
		images, err := collectOutputs(entry)
		if err != nil {
			return nil, err
		}
		if len(images) == 0 {
			return nil, fmt.Errorf("workflow: prompt %s: %w", promptID, domain.ErrNoOutput)
		}
		return images, nil
	}
}

func collectOutputs(entry json.RawMessage) ([]OutputImage, error) {
	var decoded struct {
		Outputs map[string]struct {
			Images []OutputImage `json:"images"`
		} `json:"outputs"`
	}
	if err := json.Unmarshal(entry, &decoded); err != nil {
		return nil, fmt.Errorf("workflow: decode history entry: %w", err)
	}
	var images []OutputImage
	for _, node := range decoded.Outputs {
		images = append(images, node.Images...)
	}
	return images, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("workflow: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransientError{Msg: "workflow: " + method + " " + path, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransientError{Msg: "workflow: read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.RequestFailedError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}
