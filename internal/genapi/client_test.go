package genapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"genclient/internal/domain"
	"genclient/internal/token"
)

var testAccessToken = strings.Repeat("t", token.MinAccessTokenLength+10)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *token.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := token.NewStore(filepath.Join(t.TempDir(), "tokens.json"), nil)
	if err := store.SetPair(testAccessToken, "refresh"); err != nil {
		t.Fatalf("seed tokens: %v", err)
	}
	client := NewClient(Options{
		BaseURL:       srv.URL,
		Store:         store,
		RetryInterval: time.Millisecond,
		MaxRetries:    3,
		PollInterval:  5 * time.Millisecond,
		NotFoundGrace: 50 * time.Millisecond,
	})
	return client, store
}

func textToImageRequest() domain.GenerationRequest {
	return domain.GenerationRequest{Variant: domain.VariantTextToImage, Prompt: "a cat"}
}

func TestClassifySubmitBody(t *testing.T) {
	cases := []struct {
		name         string
		body         string
		wantComplete bool
		wantPending  bool
		wantFailed   bool
	}{
		{name: "prompt id with empty images is complete", body: `{"prompt_id":"p1","images":[]}`, wantComplete: true},
		{name: "prompt id with images is complete", body: `{"prompt_id":"p1","images":["u"]}`, wantComplete: true},
		{name: "prompt id with videos key is complete", body: `{"prompt_id":"p1","videos":[]}`, wantComplete: true},
		{name: "prompt id alone is pending", body: `{"prompt_id":"p1"}`, wantPending: true},
		{name: "pending status is pending", body: `{"prompt_id":"p1","status":"queued"}`, wantPending: true},
		{name: "terminal status is complete", body: `{"prompt_id":"p1","status":"completed"}`, wantComplete: true},
		{name: "success status is complete", body: `{"prompt_id":"p1","status":"success"}`, wantComplete: true},
		{name: "failed status is an error", body: `{"prompt_id":"p1","status":"failed","message":"oom"}`, wantFailed: true},
		{name: "no prompt id is complete", body: `{"image_url":"https://x/y.png"}`, wantComplete: true},
		{name: "non json is complete", body: `https://x/y.png`, wantComplete: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := classifySubmitBody([]byte(tc.body))
			if tc.wantFailed {
				var failed *domain.JobFailedError
				if !errors.As(err, &failed) {
					t.Fatalf("err = %v, want *JobFailedError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Complete != tc.wantComplete {
				t.Fatalf("complete = %v, want %v", out.Complete, tc.wantComplete)
			}
			if tc.wantPending && (out.Handle == nil || out.Handle.PromptID != "p1") {
				t.Fatalf("handle = %+v, want pending p1", out.Handle)
			}
		})
	}
}

func TestSubmitWithoutValidTokenMakesNoRequest(t *testing.T) {
	var calls atomic.Int64
	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	if err := store.SetAccess("short"); err != nil {
		t.Fatalf("shrink token: %v", err)
	}

	_, err := client.Submit(context.Background(), textToImageRequest(), nil)
	if !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("requests = %d, want 0", calls.Load())
	}
}

func TestSubmitUnauthorizedClearsTokens(t *testing.T) {
	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.Submit(context.Background(), textToImageRequest(), nil)
	if !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
	if store.Access() != "" {
		t.Fatalf("tokens survive a 401")
	}
}

func TestSubmitPaymentRequired(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	_, err := client.Submit(context.Background(), textToImageRequest(), nil)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestSubmitBadGateway(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	_, err := client.Submit(context.Background(), textToImageRequest(), nil)
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("requests = %d, a 502 must not be retried", calls.Load())
	}
}

func TestSubmitServerErrorWithSalvageablePromptID(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`gateway timeout {"prompt_id": "rescued-1"}`))
	}))

	out, err := client.Submit(context.Background(), textToImageRequest(), nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Complete || out.Handle == nil || out.Handle.PromptID != "rescued-1" {
		t.Fatalf("outcome = %+v, want pending rescued-1", out)
	}
	if calls.Load() != 1 {
		t.Fatalf("requests = %d, a salvaged 500 must not be retried", calls.Load())
	}
}

func TestSubmitRetriesExhaustedAtExactBudget(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("no id here"))
	}))

	var progress []int
	_, err := client.Submit(context.Background(), textToImageRequest(), func(elapsed int) {
		progress = append(progress, elapsed)
	})
	if !errors.Is(err, domain.ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("requests = %d, want exactly the attempt budget of 3", calls.Load())
	}
	if len(progress) != 2 {
		t.Fatalf("progress callbacks = %d, want one per retry (2)", len(progress))
	}
}

func TestSubmitOtherRejectionCarriesDetail(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"prompt too long"}`))
	}))
	_, err := client.Submit(context.Background(), textToImageRequest(), nil)
	var failed *domain.RequestFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("err = %v, want *RequestFailedError", err)
	}
	if failed.StatusCode != http.StatusUnprocessableEntity || failed.Message != "prompt too long" {
		t.Fatalf("failure = %+v", failed)
	}
}

func TestSubmitSendsBearerToken(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer "+testAccessToken {
			t.Errorf("authorization = %q", got)
		}
		if r.URL.Path != generateEndpoint {
			t.Errorf("path = %q, want %s", r.URL.Path, generateEndpoint)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"images": []string{"https://x/y.png"}})
	}))

	out, err := client.Submit(context.Background(), textToImageRequest(), nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !out.Complete {
		t.Fatalf("synchronous result should be complete")
	}
}

func TestGeneratePipelineSubmitPollNormalize(t *testing.T) {
	var polls atomic.Int64
	router := chi.NewRouter()
	router.Post(generateEndpoint, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"prompt_id": "job-7"})
	})
	router.Get(statusEndpoint+"{promptID}", func(w http.ResponseWriter, r *http.Request) {
		if got := chi.URLParam(r, "promptID"); got != "job-7" {
			t.Errorf("polled prompt id = %q, want job-7", got)
		}
		if polls.Add(1) < 3 {
			_ = json.NewEncoder(w).Encode(map[string]any{"prompt_id": "job-7", "status": "running"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"prompt_id": "job-7",
			"status":    "completed",
			"images":    []string{"https://cdn/x.png"},
			"cost":      1.5,
		})
	})

	client, _ := newTestClient(t, router)
	var ticks atomic.Int64
	result, err := client.Generate(context.Background(), textToImageRequest(), func(int) {
		ticks.Add(1)
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(result.Images) != 1 || result.Images[0].URL != "https://cdn/x.png" {
		t.Fatalf("images = %+v", result.Images)
	}
	if result.Cost == nil || *result.Cost != 1.5 {
		t.Fatalf("cost = %v, want 1.5", result.Cost)
	}
	if ticks.Load() == 0 {
		t.Fatalf("no progress callbacks during polling")
	}
}

func TestGenerateEmptyResultIsNoOutput(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"prompt_id": "p", "images": []string{}})
	}))
	_, err := client.Generate(context.Background(), textToImageRequest(), nil)
	if !errors.Is(err, domain.ErrNoOutput) {
		t.Fatalf("err = %v, want ErrNoOutput", err)
	}
}

func TestGenerateValidatesBeforeSubmitting(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	_, err := client.Generate(context.Background(), domain.GenerationRequest{Variant: domain.VariantTextToImage}, nil)
	var validation *domain.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("requests = %d, want 0", calls.Load())
	}
}
