package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/novus-synthesis/internal/utils"
)

func newTestClient(srv *httptest.Server) *Client {
	return &Client{
		endpoint: srv.URL + "/api/synthesize",
		client:   srv.Client(),
		logger:   zap.NewNop().Sugar(),
	}
}

func strPtr(s string) *string { return &s }

func TestSendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"reply": "hi"}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv).Send(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]any{"reply": "hi"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("result = %#v, want %#v", got, want)
	}
}

func TestSendRequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/synthesize" {
			t.Errorf("path = %s, want /api/synthesize", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("unmarshal body: %v", err)
		}
		if payload["message"] != "  what about metformin?\n" {
			t.Errorf("message = %q, want it verbatim", payload["message"])
		}
		if payload["conversation_id"] != "conv-42" {
			t.Errorf("conversation_id = %v, want conv-42", payload["conversation_id"])
		}

		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Send(context.Background(), "  what about metformin?\n", strPtr("conv-42"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSendMissingConversationIsNull(t *testing.T) {
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		bodies <- raw
		w.Write([]byte(`null`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv).Send(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("result = %#v, want nil for a JSON null body", got)
	}

	raw := <-bodies
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	id, ok := payload["conversation_id"]
	if !ok {
		t.Fatalf("conversation_id key missing from %s", raw)
	}
	if string(id) != "null" {
		t.Fatalf("conversation_id = %s, want null", id)
	}
}

func TestSendEmptyConversationIsKept(t *testing.T) {
	payloads := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		payloads <- payload
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv).Send(context.Background(), "hello", strPtr("")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload := <-payloads
	if id, ok := payload["conversation_id"]; !ok || id != "" {
		t.Fatalf("conversation_id = %#v, want empty string", payload["conversation_id"])
	}
}

func TestSendServerRejection(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusInternalServerError, http.StatusBadGateway} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"detail": "agent orchestration failed"}`))
		}))

		_, err := newTestClient(srv).Send(context.Background(), "hello", nil)
		srv.Close()

		if err == nil {
			t.Fatalf("status %d: expected error", status)
		}
		if !errors.Is(err, ErrRequestFailed) {
			t.Fatalf("status %d: error = %v, want ErrRequestFailed", status, err)
		}
		if err.Error() != "Synthesis request failed" {
			t.Fatalf("status %d: error message = %q", status, err.Error())
		}
	}
}

func TestSendConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(srv)
	srv.Close()

	_, err := c.Send(context.Background(), "hello", nil)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if errors.Is(err, ErrRequestFailed) {
		t.Fatalf("transport failure reported as server rejection: %v", err)
	}

	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		t.Fatalf("error = %T %v, want *url.Error", err, err)
	}
}

func TestSendTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(srv)
	c.client = &http.Client{Timeout: 50 * time.Millisecond}

	_, err := c.Send(context.Background(), "hello", nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if errors.Is(err, ErrRequestFailed) {
		t.Fatalf("timeout reported as server rejection: %v", err)
	}

	var urlErr *url.Error
	if !errors.As(err, &urlErr) || !urlErr.Timeout() {
		t.Fatalf("error = %v, want a transport timeout", err)
	}
}

func TestSendInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Send(context.Background(), "hello", nil)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if errors.Is(err, ErrRequestFailed) {
		t.Fatalf("decode failure reported as server rejection: %v", err)
	}
}

func TestSendConcurrentCallsAreIndependent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Message == "fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"echo": req.Message})
	}))
	defer srv.Close()

	c := newTestClient(srv)

	var (
		wg      sync.WaitGroup
		okRes   any
		okErr   error
		failErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		okRes, okErr = c.Send(context.Background(), "first", strPtr("a"))
	}()
	go func() {
		defer wg.Done()
		_, failErr = c.Send(context.Background(), "fail", strPtr("b"))
	}()
	wg.Wait()

	if okErr != nil {
		t.Fatalf("first call failed: %v", okErr)
	}
	if !reflect.DeepEqual(okRes, map[string]any{"echo": "first"}) {
		t.Fatalf("first result = %#v", okRes)
	}
	if !errors.Is(failErr, ErrRequestFailed) {
		t.Fatalf("second call error = %v, want ErrRequestFailed", failErr)
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(utils.SynthesisConfig{}, nil)
	if c.Endpoint() != utils.DefaultSynthesisEndpoint {
		t.Fatalf("endpoint = %q, want %q", c.Endpoint(), utils.DefaultSynthesisEndpoint)
	}

	hc, ok := c.client.(*http.Client)
	if !ok {
		t.Fatalf("client = %T, want *http.Client", c.client)
	}
	if hc.Timeout != 0 {
		t.Fatalf("timeout = %v, want none", hc.Timeout)
	}

	c = NewClient(utils.SynthesisConfig{Endpoint: "http://synth.local/api/synthesize", Timeout: time.Second}, nil)
	if c.Endpoint() != "http://synth.local/api/synthesize" {
		t.Fatalf("endpoint = %q", c.Endpoint())
	}
	if c.client.(*http.Client).Timeout != time.Second {
		t.Fatalf("timeout not applied")
	}
}
