package agentgw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestInvokeRateLimitedAfterThreeThrottles is B1: three consecutive
// throttle responses surface a rate-limited error after the 2+4 waits
// between the three attempts (scaled down here via a tiny backoff base so
// the test stays fast).
func TestInvokeRateLimitedAfterThreeThrottles(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	gw := New(srv.URL, 3, time.Millisecond)

	var waits []string
	observe := func(_, chunk string) { waits = append(waits, chunk) }

	_, err := gw.Invoke(context.Background(), "context-analyzer", "alias", "sess-1", "prompt", observe)
	if err == nil {
		t.Fatalf("expected a rate-limited error")
	}
	if _, ok := err.(*ErrRateLimited); !ok {
		t.Fatalf("expected *ErrRateLimited, got %T: %v", err, err)
	}
	if hits != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", hits)
	}
	if len(waits) != 2 {
		t.Fatalf("expected 2 throttle-retry notices (no notice after the final failed attempt), got %d: %v", len(waits), waits)
	}
}

func TestInvokeRecoversAfterThrottle(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("final answer"))
	}))
	defer srv.Close()

	gw := New(srv.URL, 3, time.Millisecond)
	text, err := gw.Invoke(context.Background(), "context-analyzer", "alias", "sess-1", "prompt", nil)
	if err != nil {
		t.Fatalf("expected eventual success, got error: %v", err)
	}
	if text != "final answer" {
		t.Fatalf("unexpected response text: %q", text)
	}
}

func TestInvokeNonThrottleErrorSurfacesImmediately(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	gw := New(srv.URL, 3, time.Millisecond)
	_, err := gw.Invoke(context.Background(), "context-analyzer", "alias", "sess-1", "prompt", nil)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if hits != 1 {
		t.Fatalf("expected a 400 to surface without retrying, got %d attempts", hits)
	}
}

func TestInvokeStreamsChunksInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("alpha\nbeta\ngamma\n"))
	}))
	defer srv.Close()

	gw := New(srv.URL, 3, time.Millisecond)
	var chunks []string
	_, err := gw.Invoke(context.Background(), "dockerfile-generator", "alias", "sess-1", "prompt", func(_, chunk string) {
		chunks = append(chunks, chunk)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"alpha", "beta", "gamma"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d: %v", len(want), len(chunks), chunks)
	}
	for i, w := range want {
		if chunks[i] != w {
			t.Errorf("chunk %d: expected %q, got %q", i, w, chunks[i])
		}
	}
}

func TestStripEnvelopesRemovesThinkingKeepsAnswer(t *testing.T) {
	raw := "<thinking>internal deliberation</thinking><answer>{\"language\":\"python\"}</answer>"
	got := StripEnvelopes(raw)
	if got != `{"language":"python"}` {
		t.Fatalf("unexpected stripped text: %q", got)
	}
}

func TestExtractStructuredPrefersStructuredFence(t *testing.T) {
	raw := "Some preamble\n```structured\n{\"language\":\"go\",\"framework\":\"chi\"}\n```\nTrailing notes {\"ignored\":true}"
	var out struct {
		Language  string `json:"language"`
		Framework string `json:"framework"`
	}
	if err := ExtractStructured(raw, &out); err != nil {
		t.Fatalf("ExtractStructured error: %v", err)
	}
	if out.Language != "go" || out.Framework != "chi" {
		t.Fatalf("unexpected extraction result: %+v", out)
	}
}

func TestExtractStructuredFallsBackToBraceSubstring(t *testing.T) {
	raw := "Here's the context: {\"language\":\"ruby\"} — hope that helps!"
	var out struct {
		Language string `json:"language"`
	}
	if err := ExtractStructured(raw, &out); err != nil {
		t.Fatalf("ExtractStructured error: %v", err)
	}
	if out.Language != "ruby" {
		t.Fatalf("unexpected language: %q", out.Language)
	}
}

func TestExtractStructuredFailsOnUnparsableText(t *testing.T) {
	var out struct {
		Language string `json:"language"`
	}
	if err := ExtractStructured("no structure here at all", &out); err == nil {
		t.Fatalf("expected extraction failure for unstructured text")
	}
}
