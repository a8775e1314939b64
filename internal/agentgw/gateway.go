// Package agentgw implements the Generation Agent Gateway (C2): it invokes a
// named external reasoning service, streams its response chunk by chunk,
// retries on throttle with exponential backoff, and extracts a structured
// payload from the completion text. See §4.2.
package agentgw

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/RAJ-SUDHARSHAN/sirpi/internal/sirperr"
)

// ChunkObserver is invoked once per response chunk with (agent name, chunk
// text). Implementations must never block the read loop longer than it
// takes to append to a log buffer.
type ChunkObserver func(agentName, chunk string)

// Gateway invokes external agents over HTTP, reading a chunked text/event
// stream response the way beam/activities.go's SendTelegram issues a plain
// POST, generalized here into a persistent streaming read loop.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

func New(baseURL string, maxRetries int, backoffBase time.Duration) *Gateway {
	return &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		maxRetries: maxRetries,
		backoff:    backoffBase,
	}
}

// ErrRateLimited is returned after the retry budget is exhausted on
// consecutive throttle responses (B1).
type ErrRateLimited struct {
	Attempts int
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited after %d attempts; retry later", e.Attempts)
}

// Invoke calls the named agent with a single prompt, retrying on throttle
// signals up to maxRetries times with 2^attempt second waits, and returns
// the concatenated response text.
func (g *Gateway) Invoke(ctx context.Context, agentID, aliasID, sessionID, prompt string, observe ChunkObserver) (string, error) {
	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		text, throttled, err := g.invokeOnce(ctx, agentID, aliasID, sessionID, prompt, observe)
		if err == nil {
			return text, nil
		}
		if !throttled {
			return "", sirperr.Fatal("agentgw", err)
		}
		if attempt == g.maxRetries {
			break
		}
		wait := g.backoff * time.Duration(1<<(attempt-1))
		if observe != nil {
			observe(agentID, fmt.Sprintf("throttled, retrying in %ds", int(wait.Seconds())))
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", &ErrRateLimited{Attempts: g.maxRetries}
}

func (g *Gateway) invokeOnce(ctx context.Context, agentID, aliasID, sessionID, prompt string, observe ChunkObserver) (string, bool, error) {
	body, _ := json.Marshal(map[string]any{
		"agent_id":   agentID,
		"alias_id":   aliasID,
		"session_id": sessionID,
		"input_text": prompt,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/invoke", bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return "", true, fmt.Errorf("agent %s throttled: status %d", agentID, resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("agent %s upstream error: status %d", agentID, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return "", false, fmt.Errorf("agent %s request rejected: status %d", agentID, resp.StatusCode)
	}

	var out strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		chunk := scanner.Text()
		if chunk == "" {
			continue
		}
		out.WriteString(chunk)
		if observe != nil {
			observe(agentID, chunk)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", false, err
	}
	return out.String(), false, nil
}

var (
	thinkEnvelope  = regexp.MustCompile(`(?s)<thinking>.*?</thinking>`)
	answerEnvelope = regexp.MustCompile(`(?s)<answer>(.*?)</answer>`)
	fencedMarker   = regexp.MustCompile("(?s)```(?:json|structured)\\s*\\n(.*?)```")
	anyFenced      = regexp.MustCompile("(?s)```(?:\\w*)\\s*\\n(.*?)```")
)

// StripEnvelopes removes advisory reasoning envelopes before structured
// extraction, per §4.2's closing paragraph.
func StripEnvelopes(response string) string {
	response = thinkEnvelope.ReplaceAllString(response, "")
	if m := answerEnvelope.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(response)
}

// ExtractStructured runs the four-stage extraction strategy of §4.2: a
// structured-marker fenced block, then any fenced block, then the largest
// brace-delimited substring, then the whole response. The first stage that
// yields valid JSON wins.
func ExtractStructured(response string, out any) error {
	response = StripEnvelopes(response)

	candidates := []string{}
	if m := fencedMarker.FindStringSubmatch(response); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if m := anyFenced.FindStringSubmatch(response); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if brace := largestBraceSubstring(response); brace != "" {
		candidates = append(candidates, brace)
	}
	candidates = append(candidates, response)

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c), out); err == nil {
			return nil
		}
	}
	return fmt.Errorf("structured extraction failed: no candidate parsed")
}

func largestBraceSubstring(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
