package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"keywordpipe/internal/catalog"
)

const successBody = `{
  "id": "msg_test",
  "type": "message",
  "role": "assistant",
  "model": "claude-haiku-4-5-20251001",
  "content": [{"type": "text", "text": "{\"keyword\":\"수강신청\",\"category_id\":1}"}],
  "stop_reason": "end_turn",
  "stop_sequence": null,
  "usage": {"input_tokens": 10, "output_tokens": 5}
}`

const malformedBody = `{
  "id": "msg_test",
  "type": "message",
  "role": "assistant",
  "model": "claude-haiku-4-5-20251001",
  "content": [{"type": "text", "text": "not json at all"}],
  "stop_reason": "end_turn",
  "stop_sequence": null,
  "usage": {"input_tokens": 10, "output_tokens": 5}
}`

const rateLimitedBody = `{"type":"error","error":{"type":"rate_limit_error","message":"rate limited"}}`

const serverErrorBody = `{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`

func newTestClient(t *testing.T, baseURL string, maxRetries int, minInterval time.Duration) *Client {
	t.Helper()
	return New(Options{
		APIKey:         "sk-test",
		Model:          "claude-haiku-4-5-20251001",
		Limiter:        NewRateLimiter(1000, minInterval),
		MaxRetries:     maxRetries,
		BaseBackoff:    time.Millisecond,
		RequestTimeout: 5 * time.Second,
		Catalog:        testCatalog(t),
		BaseURL:        baseURL,
	})
}

// TestClassifySucceedsAfterRetryableStatusErrors drives S4 end to end
// against a real HTTP transport: the Oracle's first two calls hit a
// 429, the third succeeds, and Classify must return the successful
// classification without ever falling back.
func TestClassifySucceedsAfterRetryableStatusErrors(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		if n <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(rateLimitedBody))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(successBody))
	}))
	defer srv.Close()

	const minInterval = 30 * time.Millisecond
	c := newTestClient(t, srv.URL, 5, minInterval)

	start := time.Now()
	got := c.Classify(context.Background(), "수강신청 언제 시작하나요?")
	elapsed := time.Since(start)

	if got.Fallback {
		t.Fatalf("expected a successful classification, got fallback: %+v", got)
	}
	if got.Keyword != "수강신청" || got.CategoryID != 1 {
		t.Fatalf("unexpected classification: %+v", got)
	}
	if requests.Load() != 3 {
		t.Fatalf("expected exactly 3 requests (429, 429, 200), got %d", requests.Load())
	}
	// The rate limiter enforces minInterval between every attempt
	// (including retries), so two retries after the first attempt must
	// take at least 2*minInterval of wall time regardless of backoff
	// jitter.
	if elapsed < 2*minInterval {
		t.Fatalf("expected wall time >= %v for two retried attempts, got %v", 2*minInterval, elapsed)
	}
}

// TestClassifyFallsBackAfterExhaustingRetries covers the other half of
// C3's retry loop: a permanently failing (but retryable) transport
// exhausts MaxRetries and Classify must resolve locally instead of
// propagating an error.
func TestClassifyFallsBackAfterExhaustingRetries(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(serverErrorBody))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3, time.Millisecond)

	got := c.Classify(context.Background(), "수강신청 관련 문의입니다")

	if !got.Fallback {
		t.Fatalf("expected Fallback=true after exhausting retries, got %+v", got)
	}
	if got.Keyword != "수강신청" {
		t.Fatalf("expected locally extracted keyword, got %q", got.Keyword)
	}
	if got.CategoryID != 99 {
		t.Fatalf("expected catalog fallback id 99, got %d", got.CategoryID)
	}
	if requests.Load() != 3 {
		t.Fatalf("expected exactly MaxRetries=3 attempts, got %d", requests.Load())
	}
}

// TestClassifyRetriesMalformedResponseBeforeLastAttempt covers the
// non-HTTP-error retryable path: a 200 response whose content is not
// the expected JSON shape must still be retried on attempts before the
// last, not treated as an immediate, non-retryable failure.
func TestClassifyRetriesMalformedResponseBeforeLastAttempt(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		w.WriteHeader(http.StatusOK)
		if n <= 2 {
			w.Write([]byte(malformedBody))
			return
		}
		w.Write([]byte(successBody))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5, time.Millisecond)

	got := c.Classify(context.Background(), "수강신청 언제 시작하나요?")

	if got.Fallback {
		t.Fatalf("expected a successful classification after retrying malformed responses, got fallback: %+v", got)
	}
	if got.Keyword != "수강신청" || got.CategoryID != 1 {
		t.Fatalf("unexpected classification: %+v", got)
	}
	if requests.Load() != 3 {
		t.Fatalf("expected exactly 3 requests (malformed, malformed, ok), got %d", requests.Load())
	}
}

// TestClassifyFallsBackAfterMalformedResponseOnLastAttempt covers the
// other half: a malformed response on the final attempt must resolve to
// fallback rather than retry past MaxRetries.
func TestClassifyFallsBackAfterMalformedResponseOnLastAttempt(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(malformedBody))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2, time.Millisecond)

	got := c.Classify(context.Background(), "수강신청 관련 문의입니다")

	if !got.Fallback {
		t.Fatalf("expected Fallback=true after exhausting retries on malformed responses, got %+v", got)
	}
	if requests.Load() != 2 {
		t.Fatalf("expected exactly MaxRetries=2 attempts, got %d", requests.Load())
	}
}

// TestBuildSystemPromptEmbedsCatalogNames guards against the prompt
// claiming a category list the model was never actually given.
func TestBuildSystemPromptEmbedsCatalogNames(t *testing.T) {
	cat := testCatalog(t)
	prompt := buildSystemPrompt(cat)
	if !strings.Contains(prompt, "Academics") || !strings.Contains(prompt, "Other") {
		t.Fatalf("expected prompt to embed catalog names, got:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Fallback id: 99") {
		t.Fatalf("expected prompt to state the fallback id, got:\n%s", prompt)
	}
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "categories.yaml")
	content := "categories:\n  - id: 1\n    name: Academics\n  - id: 99\n    name: Other\nfallback_id: 99\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test catalog: %v", err)
	}
	cat, err := catalog.Load(path)
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}
	return cat
}

func TestPostProcessSubstitutesEchoedKeyword(t *testing.T) {
	c := &Client{cats: testCatalog(t)}
	text := "수강신청 언제 시작하나요?"
	got := c.postProcess(text, response{Keyword: text, CategoryID: 1})
	if got.Keyword == text {
		t.Fatalf("expected echoed keyword to be replaced, got %q", got.Keyword)
	}
	if got.CategoryID != 1 {
		t.Fatalf("expected valid category preserved, got %d", got.CategoryID)
	}
}

func TestPostProcessSubstitutesOverlongKeyword(t *testing.T) {
	c := &Client{cats: testCatalog(t)}
	long := ""
	for i := 0; i < 150; i++ {
		long += "가"
	}
	got := c.postProcess("짧은 질문", response{Keyword: long, CategoryID: 1})
	if len([]rune(got.Keyword)) > 100 {
		t.Fatalf("expected substituted keyword <= 100 runes, got %d", len([]rune(got.Keyword)))
	}
}

func TestPostProcessRemapsUnknownCategoryToFallback(t *testing.T) {
	cat := testCatalog(t)
	c := &Client{cats: cat}
	got := c.postProcess("수업 질문", response{Keyword: "수업", CategoryID: 12345})
	if got.CategoryID != cat.FallbackID() {
		t.Fatalf("expected fallback id %d, got %d", cat.FallbackID(), got.CategoryID)
	}
}

func TestFallbackMarksClassificationAndUsesCatalogFallback(t *testing.T) {
	cat := testCatalog(t)
	c := &Client{cats: cat}
	got := c.fallback("수강신청 관련 문의입니다")
	if !got.Fallback {
		t.Fatalf("expected Fallback=true")
	}
	if got.CategoryID != cat.FallbackID() {
		t.Fatalf("expected fallback category %d, got %d", cat.FallbackID(), got.CategoryID)
	}
	if got.Keyword != "수강신청" {
		t.Fatalf("expected locally extracted keyword, got %q", got.Keyword)
	}
}

func TestFullJitterBackoffStaysWithinBound(t *testing.T) {
	base := 2 * time.Second
	for attempt := 1; attempt <= 5; attempt++ {
		max := time.Duration(float64(base) * pow2(attempt-1))
		for i := 0; i < 20; i++ {
			d := fullJitterBackoff(base, attempt)
			if d < 0 || d > max {
				t.Fatalf("attempt=%d: delay %v out of bound [0,%v]", attempt, d, max)
			}
		}
	}
}

type fakeStatusError struct {
	status int
}

func (e fakeStatusError) Error() string  { return fmt.Sprintf("status %d", e.status) }
func (e fakeStatusError) StatusCode() int { return e.status }

func TestIsRetryableClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{401, false},
		{404, false},
	}
	for _, tc := range cases {
		got := isRetryable(fakeStatusError{status: tc.status})
		if got != tc.retryable {
			t.Fatalf("status %d: expected retryable=%v, got %v", tc.status, tc.retryable, got)
		}
	}
}

func TestIsRetryableHandlesNilAndGenericErrors(t *testing.T) {
	if isRetryable(nil) {
		t.Fatalf("nil error must not be retryable")
	}
	if !isRetryable(errors.New("read: connection reset by peer")) {
		t.Fatalf("expected connection reset to be retryable")
	}
	if isRetryable(errors.New("invalid request: missing field")) {
		t.Fatalf("expected unstructured non-transport error to be treated as permanent")
	}
}

func TestTruncateForLogBoundsLength(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "a"
	}
	got := truncateForLog(long)
	if len([]rune(got)) != 61 {
		t.Fatalf("expected 60 chars + ellipsis (61 runes), got %d", len([]rune(got)))
	}
}
