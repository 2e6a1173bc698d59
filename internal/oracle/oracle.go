// Package oracle wraps the single-utterance call to the external
// classification LLM: rate limiting, retry with exponential full
// jitter, response post-processing, and a local fallback so every call
// returns a usable Classification without the Worker ever seeing an
// error.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"keywordpipe/internal/catalog"
	"keywordpipe/internal/domain"
	"keywordpipe/internal/httpx"
	"keywordpipe/internal/keywordx"
)

const basePrompt = `You classify a single chat utterance into a keyword and a category id.
Respond with JSON only (no markdown): {"keyword": "...", "category_id": 0}
The keyword must be a short phrase, at most 100 characters, and must not simply repeat the input text verbatim.
The category_id must be one of the ids in the category list below. If none fit, use the fallback id.`

// Client is the Classification Oracle: a single-utterance, rate
// limited, retried call to the anthropic-sdk-go Messages API. It never
// returns an error to its caller — every Classify call resolves to a
// Classification, falling back to local extraction when retries are
// exhausted.
type Client struct {
	sdk            anthropic.Client
	model          string
	limiter        *RateLimiter
	maxRetries     int
	baseBackoff    time.Duration
	requestTimeout time.Duration
	cats           *catalog.Catalog
	systemPrompt   string
}

// Options configures a Client's retry and timing behavior. All of the
// anthropic-sdk-go's own retry logic is disabled (option.WithMaxRetries
// zero) in favor of this hand-rolled loop, so rate-limit waits happen
// exactly once per attempt instead of being duplicated by two retriers.
type Options struct {
	APIKey         string
	Model          string
	Limiter        *RateLimiter
	MaxRetries     int
	BaseBackoff    time.Duration
	RequestTimeout time.Duration
	Catalog        *catalog.Catalog
	// BaseURL overrides the anthropic-sdk-go client's endpoint. Empty
	// means the SDK's own default (the production API). Tests point
	// this at an httptest.Server.
	BaseURL string
}

// New builds a Client from Options. The shared httpx.OracleClient is
// configured with headroom above RequestTimeout so the per-attempt
// context deadline fires before the transport's own timeout does.
func New(opts Options) *Client {
	httpx.Configure(int((opts.RequestTimeout + 30*time.Second) / time.Second))

	sdkOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithHTTPClient(httpx.OracleClient),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &Client{
		sdk:            anthropic.NewClient(sdkOpts...),
		model:          opts.Model,
		limiter:        opts.Limiter,
		maxRetries:     opts.MaxRetries,
		baseBackoff:    opts.BaseBackoff,
		requestTimeout: opts.RequestTimeout,
		cats:           opts.Catalog,
		systemPrompt:   buildSystemPrompt(opts.Catalog),
	}
}

// buildSystemPrompt appends the catalog's actual {id: name} list to
// basePrompt, so the model is classifying against the categories it was
// really given rather than a list the prompt only claims exists.
func buildSystemPrompt(cats *catalog.Catalog) string {
	if cats == nil {
		return basePrompt
	}
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\nCategories:\n")
	for id, name := range cats.Names() {
		fmt.Fprintf(&b, "- %d: %s\n", id, name)
	}
	fmt.Fprintf(&b, "Fallback id: %d\n", cats.FallbackID())
	return b.String()
}

type response struct {
	Keyword    string `json:"keyword"`
	CategoryID int    `json:"category_id"`
}

// Classify maps text to a Classification. It retries transient errors
// (timeout, 5xx, 429, transport) with exponential backoff and full
// jitter, making at most MaxRetries attempts in all, then falls back to a locally
// derived keyword and the catalog's fallback category id.
func (c *Client) Classify(ctx context.Context, text string) domain.Classification {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return c.fallback(text)
		}

		cls, retryable, err := c.attempt(ctx, text, attempt)
		if err == nil {
			return cls
		}
		lastErr = err
		if !retryable {
			break
		}
		if attempt == c.maxRetries {
			break
		}

		delay := fullJitterBackoff(c.baseBackoff, attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return c.fallback(text)
		case <-timer.C:
		}
	}

	if lastErr != nil {
		log.Printf("oracle classify: exhausted retries for text=%q: %v", truncateForLog(text), lastErr)
	}
	return c.fallback(text)
}

// attempt issues one HTTPS call and post-processes the response. The
// returned bool reports whether a failure is retryable; a malformed
// response body is retryable on every attempt but the last, the same as
// a transport-level error.
func (c *Client) attempt(ctx context.Context, text string, attemptNum int) (domain.Classification, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	message, err := c.sdk.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 256,
		System: []anthropic.TextBlockParam{
			{Text: c.systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return domain.Classification{}, isRetryable(err), fmt.Errorf("anthropic call: %w", err)
	}

	var raw string
	for _, block := range message.Content {
		if block.Type == "text" {
			raw = block.Text
			break
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var parsed response
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return domain.Classification{}, attemptNum < c.maxRetries, fmt.Errorf("malformed oracle response: %w", err)
	}

	return c.postProcess(text, parsed), false, nil
}

// postProcess applies the keyword/category substitution rules to a
// successful response.
func (c *Client) postProcess(text string, r response) domain.Classification {
	keyword := strings.TrimSpace(r.Keyword)
	if keyword == "" || keyword == text || len([]rune(keyword)) > 100 {
		keyword = keywordx.Extract(text)
	}

	categoryID := r.CategoryID
	if c.cats != nil {
		categoryID = c.cats.Resolve(categoryID)
	}

	return domain.Classification{Keyword: keyword, CategoryID: categoryID}
}

// fallback is the all-retries-exhausted path: local extraction plus
// the catalog's fallback category.
func (c *Client) fallback(text string) domain.Classification {
	fallbackID := 0
	if c.cats != nil {
		fallbackID = c.cats.FallbackID()
	}
	return domain.Classification{
		Keyword:    keywordx.Extract(text),
		CategoryID: fallbackID,
		Fallback:   true,
	}
}

func fullJitterBackoff(base time.Duration, attempt int) time.Duration {
	max := float64(base) * pow2(attempt-1)
	return time.Duration(rand.Float64() * max)
}

func pow2(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

func truncateForLog(s string) string {
	r := []rune(s)
	if len(r) > 60 {
		return string(r[:60]) + "…"
	}
	return s
}
