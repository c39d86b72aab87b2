package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// modelCacheTTL is how long /models listings stay fresh.
const modelCacheTTL = 5 * time.Minute

type modelCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	models    []ModelInfo
	fetchedAt time.Time
}

func newModelCache(ttl time.Duration) *modelCache {
	return &modelCache{ttl: ttl}
}

func (c *modelCache) get() ([]ModelInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.models == nil || time.Since(c.fetchedAt) > c.ttl {
		return nil, false
	}
	return c.models, true
}

func (c *modelCache) set(models []ModelInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = models
	c.fetchedAt = time.Now()
}

// maxTokensProbeLadder is tried high to low when the server rejects a probe
// without telling us its limit.
var maxTokensProbeLadder = []int{32768, 16384, 8192, 4096}

// maxTokensLimitRe matches error bodies like
//
//	max_tokens must be less than or equal to 4096
//	`max_tokens` must be less than or equal to `8192`
var maxTokensLimitRe = regexp.MustCompile("`?max_tokens`? must be less than or equal to `?(\\d+)`?")

// ParseMaxTokensLimit extracts the server's max_tokens limit from a 400 error
// body. Returns 0 if the body does not state a limit.
func ParseMaxTokensLimit(body string) int {
	m := maxTokensLimitRe.FindStringSubmatch(body)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// NegotiateMaxTokens determines a max_tokens value the server will accept.
// It probes with the top of the ladder; if the 400 body names a limit, that
// limit is adopted directly. Otherwise it steps down the ladder until a probe
// is accepted. Returns 0 when nothing is accepted, meaning leave unset.
func (p *OpenAIProvider) NegotiateMaxTokens(ctx context.Context) (int, error) {
	for _, candidate := range maxTokensProbeLadder {
		accepted, limit, err := p.probeMaxTokens(ctx, candidate)
		if err != nil {
			return 0, err
		}
		if accepted {
			return candidate, nil
		}
		if limit > 0 {
			return limit, nil
		}
	}
	return 0, nil
}

// probeMaxTokens sends a minimal one-token request with the candidate limit.
// Returns accepted=true if the server took it, or the limit the server named.
func (p *OpenAIProvider) probeMaxTokens(ctx context.Context, candidate int) (accepted bool, limit int, err error) {
	probe := oaiChatRequest{
		Model:     p.model,
		Messages:  []oaiMessage{{Role: "user", Content: "hi"}},
		MaxTokens: &candidate,
	}
	body, merr := json.Marshal(probe)
	if merr != nil {
		return false, 0, merr
	}
	resp, rerr := p.makeRequest(ctx, "POST", "/chat/completions", body)
	if rerr != nil {
		return false, 0, rerr
	}
	defer resp.Body.Close()

	if resp.StatusCode == 200 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return true, 0, nil
	}
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == 400 {
		if n := ParseMaxTokensLimit(string(respBody)); n > 0 {
			return false, n, nil
		}
		return false, 0, nil
	}
	return false, 0, fmt.Errorf("%s API error (status %d): %s", p.name, resp.StatusCode, string(respBody))
}
