package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// TokenInfo is cached market metadata for a conditional token.
type TokenInfo struct {
	TokenID     string `json:"token_id"`
	ConditionID string `json:"condition_id"`
	Question    string `json:"question"`
	Outcome     string `json:"outcome"`
	Slug        string `json:"slug"`
}

// TokenInfoCache stores resolved token metadata between lookups.
type TokenInfoCache interface {
	GetTokenInfo(ctx context.Context, tokenID string) (*TokenInfo, error)
	SaveTokenInfo(ctx context.Context, info TokenInfo) error
}

// GammaClient resolves conditional token IDs to market question and outcome
// via the Gamma API. Lookups are best effort with a short timeout; a miss
// returns empty metadata and never blocks signal flow.
type GammaClient struct {
	baseURL string
	client  *http.Client
	cache   TokenInfoCache
}

// NewGammaClient builds a resolver. cache may be nil to disable caching.
func NewGammaClient(baseURL string, timeout time.Duration, cache TokenInfoCache) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		cache:   cache,
	}
}

// ResolveToken returns the market metadata for a token ID, consulting the
// cache first. All failures degrade to an empty TokenInfo.
func (g *GammaClient) ResolveToken(ctx context.Context, tokenID string) TokenInfo {
	if g.cache != nil {
		if info, err := g.cache.GetTokenInfo(ctx, tokenID); err == nil && info != nil {
			return *info
		}
	}

	info := g.fetchToken(ctx, tokenID)
	if info.Question != "" && g.cache != nil {
		go func() {
			if err := g.cache.SaveTokenInfo(context.Background(), info); err != nil {
				log.Printf("[Gamma] failed to cache token info: %v", err)
			}
		}()
	}
	return info
}

func (g *GammaClient) fetchToken(ctx context.Context, tokenID string) TokenInfo {
	info := TokenInfo{TokenID: tokenID}

	// The /markets endpoint is the only one that accepts clob token IDs
	url := fmt.Sprintf("%s/markets?clob_token_ids=%s", g.baseURL, tokenID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		log.Printf("[Gamma] failed to create request: %v", err)
		return info
	}

	resp, err := g.client.Do(req)
	if err != nil {
		log.Printf("[Gamma] request failed: %v", err)
		return info
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		log.Printf("[Gamma] API returned %d", resp.StatusCode)
		return info
	}

	var markets []struct {
		Question     string `json:"question"`
		ConditionID  string `json:"conditionId"`
		Slug         string `json:"slug"`
		Outcomes     string `json:"outcomes"`     // JSON string: ["Yes", "No"]
		ClobTokenIds string `json:"clobTokenIds"` // JSON string: ["token1", "token2"]
	}
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		log.Printf("[Gamma] failed to decode response: %v", err)
		return info
	}
	if len(markets) == 0 {
		return info
	}

	market := markets[0]
	info.Question = market.Question
	info.ConditionID = market.ConditionID
	info.Slug = market.Slug

	var outcomes []string
	var tokenIds []string
	json.Unmarshal([]byte(market.Outcomes), &outcomes)
	json.Unmarshal([]byte(market.ClobTokenIds), &tokenIds)
	for i, tid := range tokenIds {
		if tid == tokenID && i < len(outcomes) {
			info.Outcome = outcomes[i]
			break
		}
	}

	return info
}
