// Package extract obtains structured profile fields from screenshot
// bytes via an external vision-extraction service. Results are cached
// by content hash in a memory tier and a disk tier; a cache hit never
// makes an external call. Every failure on the external path degrades
// to an all-UNKNOWN profile so the pipeline can report "not
// recognized" instead of crashing.
package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"telegram-rank-bot/internal/model"
	"telegram-rank-bot/internal/pkg/cache"
)

// instruction is the fixed contract sent with every extraction call.
// The service must return exactly these three fields.
const instruction = `You are reading a screenshot of an in-game player profile screen.
Return ONLY a JSON object with exactly these fields:
  "level": the player level as an integer, or "UNKNOWN" if not visible
  "rank": the rank name as shown, or "UNKNOWN" if not visible
  "uniqueId": the player's unique id (digits, may be dash-delimited), or "UNKNOWN" if not visible
Do not add any other fields or commentary.`

// mockProfile is the canned result returned in mock mode, used for
// deterministic testing without the external service.
var mockProfile = model.ExtractedProfile{
	Level:    42,
	RankName: "Rookie",
	UniqueID: "123-456-789-0",
}

// Config holds the extractor settings.
type Config struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
	Mock    bool
}

// Extractor calls the vision-extraction service with caching.
type Extractor struct {
	cfg    Config
	client *http.Client
	cache  cache.Cache
}

// New creates an Extractor backed by the given cache (normally the
// tiered memory+disk composition).
func New(cfg Config, c cache.Cache) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Extractor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cache:  c,
	}
}

// Extract returns the structured profile for the image with the given
// content hash. The second return value reports a cache hit. Extract
// never returns an error: external failures are absorbed into an
// all-UNKNOWN profile.
func (e *Extractor) Extract(ctx context.Context, imageBytes []byte, hash string) (model.ExtractedProfile, bool) {
	if cached, ok := e.cache.Get(hash); ok {
		var profile model.ExtractedProfile
		if err := json.Unmarshal(cached, &profile); err == nil {
			return profile, true
		}
		// A corrupt entry is treated as a miss and overwritten below.
		log.Warn().Str("hash", hash).Msg("Discarding corrupt extraction cache entry")
	}

	var profile model.ExtractedProfile
	if e.cfg.Mock {
		profile = mockProfile
	} else {
		raw, err := e.call(ctx, imageBytes)
		if err != nil {
			log.Warn().Err(err).Str("hash", hash).Msg("Vision extraction failed, degrading to UNKNOWN profile")
			return unknownProfile(), false
		}
		profile = parseProfile(raw)
	}

	if !profile.IsEmpty() {
		e.store(hash, profile)
	}
	return profile, false
}

// store writes the profile back to both cache tiers.
func (e *Extractor) store(hash string, profile model.ExtractedProfile) {
	b, err := json.Marshal(profile)
	if err != nil {
		return
	}
	if err := e.cache.Set(hash, b); err != nil {
		log.Warn().Err(err).Str("hash", hash).Msg("Failed to write extraction cache")
	}
}

// visionRequest is the OpenAI-compatible chat-completions payload.
type visionRequest struct {
	Model       string          `json:"model"`
	Messages    []visionMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type visionMessage struct {
	Role    string       `json:"role"`
	Content []visionPart `json:"content"`
}

type visionPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *visionImage `json:"image_url,omitempty"`
}

type visionImage struct {
	URL string `json:"url"`
}

type visionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// call performs the external extraction request and returns the raw
// model output.
func (e *Extractor) call(ctx context.Context, imageBytes []byte) (string, error) {
	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(imageBytes)

	payload := visionRequest{
		Model: e.cfg.Model,
		Messages: []visionMessage{{
			Role: "user",
			Content: []visionPart{
				{Type: "text", Text: instruction},
				{Type: "image_url", ImageURL: &visionImage{URL: dataURI}},
			},
		}},
		MaxTokens:   200,
		Temperature: 0,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode extraction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("extraction service returned status %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read extraction response: %w", err)
	}

	var parsed visionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode extraction response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("extraction response contained no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}
