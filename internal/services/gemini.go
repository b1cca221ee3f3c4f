package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// TextGenerator turns a prompt into model text.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

type GeminiClient struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
	rateChan  chan struct{} // Token bucket
}

func NewGeminiClient(apiKey, modelName string, concurrentReqs int) (*GeminiClient, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.4)
	model.SetTopP(0.95)

	if concurrentReqs < 1 {
		concurrentReqs = 1
	}

	// Token bucket for rate limiting
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiClient{
		client:    client,
		model:     model,
		modelName: modelName,
		rateChan:  rateChan,
	}, nil
}

func (g *GeminiClient) Close() {
	g.client.Close()
}

// acquireRate blocks until a rate slot is available
func (g *GeminiClient) acquireRate(ctx context.Context) error {
	select {
	case <-g.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (g *GeminiClient) releaseRate() {
	g.rateChan <- struct{}{}
}

// GenerateText sends a single non-streaming request.
func (g *GeminiClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	if err := g.acquireRate(ctx); err != nil {
		return "", err
	}
	defer g.releaseRate()

	start := time.Now()
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}

	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop {
			log.Warn().
				Int("candidate", i).
				Str("finish_reason", cand.FinishReason.String()).
				Msg("Gemini stopped early")
		}
	}

	text := extractText(resp)
	log.Debug().
		Str("model", g.modelName).
		Int("chars", len(text)).
		Dur("latency", time.Since(start)).
		Msg("Gemini response received")

	return text, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
