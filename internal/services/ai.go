package services

import (
	"context"
	"fmt"
	"strings"
)

type AIService struct {
	gen TextGenerator
}

func NewAIService(gen TextGenerator) *AIService {
	return &AIService{gen: gen}
}

// GenerateWebsiteContent returns free-form website copy for the request.
func (s *AIService) GenerateWebsiteContent(ctx context.Context, prompt string) (string, error) {
	if err := validatePrompt(prompt); err != nil {
		return "", err
	}
	return s.generate(ctx, buildWebsiteContentPrompt(prompt))
}

// GenerateProjectSource returns model text containing one tagged block per
// project file.
func (s *AIService) GenerateProjectSource(ctx context.Context, prompt string) (string, error) {
	if err := validatePrompt(prompt); err != nil {
		return "", err
	}
	return s.generate(ctx, buildProjectSourcePrompt(prompt))
}

func (s *AIService) generate(ctx context.Context, full string) (string, error) {
	text, err := s.gen.GenerateText(ctx, full)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModel, err)
	}
	return text, nil
}

func validatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return &ValidationError{Field: "prompt", Message: "prompt is required"}
	}
	return nil
}

func buildWebsiteContentPrompt(prompt string) string {
	var b strings.Builder

	b.WriteString("You are an expert AI website generator.\n")
	b.WriteString("Generate complete website content based on the following request:\n\n")
	fmt.Fprintf(&b, "%q\n\n", prompt)
	b.WriteString("Return structured content including:\n")
	b.WriteString("- Hero section (headline, subheadline, CTA)\n")
	b.WriteString("- Features section\n")
	b.WriteString("- About section\n")
	b.WriteString("- Testimonials or social proof\n")
	b.WriteString("- Footer content\n")

	return b.String()
}

func buildProjectSourcePrompt(prompt string) string {
	var b strings.Builder

	// Role
	b.WriteString("You are a full-stack site generator. Build a complete, runnable website project for this request:\n\n")
	fmt.Fprintf(&b, "---\n%s\n---\n\n", prompt)

	// Stack
	b.WriteString("Rules:\n")
	b.WriteString("1. Use React with Vite. Do not use TypeScript path aliases.\n")
	b.WriteString("2. Include package.json with every dependency the files import, plus scripts.dev running vite.\n")
	b.WriteString("3. Include index.html, vite.config.js, src/main.jsx and src/App.jsx at minimum.\n")
	b.WriteString("4. Use relative paths only. Never write outside the project root.\n")
	b.WriteString("5. Every JSON file must be strictly valid JSON with no comments.\n\n")

	// Output format
	b.WriteString("Output every file as a fenced block whose opening line carries the path, exactly like this:\n\n")
	b.WriteString("```file:src/App.jsx\n")
	b.WriteString("export default function App() { return null }\n")
	b.WriteString("```\n\n")
	b.WriteString("Only output file blocks. No explanations before, between or after them.\n")

	return b.String()
}
