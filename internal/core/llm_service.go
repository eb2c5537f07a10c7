package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"finops-copilot/internal/config"
)

const (
	defaultAnalysisModelName = "gemini-2.0-flash"
	defaultSummaryModelName  = "gemini-2.0-flash"
	defaultTitleModelName    = "gemini-2.0-flash"

	analysisSystemInstruction = "You are a concise, actionable FinOps assistant."

	summarySystemInstruction = "You summarize FinOps chats into crisp bullet points."

	titleSystemInstruction = "You are a helpful assistant that generates concise titles for chat conversations. " +
		"The title should be 3-5 words maximum. Just return the title itself, nothing else."
)

// LLM is the text-generation surface the chat service depends on.
type LLM interface {
	AnalyzeCosts(plan, metrics, comment, contextText string) (string, error)
	SummarizeThread(fullText string) (string, error)
	GenerateTitle(basis string) (string, error)
}

type LLMService struct {
	client *genai.Client
	logger *zap.Logger
}

func NewLLMService(logger *zap.Logger) *LLMService {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.AppConfig.GeminiAPIKey))
	if err != nil {
		logger.Fatal("Failed to create GenAI client", zap.Error(err))
	}

	return &LLMService{
		client: client,
		logger: logger,
	}
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Error("Error closing GenAI client", zap.Error(err))
		}
	}
}

// AnalyzeCosts runs the cost-optimization prompt over the billing/plan text,
// usage metrics, the user's comment and any prior relevant context.
func (s *LLMService) AnalyzeCosts(plan, metrics, comment, contextText string) (string, error) {
	ctx := context.Background()
	model := s.client.GenerativeModel(defaultAnalysisModelName)

	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(analysisSystemInstruction)},
	}
	temp := float32(0.3)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: &temp,
	}

	prompt := fmt.Sprintf(`
You are a cloud FinOps expert. Given PLAN/BILLING + USAGE METRICS + optional COMMENT + RELEVANT CONTEXT,
analyze cost drivers and propose optimizations. Return:

(A) Plain-English summary detailed

(B) JSON array in triple backticks with items:
   {
     "Area": string,
     "Resource": string,
     "Issue": string,
     "Optimization": string
   }

--- RELEVANT CONTEXT FROM PREVIOUS CONVERSATIONS ---
%s

--- PLAN / BILLING ---
%s

--- USAGE METRICS ---
%s

--- COMMENT ---
%s
`, orPlaceholder(contextText, "(no relevant context)"),
		orPlaceholder(plan, "(none provided)"),
		orPlaceholder(metrics, "(none provided)"),
		orPlaceholder(comment, "(none provided)"))

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini cost analysis request failed: %w", err)
	}

	out := responseText(resp)
	if out == "" {
		return "", fmt.Errorf("empty response from cost analysis model")
	}
	return out, nil
}

// SummarizeThread condenses a whole conversation into key spend drivers and
// actions.
func (s *LLMService) SummarizeThread(fullText string) (string, error) {
	ctx := context.Background()
	model := s.client.GenerativeModel(defaultSummaryModelName)

	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(summarySystemInstruction)},
	}
	temp := float32(0.4)
	maxTokens := int32(600)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	prompt := fmt.Sprintf("Summarize key spend drivers and actions:\n%s", fullText)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini summary request failed: %w", err)
	}

	return responseText(resp), nil
}

func (s *LLMService) GenerateTitle(basis string) (string, error) {
	ctx := context.Background()
	model := s.client.GenerativeModel(defaultTitleModelName)

	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(titleSystemInstruction)},
	}

	temp := float32(0.3)
	maxTokens := int32(20)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	prompt := fmt.Sprintf("Generate a very concise title (3-5 words maximum) for a conversation that starts with or is about: %q.", basis)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini title generation request failed: %w", err)
	}

	title := responseText(resp)
	if title == "" {
		return "", fmt.Errorf("LLM generated an empty title")
	}
	return strings.Trim(title, "\"'\n\r\t ."), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(sb.String())
}

func orPlaceholder(s, placeholder string) string {
	if s == "" {
		return placeholder
	}
	return s
}
