package core

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Classifier decides whether a candidate text blob pertains to cloud
// cost/billing topics, gating whether a chat turn is persisted as usable
// context.
type Classifier interface {
	IsRelevant(text string) bool
}

// cloudKeywords is the fast-accept vocabulary: providers, billing/usage
// terms, and common upload file extensions. Deliberately permissive.
var cloudKeywords = []string{
	"aws", "azure", "gcp", "cloud", "billing", "invoice", "cost", "usage",
	"metrics", "ec2", "s3", "lambda", "rds", "vm", "storage", "compute",
	"network", "bandwidth", "spend", "plan", "pricing", "reserved", "spot",
	"ondemand", "csv", "json", "xlsx", "xls", "txt", "log", "pdf",
}

const relevanceSystemPrompt = `You are a cloud cost optimization expert. Analyze if the provided text is related to CLOUD COST OPTIMIZATION, CLOUD BILLING, or CLOUD INFRASTRUCTURE.

Consider these as RELEVANT:
- Cloud provider bills (AWS, Azure, GCP, etc.)
- Usage metrics and cost reports
- Infrastructure as code files
- Cloud resource configurations
- Cost optimization discussions
- Billing and spending analysis
- Any file uploads with cloud context

Consider these as IRRELEVANT:
- Personal documents
- Code files without cloud context
- General IT infrastructure not cloud-specific
- Off-topic conversations

Be PERMISSIVE - if there's any chance it's cloud-related, say YES.
Respond with only "YES" or "NO".`

const relevanceInputMaxChars = 2000

// completionClient is the slice of the OpenAI-compatible client the
// classifier needs.
type completionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type RelevanceClassifier struct {
	client completionClient
	model  string
	logger *zap.Logger
}

func NewRelevanceClassifier(apiKey, baseURL, model string, logger *zap.Logger) *RelevanceClassifier {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &RelevanceClassifier{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

// IsRelevant fast-rejects empty text and fast-accepts any keyword hit; only
// ambiguous text reaches the model. A failed model call counts as relevant
// (fail-open) so an outage never silently drops legitimate cost-analysis
// requests.
func (c *RelevanceClassifier) IsRelevant(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	lowerText := strings.ToLower(text)
	for _, keyword := range cloudKeywords {
		if strings.Contains(lowerText, keyword) {
			c.logger.Debug("Relevance: keyword match", zap.String("keyword", keyword))
			return true
		}
	}

	c.logger.Debug("Relevance: no keyword match, asking model")

	input := text
	if len(input) > relevanceInputMaxChars {
		input = input[:relevanceInputMaxChars]
	}

	resp, err := c.client.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: relevanceSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: "Is this text about cloud cost optimization, cloud billing, or cloud infrastructure?\n\n" + input,
			},
		},
		MaxTokens:   10,
		Temperature: 0.1,
	})
	if err != nil {
		c.logger.Warn("Relevance check failed, defaulting to relevant", zap.Error(err))
		return true
	}
	if len(resp.Choices) == 0 {
		c.logger.Warn("Relevance check returned no choices, defaulting to relevant")
		return true
	}

	answer := strings.ToUpper(strings.TrimSpace(resp.Choices[0].Message.Content))
	c.logger.Debug("Relevance model answer", zap.String("answer", answer))
	return strings.HasPrefix(answer, "Y")
}
