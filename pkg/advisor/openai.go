package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/config"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

const (
	rewriteSystemPrompt = "You rewrite search queries for full-text database engines. " +
		"Given a natural language question, answer with only the keyword query that best " +
		"captures its intent. No explanations, no punctuation beyond the keywords."

	suggestSystemPrompt = "You suggest related search queries. Answer with a JSON array of " +
		`objects shaped like {"text": "...", "score": 0.0}. Scores are between 0 and 1.`

	categorizeSystemPrompt = "You group search results into categories. Answer with a JSON array " +
		`of objects shaped like {"name": "...", "count": 0, "confidence": 0.0}.`

	optimizeSystemPrompt = "You advise on slow database full-text searches. Answer with a JSON " +
		`array of objects shaped like {"type": "...", "description": "...", "impact": "low|medium|high", "sql_hint": "..."}.`
)

// OpenAIAdvisor implements AdvisorPort against any OpenAI-compatible
// endpoint. Every call runs under its own timeout so a slow model can only
// cost the pipeline a bounded wait.
type OpenAIAdvisor struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewOpenAIAdvisor creates an advisor from configuration. Returns Disabled
// when no endpoint is configured, so callers never branch on nil.
func NewOpenAIAdvisor(cfg config.AdvisorConfig, logger *zap.Logger) AdvisorPort {
	if !cfg.IsConfigured() {
		logger.Info("advisor disabled, no endpoint configured")
		return Disabled{}
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &OpenAIAdvisor{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: timeout,
		logger:  logger.Named("advisor"),
	}
}

func (a *OpenAIAdvisor) IsAvailable() bool {
	return true
}

// complete runs one bounded chat completion and returns its content.
func (a *OpenAIAdvisor) complete(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		a.logger.Warn("advisor request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	a.logger.Debug("advisor request completed",
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)))
	return resp.Choices[0].Message.Content, nil
}

func (a *OpenAIAdvisor) RewriteQuery(ctx context.Context, query string) (string, error) {
	content, err := a.complete(ctx, rewriteSystemPrompt, query)
	if err != nil {
		return "", err
	}
	rewritten := strings.TrimSpace(strings.Trim(strings.TrimSpace(content), `"`))
	if rewritten == "" {
		return "", fmt.Errorf("empty rewrite")
	}
	return rewritten, nil
}

func (a *OpenAIAdvisor) SuggestQueries(ctx context.Context, partial string, limit int) ([]models.QuerySuggestion, error) {
	prompt := fmt.Sprintf("Partial query: %q\nSuggest at most %d related queries.", partial, limit)
	content, err := a.complete(ctx, suggestSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var suggestions []models.QuerySuggestion
	if err := unmarshalArray(content, &suggestions); err != nil {
		return nil, err
	}
	for i := range suggestions {
		suggestions[i].Type = "related"
	}
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions, nil
}

func (a *OpenAIAdvisor) CategorizeResults(ctx context.Context, query string, results []models.SearchResult) ([]models.Category, error) {
	if len(results) == 0 {
		return nil, nil
	}

	summary, err := summarizeResults(results)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("Query: %q\nResults:\n%s", query, summary)

	content, err := a.complete(ctx, categorizeSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var categories []models.Category
	if err := unmarshalArray(content, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

func (a *OpenAIAdvisor) SuggestOptimizations(ctx context.Context, query string, executionTimeMs int64, resultCount int) ([]models.OptimizationHint, error) {
	prompt := fmt.Sprintf("Query: %q\nExecution time: %dms\nResult count: %d", query, executionTimeMs, resultCount)
	content, err := a.complete(ctx, optimizeSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var hints []models.OptimizationHint
	if err := unmarshalArray(content, &hints); err != nil {
		return nil, err
	}
	return hints, nil
}

// summarizeResults flattens results into a compact listing the model can
// categorize without blowing the context window.
func summarizeResults(results []models.SearchResult) (string, error) {
	const maxResults = 25

	var b strings.Builder
	for i, r := range results {
		if i >= maxResults {
			break
		}
		data, err := json.Marshal(r.Data)
		if err != nil {
			return "", fmt.Errorf("marshal result data: %w", err)
		}
		fmt.Fprintf(&b, "- table=%s %s\n", r.Table, truncate(string(data), 200))
	}
	return b.String(), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// unmarshalArray parses a JSON array out of model output that may be wrapped
// in markdown fences or prose.
func unmarshalArray(content string, dest any) error {
	extracted, err := extractJSONArray(content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(extracted), dest); err != nil {
		return fmt.Errorf("decode advisor response: %w", err)
	}
	return nil
}

// extractJSONArray finds the first balanced JSON array in s.
func extractJSONArray(s string) (string, error) {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return "", fmt.Errorf("no JSON array in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '[' || c == '{':
			depth++
		case c == ']' || c == '}':
			depth--
			if depth == 0 {
				candidate := s[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return "", fmt.Errorf("unbalanced JSON in response")
				}
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON array in response")
}
