package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"medquiz-service/internal/domain"
)

// generatedQuestion is the raw reply shape requested in the prompt.
type generatedQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
	Subject       string   `json:"subject"`
}

// Generate asks the model for one question within scope.
func (c *Client) Generate(ctx context.Context, scope string, difficulty domain.Difficulty) (domain.Question, error) {
	questionType := questionTypes[c.rnd.Intn(len(questionTypes))]
	seed := c.rnd.Intn(seedSpace)

	content, err := c.complete(ctx, opGenerate, []chatMessage{
		{Role: "system", Content: questionSystemPrompt(difficulty)},
		{Role: "user", Content: questionUserPrompt(scope, questionType, seed)},
	})
	if err != nil {
		return domain.Question{}, err
	}

	q, err := ParseQuestion(content, scope)
	if err != nil {
		return domain.Question{}, domain.NewFailure(domain.FailureMalformedResponse, 0, err)
	}
	return q, nil
}

// ResolveDoubt answers a free-text question about q. The reply is returned as-is.
func (c *Client) ResolveDoubt(ctx context.Context, q domain.Question, doubt string) (string, error) {
	doubt = strings.TrimSpace(doubt)
	if doubt == "" {
		return "", fmt.Errorf("%w: doubt is empty", domain.ErrInvalidInput)
	}
	return c.complete(ctx, opDoubt, []chatMessage{
		{Role: "system", Content: doubtSystemPrompt},
		{Role: "user", Content: doubtUserPrompt(q, doubt)},
	})
}

var fencePattern = regexp.MustCompile("(?s)^```[A-Za-z]*\\s*(.*?)\\s*```$")

// stripFences removes a surrounding ``` or ```json block.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if m := fencePattern.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return content
}

// ParseQuestion decodes a model reply into a validated question.
func ParseQuestion(content, scope string) (domain.Question, error) {
	body := stripFences(content)
	if !strings.HasPrefix(body, "{") {
		start, end := strings.Index(body, "{"), strings.LastIndex(body, "}")
		if start < 0 || end <= start {
			return domain.Question{}, errors.New("reply does not contain a JSON object")
		}
		body = body[start : end+1]
	}

	var raw generatedQuestion
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return domain.Question{}, fmt.Errorf("decode question: %w", err)
	}

	switch {
	case strings.TrimSpace(raw.Question) == "":
		return domain.Question{}, errors.New("question is missing")
	case len(raw.Options) != domain.OptionCount:
		return domain.Question{}, fmt.Errorf("expected %d options, got %d", domain.OptionCount, len(raw.Options))
	case strings.TrimSpace(raw.CorrectAnswer) == "":
		return domain.Question{}, errors.New("correctAnswer is missing")
	case strings.TrimSpace(raw.Explanation) == "":
		return domain.Question{}, errors.New("explanation is missing")
	}

	options := make([]domain.Option, 0, domain.OptionCount)
	for i, text := range raw.Options {
		opt, err := domain.OptionFromText(text, i)
		if err != nil {
			return domain.Question{}, err
		}
		options = append(options, opt)
	}

	correct, ok := resolveCorrect(raw.CorrectAnswer, options)
	if !ok {
		return domain.Question{}, fmt.Errorf("correctAnswer %q does not name an option", raw.CorrectAnswer)
	}

	subject := strings.TrimSpace(raw.Subject)
	if subject == "" {
		subject = scope
	}

	q := domain.Question{
		ID:          uuid.NewString(),
		Prompt:      strings.TrimSpace(raw.Question),
		Options:     options,
		Correct:     correct,
		Explanation: strings.TrimSpace(raw.Explanation),
		Subject:     subject,
	}
	if err := q.Validate(); err != nil {
		return domain.Question{}, err
	}
	return q, nil
}

// resolveCorrect accepts "B", "B)", "B. text", "B: text" or the option text itself.
func resolveCorrect(raw string, options []domain.Option) (domain.Letter, bool) {
	raw = strings.TrimSpace(raw)
	if letter, ok := domain.ParseLetter(raw); ok {
		return letter, true
	}
	if len(raw) >= 2 && (raw[1] == ')' || raw[1] == '.' || raw[1] == ':') {
		if letter, ok := domain.ParseLetter(raw[:1]); ok {
			return letter, true
		}
	}
	for _, opt := range options {
		if strings.EqualFold(opt.Text, raw) {
			return opt.Letter, true
		}
	}
	return "", false
}
