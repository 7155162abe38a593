package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Difficulty selects the prompting style used for generated questions.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty is case-insensitive.
func ParseDifficulty(raw string) (Difficulty, bool) {
	switch Difficulty(strings.ToLower(strings.TrimSpace(raw))) {
	case DifficultyEasy:
		return DifficultyEasy, true
	case DifficultyMedium:
		return DifficultyMedium, true
	case DifficultyHard:
		return DifficultyHard, true
	}
	return "", false
}

// NoLimitText is the wire spelling of an unbounded count or time limit.
const NoLimitText = "No Limit"

// Count is either a fixed positive number of questions or Unbounded.
// The zero value is Unbounded.
type Count struct {
	n int
}

// Unbounded never completes a session on count.
var Unbounded = Count{}

// FixedCount returns a count of n questions; n must be positive.
func FixedCount(n int) (Count, error) {
	if n <= 0 {
		return Count{}, fmt.Errorf("%w: question count must be positive, got %d", ErrInvalidConfig, n)
	}
	return Count{n: n}, nil
}

// Fixed returns the number of questions and whether the count is fixed.
func (c Count) Fixed() (int, bool) {
	return c.n, c.n > 0
}

func (c Count) String() string {
	if n, ok := c.Fixed(); ok {
		return strconv.Itoa(n)
	}
	return NoLimitText
}

func (c Count) MarshalJSON() ([]byte, error) {
	if n, ok := c.Fixed(); ok {
		return json.Marshal(n)
	}
	return json.Marshal(NoLimitText)
}

func (c *Count) UnmarshalJSON(data []byte) error {
	n, unbounded, err := parseLimit(data)
	if err != nil {
		return fmt.Errorf("question count: %w", err)
	}
	if unbounded {
		*c = Unbounded
		return nil
	}
	parsed, err := FixedCount(n)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// TimeLimit is a per-question countdown in seconds, or NoLimit.
// The zero value is NoLimit.
type TimeLimit struct {
	seconds int
}

// NoLimit disables the per-question timer.
var NoLimit = TimeLimit{}

// Seconds builds a time limit; s must be positive.
func Seconds(s int) (TimeLimit, error) {
	if s <= 0 {
		return TimeLimit{}, fmt.Errorf("%w: time limit must be positive, got %d", ErrInvalidConfig, s)
	}
	return TimeLimit{seconds: s}, nil
}

// Fixed returns the limit in seconds and whether a limit is set.
func (t TimeLimit) Fixed() (int, bool) {
	return t.seconds, t.seconds > 0
}

func (t TimeLimit) String() string {
	if s, ok := t.Fixed(); ok {
		return strconv.Itoa(s)
	}
	return NoLimitText
}

func (t TimeLimit) MarshalJSON() ([]byte, error) {
	if s, ok := t.Fixed(); ok {
		return json.Marshal(s)
	}
	return json.Marshal(NoLimitText)
}

func (t *TimeLimit) UnmarshalJSON(data []byte) error {
	s, unbounded, err := parseLimit(data)
	if err != nil {
		return fmt.Errorf("time limit: %w", err)
	}
	if unbounded {
		*t = NoLimit
		return nil
	}
	parsed, err := Seconds(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTimeLimit reads the stored text form ("60", "No Limit", "").
func ParseTimeLimit(raw string) (TimeLimit, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, NoLimitText) {
		return NoLimit, nil
	}
	s, err := strconv.Atoi(raw)
	if err != nil {
		return NoLimit, fmt.Errorf("%w: time limit %q", ErrInvalidConfig, raw)
	}
	return Seconds(s)
}

// ParseCount reads the stored text form ("10", "No Limit").
func ParseCount(raw string) (Count, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, NoLimitText) {
		return Unbounded, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return Unbounded, fmt.Errorf("%w: question count %q", ErrInvalidConfig, raw)
	}
	return FixedCount(n)
}

// parseLimit accepts a JSON number, a numeric string, "No Limit" or null.
func parseLimit(data []byte) (int, bool, error) {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		return n, false, nil
	}
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return 0, false, err
	}
	if s == nil || *s == "" || strings.EqualFold(strings.TrimSpace(*s), NoLimitText) {
		return 0, true, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(*s))
	if err != nil {
		return 0, false, fmt.Errorf("%w: %q", ErrInvalidConfig, *s)
	}
	return n, false, nil
}

// CompleteSubject as chapter scopes generation to the whole subject.
const CompleteSubject = "Complete Subject"

// QuizConfig holds the parameters chosen before a session starts.
type QuizConfig struct {
	Subject    string     `json:"subject"`
	Chapter    string     `json:"chapter"`
	Topic      string     `json:"topic,omitempty"`
	Difficulty Difficulty `json:"difficulty"`
	Count      Count      `json:"questionCount"`
	TimeLimit  TimeLimit  `json:"timeLimit"`
}

// Validate rejects incomplete setups before any network call.
func (c QuizConfig) Validate() error {
	if strings.TrimSpace(c.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Chapter) == "" {
		return fmt.Errorf("%w: chapter is required", ErrInvalidConfig)
	}
	if _, ok := ParseDifficulty(string(c.Difficulty)); !ok {
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidConfig, c.Difficulty)
	}
	return nil
}

// Scope is the topical boundary handed to the question generator.
func (c QuizConfig) Scope() string {
	subject := strings.TrimSpace(c.Subject)
	chapter := strings.TrimSpace(c.Chapter)
	if chapter == CompleteSubject {
		return subject
	}
	scope := subject + " - " + chapter
	if topic := strings.TrimSpace(c.Topic); topic != "" {
		scope += " - " + topic
	}
	return scope
}
