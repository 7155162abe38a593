package llm

import (
	"fmt"
	"strings"

	"medquiz-service/internal/domain"
)

// questionTypes diversifies consecutive generations within one scope.
var questionTypes = [...]string{
	"anatomy and structure identification",
	"physiological functions",
	"clinical correlations",
	"embryological development",
	"nerve pathways and innervation",
	"blood supply and vasculature",
	"anatomical variations",
	"surgical landmarks",
	"diagnostic features",
	"pathological conditions",
	"biochemical processes",
	"pharmacological mechanisms",
	"histological features",
	"radiological findings",
	"genetic disorders",
	"immunological responses",
	"microbiological aspects",
	"laboratory diagnostics",
	"therapeutic approaches",
	"epidemiological factors",
}

const seedSpace = 10000

var difficultyInstructions = map[domain.Difficulty]string{
	domain.DifficultyEasy:   "Focus on basic concepts and fundamental knowledge from standard textbooks.",
	domain.DifficultyMedium: "Generate a moderate difficulty question that combines theoretical knowledge with clinical applications.",
	domain.DifficultyHard:   "Generate a complex clinical scenario-based question that requires integration of multiple concepts.",
}

// difficultyInstruction falls back to the easy wording for unknown input.
func difficultyInstruction(d domain.Difficulty) string {
	if parsed, ok := domain.ParseDifficulty(string(d)); ok {
		return difficultyInstructions[parsed]
	}
	return difficultyInstructions[domain.DifficultyEasy]
}

func questionSystemPrompt(d domain.Difficulty) string {
	return "You are a medical expert creating multiple choice questions for NEET PG, FMGE, and INICET exam preparation. " +
		difficultyInstruction(d) +
		" Each question must have exactly four options labelled A to D with one correct answer." +
		" IMPORTANT: Your response MUST be valid JSON format with no markdown or other formatting."
}

func questionUserPrompt(scope, questionType string, seed int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a unique multiple choice question about %s, focusing on %s.\n", scope, questionType)
	fmt.Fprintf(&b, "Use seed: %d to make this question different from previous ones.\n", seed)
	b.WriteString("Respond with a JSON object using exactly this structure:\n")
	b.WriteString(`{
  "question": "the question text",
  "options": ["A) first option", "B) second option", "C) third option", "D) fourth option"],
  "correctAnswer": "A",
  "explanation": "why the correct answer is right and the others are not",
  "subject": "the subject area"
}`)
	return b.String()
}

const doubtSystemPrompt = "You are a medical education expert who helps students understand concepts clearly. " +
	"Answer the student's doubt about the question below concisely and accurately, referring to the options where useful."

func doubtUserPrompt(q domain.Question, doubt string) string {
	labels := make([]string, 0, len(q.Options))
	for _, opt := range q.Options {
		labels = append(labels, opt.Label())
	}
	correct := string(q.Correct)
	if idx := q.Correct.Index(); idx >= 0 && idx < len(q.Options) {
		correct = q.Options[idx].Label()
	}

	var b strings.Builder
	b.WriteString("Context:\n")
	fmt.Fprintf(&b, "Question: %s\n", q.Prompt)
	fmt.Fprintf(&b, "Options: %s\n", strings.Join(labels, ", "))
	fmt.Fprintf(&b, "Correct Answer: %s\n", correct)
	fmt.Fprintf(&b, "Explanation: %s\n\n", q.Explanation)
	fmt.Fprintf(&b, "Student's Doubt: %s", doubt)
	return b.String()
}
