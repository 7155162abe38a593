package app_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"medquiz-service/internal/app"
	"medquiz-service/internal/domain"
	"medquiz-service/internal/infra/memory"
)

type editorFixture struct {
	store  *memory.Store
	banks  *memory.BankRepository
	images *captureImages
	editor *app.EditorService
}

func newEditorFixture() *editorFixture {
	store := memory.NewStore()
	banks := memory.NewBankRepository(store, time.Minute)
	images := &captureImages{}
	return &editorFixture{
		store:  store,
		banks:  banks,
		images: images,
		editor: app.NewEditorService(store, banks, store, store, images, nil),
	}
}

type captureImages struct {
	key         string
	contentType string
	body        []byte
}

func (c *captureImages) Put(_ context.Context, key, contentType string, body io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	c.key, c.contentType, c.body = key, contentType, data
	return "https://cdn.example.com/" + key, nil
}

func questionInput(pos int) app.QuestionInput {
	return app.QuestionInput{
		Position:    pos,
		Prompt:      "Drug of choice for absence seizures?",
		Options:     [4]string{"Ethosuximide", "Phenytoin", "Carbamazepine", "Gabapentin"},
		Correct:     "a",
		Explanation: "Ethosuximide blocks T-type calcium channels.",
	}
}

var accessCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func TestCreatePrivateQuizIssuesCode(t *testing.T) {
	ctx := context.Background()
	f := newEditorFixture()

	quiz, code, err := f.editor.CreateQuiz(ctx, "creator", app.QuizInput{Title: "  Neuro pharm ", QuestionCount: 3, Private: true})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	if !accessCodePattern.MatchString(code) || quiz.AccessCode != code || quiz.Title != "Neuro pharm" {
		t.Fatalf("unexpected quiz %+v code %q", quiz, code)
	}

	seen, err := f.editor.GetQuiz(ctx, "someone-else", quiz.ID)
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if seen.AccessCode != "" {
		t.Fatalf("access code leaked to non-creator")
	}
	own, _ := f.editor.GetQuiz(ctx, "creator", quiz.ID)
	if own.AccessCode != code {
		t.Fatalf("creator should see the code")
	}
}

func TestCreateQuizValidates(t *testing.T) {
	f := newEditorFixture()
	_, _, err := f.editor.CreateQuiz(context.Background(), "creator", app.QuizInput{Title: " ", QuestionCount: 3})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for blank title, got %v", err)
	}
	_, _, err = f.editor.CreateQuiz(context.Background(), "creator", app.QuizInput{Title: "Renal", QuestionCount: 0})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero questions, got %v", err)
	}
}

func TestGenerateAccessCodeFormat(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := app.GenerateAccessCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !accessCodePattern.MatchString(code) {
			t.Fatalf("bad code %q", code)
		}
	}
}

func TestUpsertQuestionOnlyByCreator(t *testing.T) {
	ctx := context.Background()
	f := newEditorFixture()
	quiz, _, _ := f.editor.CreateQuiz(ctx, "creator", app.QuizInput{Title: "Pharm", QuestionCount: 2})

	if _, err := f.editor.UpsertQuestion(ctx, "intruder", quiz.ID, questionInput(1)); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.editor.UpsertQuestion(ctx, "creator", quiz.ID, questionInput(3)); !errors.Is(err, domain.ErrInvalidQuestion) {
		t.Fatalf("expected position out of range rejected, got %v", err)
	}

	q, err := f.editor.UpsertQuestion(ctx, "creator", quiz.ID, questionInput(1))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if q.Correct != domain.LetterA || q.Options[0].Label() != "A) Ethosuximide" {
		t.Fatalf("unexpected stored question %+v", q)
	}

	edit := questionInput(1)
	edit.Prompt = "Second-line drug for absence seizures?"
	edit.Correct = "C"
	second, err := f.editor.UpsertQuestion(ctx, "creator", quiz.ID, edit)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	questions, _ := f.editor.ListQuestions(ctx, "creator", quiz.ID)
	if len(questions) != 1 || questions[0].Correct != domain.LetterC {
		t.Fatalf("expected last write to win, got %+v", questions)
	}
	if second.ID != q.ID || questions[0].ID != q.ID {
		t.Fatalf("slot id changed: first %q, second %q, stored %q", q.ID, second.ID, questions[0].ID)
	}
}

func TestSaveAllNamesFirstIncompleteSlot(t *testing.T) {
	ctx := context.Background()
	f := newEditorFixture()
	quiz, _, _ := f.editor.CreateQuiz(ctx, "creator", app.QuizInput{Title: "Pharm", QuestionCount: 3})

	broken := questionInput(2)
	broken.Options[3] = " "
	_, err := f.editor.SaveAll(ctx, "creator", quiz.ID, []app.QuestionInput{questionInput(1), broken, questionInput(3)})
	if !errors.Is(err, domain.ErrQuizIncomplete) || err.Error() != "Question 2 is incomplete" {
		t.Fatalf("expected question 2 incomplete, got %v", err)
	}
	if qs, _ := f.store.ListQuestions(ctx, quiz.ID); len(qs) != 0 {
		t.Fatalf("nothing may be saved from an incomplete bank, got %d", len(qs))
	}

	_, err = f.editor.SaveAll(ctx, "creator", quiz.ID, []app.QuestionInput{questionInput(1), questionInput(3)})
	if err == nil || err.Error() != "Question 2 is incomplete" {
		t.Fatalf("expected missing slot 2 reported, got %v", err)
	}
}

func TestSaveAllRefreshesCachedBank(t *testing.T) {
	ctx := context.Background()
	f := newEditorFixture()
	quiz, _, _ := f.editor.CreateQuiz(ctx, "creator", app.QuizInput{Title: "Pharm", QuestionCount: 2})

	before, _ := f.banks.GetBank(ctx, quiz.ID)
	if len(before.Questions) != 0 {
		t.Fatalf("expected empty bank before save")
	}
	if _, err := f.editor.SaveAll(ctx, "creator", quiz.ID, []app.QuestionInput{questionInput(2), questionInput(1)}); err != nil {
		t.Fatalf("save all: %v", err)
	}
	after, _ := f.banks.GetBank(ctx, quiz.ID)
	if len(after.Questions) != 2 || after.Questions[0].Position != 1 {
		t.Fatalf("expected cached bank refreshed, got %+v", after.Questions)
	}
}

func TestBrowseIncludesCreatorAndRating(t *testing.T) {
	ctx := context.Background()
	f := newEditorFixture()
	_ = f.store.UpsertProfile(ctx, domain.Profile{UserID: "creator", Name: "Dr. Iyer"})
	rated, _, _ := f.editor.CreateQuiz(ctx, "creator", app.QuizInput{Title: "Pharm", QuestionCount: 1, Private: true})
	_, _, _ = f.editor.CreateQuiz(ctx, "ghost", app.QuizInput{Title: "Micro", QuestionCount: 1})
	_ = f.store.UpsertRating(ctx, domain.Rating{QuizID: rated.ID, UserID: "u1", Stars: 4})
	_ = f.store.UpsertRating(ctx, domain.Rating{QuizID: rated.ID, UserID: "u2", Stars: 5})

	summaries, err := f.editor.Browse(ctx)
	if err != nil {
		t.Fatalf("browse: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 quizzes, got %d", len(summaries))
	}
	for _, s := range summaries {
		if s.Quiz.AccessCode != "" {
			t.Fatalf("browse leaked access code")
		}
		switch s.Quiz.ID {
		case rated.ID:
			if s.CreatorName != "Dr. Iyer" || !s.Private || s.AverageRating != 4.5 {
				t.Fatalf("unexpected rated summary %+v", s)
			}
		default:
			if s.CreatorName != app.UnknownCreator || s.AverageRating != 0 {
				t.Fatalf("unexpected unrated summary %+v", s)
			}
		}
	}
}

func TestUploadImageDownscales(t *testing.T) {
	ctx := context.Background()
	f := newEditorFixture()
	quiz, _, _ := f.editor.CreateQuiz(ctx, "creator", app.QuizInput{Title: "Radiology", QuestionCount: 1})

	var src bytes.Buffer
	wide := imaging.New(2048, 512, color.NRGBA{R: 200, A: 255})
	if err := imaging.Encode(&src, wide, imaging.PNG); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	url, err := f.editor.UploadImage(ctx, "creator", quiz.ID, "chest-xray.png", &src)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(f.images.key, "quiz-images/") || !strings.HasSuffix(f.images.key, ".png") {
		t.Fatalf("unexpected object key %q", f.images.key)
	}
	if url != "https://cdn.example.com/"+f.images.key || f.images.contentType != "image/png" {
		t.Fatalf("unexpected url %q / content type %q", url, f.images.contentType)
	}
	stored, _, err := image.Decode(bytes.NewReader(f.images.body))
	if err != nil {
		t.Fatalf("decode stored image: %v", err)
	}
	if b := stored.Bounds(); b.Dx() != app.MaxImageWidth || b.Dy() != 256 {
		t.Fatalf("expected 1024x256, got %dx%d", b.Dx(), b.Dy())
	}

	if _, err := f.editor.UploadImage(ctx, "intruder", quiz.ID, "x.png", bytes.NewReader(nil)); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.editor.UploadImage(ctx, "creator", quiz.ID, "x.png", strings.NewReader("not an image")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for garbage, got %v", err)
	}
}
