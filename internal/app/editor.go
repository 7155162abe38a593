package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"medquiz-service/internal/domain"
)

// UnknownCreator is shown when a quiz's creator has no profile.
const UnknownCreator = "Unknown"

const (
	accessCodeLength   = 6
	accessCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// QuizInput is the shell of a new custom quiz.
type QuizInput struct {
	Title           string           `json:"title" validate:"required,max=200"`
	Description     string           `json:"description" validate:"max=2000"`
	QuestionCount   int              `json:"questionCount" validate:"gt=0,lte=500"`
	TimePerQuestion domain.TimeLimit `json:"timePerQuestion"`
	Private         bool             `json:"private"`
}

// QuestionInput is one authored question as submitted by the editor.
type QuestionInput struct {
	Position    int       `json:"position"`
	Prompt      string    `json:"prompt" validate:"required"`
	Options     [4]string `json:"options" validate:"dive,required"`
	Correct     string    `json:"correct" validate:"required,oneof=A B C D"`
	Explanation string    `json:"explanation"`
	ImageURL    string    `json:"imageUrl" validate:"omitempty,url"`
}

func (in QuestionInput) normalized() QuestionInput {
	in.Prompt = strings.TrimSpace(in.Prompt)
	for i := range in.Options {
		in.Options[i] = strings.TrimSpace(in.Options[i])
	}
	in.Correct = strings.ToUpper(strings.TrimSpace(in.Correct))
	in.Explanation = strings.TrimSpace(in.Explanation)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	return in
}

// EditorService lets creators build and maintain question banks.
type EditorService struct {
	quizzes  QuizRepository
	banks    BankRepository
	ratings  RatingRepository
	profiles ProfileRepository
	images   ImageStore
	validate *validator.Validate
	now      func() time.Time
	log      *zap.Logger
}

func NewEditorService(quizzes QuizRepository, banks BankRepository, ratings RatingRepository, profiles ProfileRepository, images ImageStore, log *zap.Logger) *EditorService {
	if log == nil {
		log = zap.NewNop()
	}
	return &EditorService{
		quizzes:  quizzes,
		banks:    banks,
		ratings:  ratings,
		profiles: profiles,
		images:   images,
		validate: validator.New(),
		now:      time.Now,
		log:      log,
	}
}

// CreateQuiz persists the quiz shell. The access code is returned only here and to the creator.
func (e *EditorService) CreateQuiz(ctx context.Context, creatorID string, in QuizInput) (domain.CustomQuiz, string, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := e.validate.Struct(in); err != nil {
		return domain.CustomQuiz{}, "", fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	code := ""
	if in.Private {
		var err error
		if code, err = GenerateAccessCode(); err != nil {
			return domain.CustomQuiz{}, "", err
		}
	}

	now := e.now()
	quiz := domain.CustomQuiz{
		ID:              uuid.NewString(),
		Title:           in.Title,
		Description:     in.Description,
		CreatorID:       creatorID,
		QuestionCount:   in.QuestionCount,
		TimePerQuestion: in.TimePerQuestion,
		AccessCode:      code,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.quizzes.CreateQuiz(ctx, quiz); err != nil {
		return domain.CustomQuiz{}, "", err
	}
	e.log.Info("custom quiz created", zap.String("quiz", quiz.ID), zap.Bool("private", quiz.IsPrivate()))
	return quiz, code, nil
}

// GenerateAccessCode returns six characters from [A-Z0-9].
func GenerateAccessCode() (string, error) {
	var b strings.Builder
	alphabetSize := big.NewInt(int64(len(accessCodeAlphabet)))
	for i := 0; i < accessCodeLength; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("generate access code: %w", err)
		}
		b.WriteByte(accessCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// GetQuiz hides the access code from everyone but the creator.
func (e *EditorService) GetQuiz(ctx context.Context, viewerID, quizID string) (domain.CustomQuiz, error) {
	quiz, err := e.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.CustomQuiz{}, err
	}
	if quiz.CreatorID != viewerID {
		return quiz.Public(), nil
	}
	return quiz, nil
}

// ListQuestions returns the authored questions to the creator.
func (e *EditorService) ListQuestions(ctx context.Context, actorID, quizID string) ([]domain.Question, error) {
	if _, err := e.ownedQuiz(ctx, actorID, quizID); err != nil {
		return nil, err
	}
	return e.quizzes.ListQuestions(ctx, quizID)
}

// UpsertQuestion writes one question slot; the last write wins.
func (e *EditorService) UpsertQuestion(ctx context.Context, actorID, quizID string, in QuestionInput) (domain.Question, error) {
	quiz, err := e.ownedQuiz(ctx, actorID, quizID)
	if err != nil {
		return domain.Question{}, err
	}
	q, err := e.buildQuestion(quiz, in)
	if err != nil {
		return domain.Question{}, err
	}
	stored, err := e.quizzes.UpsertQuestion(ctx, q)
	if err != nil {
		return domain.Question{}, err
	}
	e.banks.Invalidate(ctx, quizID)
	return stored, nil
}

// SaveAll accepts the whole bank only when every declared slot is complete.
func (e *EditorService) SaveAll(ctx context.Context, actorID, quizID string, inputs []QuestionInput) ([]domain.Question, error) {
	quiz, err := e.ownedQuiz(ctx, actorID, quizID)
	if err != nil {
		return nil, err
	}

	byPosition := lo.KeyBy(inputs, func(in QuestionInput) int { return in.Position })
	questions := make([]domain.Question, 0, quiz.QuestionCount)
	for pos := 1; pos <= quiz.QuestionCount; pos++ {
		in, ok := byPosition[pos]
		if !ok {
			return nil, &domain.IncompleteQuestionError{Position: pos}
		}
		q, err := e.buildQuestion(quiz, in)
		if err != nil {
			return nil, &domain.IncompleteQuestionError{Position: pos}
		}
		questions = append(questions, q)
	}

	stored, err := e.quizzes.UpsertQuestions(ctx, quizID, questions)
	if err != nil {
		return nil, err
	}
	e.banks.Invalidate(ctx, quizID)
	return stored, nil
}

// UploadImage stores a question image for the creator and returns its URL.
func (e *EditorService) UploadImage(ctx context.Context, actorID, quizID, filename string, body io.Reader) (string, error) {
	if _, err := e.ownedQuiz(ctx, actorID, quizID); err != nil {
		return "", err
	}
	return storeImage(ctx, e.images, "quiz-images", filename, body)
}

// Browse lists every custom quiz, newest first, with its creator and average rating.
func (e *EditorService) Browse(ctx context.Context) ([]domain.QuizSummary, error) {
	quizzes, err := e.quizzes.ListQuizzes(ctx)
	if err != nil {
		return nil, err
	}

	creatorIDs := lo.Uniq(lo.Map(quizzes, func(q domain.CustomQuiz, _ int) string { return q.CreatorID }))
	creators, err := e.profiles.ProfilesByIDs(ctx, creatorIDs)
	if err != nil {
		return nil, err
	}

	averages := make([]float64, len(quizzes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, q := range quizzes {
		g.Go(func() error {
			avg, err := e.ratings.AverageRating(gctx, q.ID)
			if err != nil {
				return err
			}
			averages[i] = avg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return lo.Map(quizzes, func(q domain.CustomQuiz, i int) domain.QuizSummary {
		creator := creators[q.CreatorID].Name
		if creator == "" {
			creator = UnknownCreator
		}
		return domain.QuizSummary{
			Quiz:          q.Public(),
			CreatorName:   creator,
			Private:       q.IsPrivate(),
			AverageRating: averages[i],
		}
	}), nil
}

func (e *EditorService) ownedQuiz(ctx context.Context, actorID, quizID string) (domain.CustomQuiz, error) {
	quiz, err := e.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.CustomQuiz{}, err
	}
	if actorID == "" || quiz.CreatorID != actorID {
		return domain.CustomQuiz{}, domain.ErrForbidden
	}
	return quiz, nil
}

func (e *EditorService) buildQuestion(quiz domain.CustomQuiz, in QuestionInput) (domain.Question, error) {
	in = in.normalized()
	if in.Position < 1 || in.Position > quiz.QuestionCount {
		return domain.Question{}, fmt.Errorf("%w: position %d outside 1..%d", domain.ErrInvalidQuestion, in.Position, quiz.QuestionCount)
	}
	if err := e.validate.Struct(in); err != nil {
		return domain.Question{}, fmt.Errorf("%w: %v", domain.ErrInvalidQuestion, err)
	}
	q := domain.Question{
		ID:          uuid.NewString(),
		QuizID:      quiz.ID,
		Position:    in.Position,
		Prompt:      in.Prompt,
		Options:     domain.NewOptions(in.Options),
		Correct:     domain.Letter(in.Correct),
		Explanation: in.Explanation,
		Subject:     quiz.Title,
		ImageURL:    in.ImageURL,
	}
	return q, q.Validate()
}
