package http

import (
	"fmt"
	"net/http"
	"strconv"

	"medquiz-service/internal/app"
	"medquiz-service/internal/domain"
)

type accessRequest struct {
	AccessCode string `json:"accessCode"`
}

type accessResponse struct {
	QuizID  string `json:"quizId"`
	Granted bool   `json:"granted"`
}

type ratingRequest struct {
	Stars int `json:"stars"`
}

type ratingResponse struct {
	QuizID        string  `json:"quizId"`
	AverageRating float64 `json:"averageRating"`
}

type imageResponse struct {
	URL string `json:"url"`
}

func (a *api) createQuiz(w http.ResponseWriter, r *http.Request) {
	var in app.QuizInput
	if err := decodeJSON(w, r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	quiz, _, err := a.svc.Editor.CreateQuiz(r.Context(), userID(r), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

func (a *api) browseQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := a.svc.Editor.Browse(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quizzes)
}

func (a *api) getQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := a.svc.Editor.GetQuiz(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (a *api) listQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := a.svc.Editor.ListQuestions(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

func (a *api) upsertQuestion(w http.ResponseWriter, r *http.Request) {
	position, err := strconv.Atoi(r.PathValue("position"))
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: position must be a number", domain.ErrInvalidInput))
		return
	}
	var in app.QuestionInput
	if err := decodeJSON(w, r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	in.Position = position
	q, err := a.svc.Editor.UpsertQuestion(r.Context(), userID(r), r.PathValue("id"), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (a *api) saveAllQuestions(w http.ResponseWriter, r *http.Request) {
	var in []app.QuestionInput
	if err := decodeJSON(w, r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	questions, err := a.svc.Editor.SaveAll(r.Context(), userID(r), r.PathValue("id"), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

func (a *api) uploadQuizImage(w http.ResponseWriter, r *http.Request) {
	file, name, err := formFile(w, r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	defer file.Close()
	url, err := a.svc.Editor.UploadImage(r.Context(), userID(r), r.PathValue("id"), name, file)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, imageResponse{URL: url})
}

func (a *api) verifyAccess(w http.ResponseWriter, r *http.Request) {
	var in accessRequest
	if err := decodeJSON(w, r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	quiz, err := a.svc.Access.Verify(r.Context(), r.PathValue("id"), in.AccessCode)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{QuizID: quiz.ID, Granted: true})
}

func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := a.svc.Results.Leaderboard(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (a *api) rateQuiz(w http.ResponseWriter, r *http.Request) {
	var in ratingRequest
	if err := decodeJSON(w, r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	quizID := r.PathValue("id")
	avg, err := a.svc.Ratings.Rate(r.Context(), userID(r), quizID, in.Stars)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ratingResponse{QuizID: quizID, AverageRating: avg})
}

func (a *api) averageRating(w http.ResponseWriter, r *http.Request) {
	quizID := r.PathValue("id")
	avg, err := a.svc.Ratings.Average(r.Context(), quizID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ratingResponse{QuizID: quizID, AverageRating: avg})
}

func (a *api) getResult(w http.ResponseWriter, r *http.Request) {
	result, err := a.svc.Results.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
