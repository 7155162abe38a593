package http

import (
	"fmt"
	"net/http"
	"strings"

	"medquiz-service/internal/app"
	"medquiz-service/internal/domain"
)

// LLMKeyHeader carries the caller's own chat-completion API key.
const LLMKeyHeader = "X-LLM-Key"

type startSessionRequest struct {
	// QuizID selects a custom quiz; empty starts a generated session from Config.
	QuizID     string            `json:"quizId"`
	AccessCode string            `json:"accessCode"`
	Config     domain.QuizConfig `json:"config"`
}

type answerRequest struct {
	Choice string `json:"choice"`
}

type doubtRequest struct {
	Doubt string `json:"doubt"`
}

type doubtResponse struct {
	Answer string `json:"answer"`
}

func llmKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(LLMKeyHeader))
}

func (a *api) owner(r *http.Request) app.Owner {
	return a.svc.Accounts.Owner(r.Context(), userID(r))
}

func (a *api) startSession(w http.ResponseWriter, r *http.Request) {
	var in startSessionRequest
	if err := decodeJSON(w, r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	var (
		view app.View
		err  error
	)
	if in.QuizID != "" {
		view, err = a.svc.Sessions.StartCustom(r.Context(), a.owner(r), in.QuizID, in.AccessCode, llmKey(r))
	} else {
		view, err = a.svc.Sessions.StartGenerated(r.Context(), a.owner(r), in.Config, llmKey(r))
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (a *api) getSession(w http.ResponseWriter, r *http.Request) {
	a.respondView(w, r)(a.svc.Sessions.Get(r.Context(), r.PathValue("id"), userID(r)))
}

func (a *api) answer(w http.ResponseWriter, r *http.Request) {
	var in answerRequest
	if err := decodeJSON(w, r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.respondView(w, r)(a.svc.Sessions.Answer(r.Context(), r.PathValue("id"), userID(r), in.Choice))
}

func (a *api) advance(w http.ResponseWriter, r *http.Request) {
	a.respondView(w, r)(a.svc.Sessions.Advance(r.Context(), r.PathValue("id"), userID(r)))
}

func (a *api) finish(w http.ResponseWriter, r *http.Request) {
	a.respondView(w, r)(a.svc.Sessions.Finish(r.Context(), r.PathValue("id"), userID(r)))
}

func (a *api) retry(w http.ResponseWriter, r *http.Request) {
	a.respondView(w, r)(a.svc.Sessions.Retry(r.Context(), r.PathValue("id"), userID(r), llmKey(r)))
}

func (a *api) restart(w http.ResponseWriter, r *http.Request) {
	a.respondView(w, r)(a.svc.Sessions.Restart(r.Context(), r.PathValue("id"), userID(r)))
}

func (a *api) resolveDoubt(w http.ResponseWriter, r *http.Request) {
	var in doubtRequest
	if err := decodeJSON(w, r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(in.Doubt) == "" {
		a.writeError(w, r, fmt.Errorf("%w: doubt is empty", domain.ErrInvalidInput))
		return
	}
	answer, err := a.svc.Sessions.ResolveDoubt(r.Context(), r.PathValue("id"), userID(r), in.Doubt)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doubtResponse{Answer: answer})
}

func (a *api) discardSession(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Sessions.Discard(r.Context(), r.PathValue("id"), userID(r)); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) events(w http.ResponseWriter, r *http.Request) {
	a.ws.ServeWS(w, r, r.PathValue("id"), userID(r))
}

func (a *api) respondView(w http.ResponseWriter, r *http.Request) func(app.View, error) {
	return func(view app.View, err error) {
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}
