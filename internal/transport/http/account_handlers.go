package http

import (
	"net/http"

	"medquiz-service/internal/app"
	"medquiz-service/internal/domain"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *api) signUp(w http.ResponseWriter, r *http.Request) {
	var in app.SignUpInput
	if err := decodeJSON(w, r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	profile, err := a.svc.Accounts.SignUp(r.Context(), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (a *api) signIn(w http.ResponseWriter, r *http.Request) {
	var in signInRequest
	if err := decodeJSON(w, r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	token, err := a.svc.Accounts.SignIn(r.Context(), in.Email, in.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (a *api) signOut(w http.ResponseWriter, r *http.Request) {
	v, _ := authFrom(r.Context())
	if err := a.svc.Accounts.SignOut(r.Context(), v.token); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) profile(w http.ResponseWriter, r *http.Request) {
	profile, err := a.svc.Accounts.Profile(r.Context(), userID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *api) updateProfile(w http.ResponseWriter, r *http.Request) {
	var in app.ProfileInput
	if err := decodeJSON(w, r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	profile, err := a.svc.Accounts.UpdateProfile(r.Context(), userID(r), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *api) uploadAvatar(w http.ResponseWriter, r *http.Request) {
	file, name, err := formFile(w, r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	defer file.Close()
	profile, err := a.svc.Accounts.UploadAvatar(r.Context(), userID(r), name, file)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *api) saveConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.QuizConfig
	if err := decodeJSON(w, r, &cfg); err != nil {
		a.writeError(w, r, err)
		return
	}
	saved, err := a.svc.Configs.Save(r.Context(), userID(r), cfg)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (a *api) listConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := a.svc.Configs.List(r.Context(), userID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, configs)
}
