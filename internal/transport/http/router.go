package http

import (
	"net/http"

	"go.uber.org/zap"
	"medquiz-service/internal/app"
	"medquiz-service/internal/metrics"
)

// Services are the use cases exposed over HTTP.
type Services struct {
	Sessions *app.SessionService
	Results  *app.ResultService
	Editor   *app.EditorService
	Access   *app.AccessGate
	Accounts *app.AccountService
	Ratings  *app.RatingService
	Configs  *app.ConfigService
}

// RouterOptions carries the optional middleware and static mounts.
type RouterOptions struct {
	Log         *zap.Logger
	Metrics     *metrics.Metrics
	Limiter     *RateLimiter
	AllowOrigin string
	// UploadsDir is served under /uploads/ when images are stored locally.
	UploadsDir string
}

type api struct {
	svc Services
	log *zap.Logger
	ws  *WSHandler
}

// NewRouter wires every route and wraps the mux in the middleware chain.
func NewRouter(svc Services, opts RouterOptions) http.Handler {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	a := &api{svc: svc, log: opts.Log, ws: NewWSHandler(svc.Sessions, opts.Log)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}
	if opts.UploadsDir != "" {
		mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(opts.UploadsDir))))
	}

	mux.HandleFunc("POST /api/auth/signup", a.signUp)
	mux.HandleFunc("POST /api/auth/signin", a.signIn)
	mux.HandleFunc("POST /api/auth/signout", a.requireUser(a.signOut))
	mux.HandleFunc("GET /api/auth/me", a.requireUser(a.profile))
	mux.HandleFunc("GET /api/profile", a.requireUser(a.profile))
	mux.HandleFunc("PUT /api/profile", a.requireUser(a.updateProfile))
	mux.HandleFunc("POST /api/profile/avatar", a.requireUser(a.uploadAvatar))

	mux.HandleFunc("POST /api/configs", a.requireUser(a.saveConfig))
	mux.HandleFunc("GET /api/configs", a.requireUser(a.listConfigs))

	mux.HandleFunc("POST /api/quizzes", a.requireUser(a.createQuiz))
	mux.HandleFunc("GET /api/quizzes", a.browseQuizzes)
	mux.HandleFunc("GET /api/quizzes/{id}", a.getQuiz)
	mux.HandleFunc("GET /api/quizzes/{id}/questions", a.requireUser(a.listQuestions))
	mux.HandleFunc("PUT /api/quizzes/{id}/questions", a.requireUser(a.saveAllQuestions))
	mux.HandleFunc("PUT /api/quizzes/{id}/questions/{position}", a.requireUser(a.upsertQuestion))
	mux.HandleFunc("POST /api/quizzes/{id}/images", a.requireUser(a.uploadQuizImage))
	mux.HandleFunc("POST /api/quizzes/{id}/access", a.verifyAccess)
	mux.HandleFunc("GET /api/quizzes/{id}/leaderboard", a.leaderboard)
	mux.HandleFunc("POST /api/quizzes/{id}/ratings", a.requireUser(a.rateQuiz))
	mux.HandleFunc("GET /api/quizzes/{id}/rating", a.averageRating)

	mux.HandleFunc("POST /api/sessions", a.requireUser(a.startSession))
	mux.HandleFunc("GET /api/sessions/{id}", a.requireUser(a.getSession))
	mux.HandleFunc("DELETE /api/sessions/{id}", a.requireUser(a.discardSession))
	mux.HandleFunc("POST /api/sessions/{id}/answer", a.requireUser(a.answer))
	mux.HandleFunc("POST /api/sessions/{id}/next", a.requireUser(a.advance))
	mux.HandleFunc("POST /api/sessions/{id}/finish", a.requireUser(a.finish))
	mux.HandleFunc("POST /api/sessions/{id}/retry", a.requireUser(a.retry))
	mux.HandleFunc("POST /api/sessions/{id}/restart", a.requireUser(a.restart))
	mux.HandleFunc("POST /api/sessions/{id}/doubts", a.requireUser(a.resolveDoubt))
	mux.HandleFunc("GET /api/sessions/{id}/events", a.requireUser(a.events))

	mux.HandleFunc("GET /api/results/{id}", a.getResult)

	// metrics sits innermost so it sees the request the mux annotates with its pattern
	var handler http.Handler = mux
	if opts.Metrics != nil {
		handler = opts.Metrics.Middleware(handler)
	}
	handler = a.authenticate(handler)
	if opts.Limiter != nil {
		handler = opts.Limiter.Middleware(handler)
	}
	handler = requestLogger(opts.Log, handler)
	handler = recoverer(opts.Log, handler)
	return cors(opts.AllowOrigin, handler)
}
