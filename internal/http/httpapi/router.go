package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"storybook/internal/http/handlers"
	"storybook/internal/infra"
	"storybook/internal/middleware"
)

// Options carries the optional pieces of the router.
type Options struct {
	// StaticDir, when set, is served under /static/ so stored books and
	// character boards are reachable by URL.
	StaticDir      string
	AllowedOrigins []string
	RateLimit      int
	DefaultLocale  string
}

func NewRouter(app *handlers.App, logger infra.Logger, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(opts.AllowedOrigins),
		middleware.Locale(opts.DefaultLocale),
	)

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		if opts.RateLimit > 0 {
			r.Use(middleware.RateLimit(opts.RateLimit, time.Minute))
		}
		r.Post("/v1/story-ideas", app.StoryIdea)
		r.Post("/v1/books", app.GenerateBook)
	})
	r.Get("/v1/books/{job_id}", app.BookStatus)

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
