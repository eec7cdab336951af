package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"comicforge/internal/http/handlers"
	"comicforge/internal/middleware"
)

// Options tunes the router middleware.
type Options struct {
	RateLimitPerMin int
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(app.Logger))
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/comics", func(r chi.Router) {
		r.Post("/", app.ComicSubmit)
		r.Get("/{id}", app.ComicStatus)
		r.Post("/{id}/cancel", app.ComicCancel)
		r.Get("/{id}/pages", app.ComicPages)
		r.Get("/{id}/archive", app.ComicArchive)
	})

	return r
}
