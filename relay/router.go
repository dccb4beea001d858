package relay

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router with all relay endpoints.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	r.Use(CORSMiddleware(a.Config.Server.CORS))
	r.Use(SecurityHeadersMiddleware(a.Config.Relay.OpenerPolicy, a.Config.Server.TLS.HSTSMaxAge))

	r.Get("/healthz", a.handleHealthz)
	r.Get("/auth/handler", a.handleAuthHandler)
	r.Post("/auth/relay/{attemptID}", a.handleRelay)

	if a.generate != nil {
		r.Post("/api/generate", a.generate.ServeHTTP)
	}

	if a.Config.Server.StaticDir != "" {
		fs := http.FileServer(http.Dir(a.Config.Server.StaticDir))
		r.Handle("/*", fs)
	}

	return r
}
