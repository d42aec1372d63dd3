package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// NewRouter assembles the API surface. Wizard routes sit behind JWT auth;
// health, flow metadata and the static blob mount stay open.
func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RealIP,
		chimw.Recoverer,
		middleware.RequestID,
		middleware.Logger(app.Logger),
		middleware.CORS(app.Config.CORSAllowedOrigins),
		middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute),
		middleware.I18N("id", countryLookup(app)),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/flows", app.ListFlows)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/docs", app.OpenAPIDocs)

	r.Route("/v1/wizard", func(r chi.Router) {
		r.Use(middleware.AuthJWT(app.JWTSecret))
		r.Post("/drafts", app.CreateDraft)
		r.Route("/drafts/{draftID}", func(r chi.Router) {
			r.Get("/", app.GetDraft)
			r.Delete("/", app.DiscardDraft)
			r.Patch("/fields", app.UpdateDraftField)
			r.Post("/next", app.DraftNext)
			r.Post("/back", app.DraftBack)
			r.Post("/step", app.DraftGoToStep)
			r.Post("/submit", app.SubmitDraft)
			r.Post("/assist", app.GenerateAssist)
			r.Post("/attachments", app.AddAttachment)
			r.Delete("/attachments/{attachmentID}", app.RemoveAttachment)
			r.Post("/attachments/{attachmentID}/position", app.ReorderAttachment)
			r.Get("/attachments/archive", app.AttachmentArchive)
		})
	})

	// Uploaded blobs are served straight from the storage root so attachment
	// URLs resolve without a CDN in front.
	if app.Config.StoragePath != "" {
		fs := http.FileServer(http.Dir(app.Config.StoragePath))
		r.Handle("/static/*", http.StripPrefix("/static/", fs))
	}

	return r
}

func countryLookup(app *handlers.App) middleware.CountryLookup {
	if app.GeoIP == nil {
		return nil
	}
	return app.GeoIP.CountryCode
}
