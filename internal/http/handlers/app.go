package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"server/internal/domain/jsoncfg"
	"server/internal/infra"
	"server/internal/infra/geoip"
	"server/internal/middleware"
	"server/internal/sqlinline"
	"server/internal/storage"
	"server/internal/wizard"
)

// App carries the shared dependencies for every HTTP handler.
type App struct {
	Config    *infra.Config
	Logger    infra.Logger
	SQL       infra.SQLExecutor
	Sessions  *wizard.Manager
	Registry  *wizard.Registry
	Store     storage.BlobStore
	GeoIP     geoip.CountryResolver
	JWTSecret string
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorBody{Error: errCode, Message: message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) currentLocale(r *http.Request) string {
	return middleware.LocaleFromContext(r.Context())
}

// recordUsage writes one analytics event. Failures are logged and swallowed;
// usage tracking never breaks the request path.
func (a *App) recordUsage(r *http.Request, eventType, provider string, success bool, started time.Time) {
	if a.SQL == nil {
		return
	}
	payload := jsoncfg.MustMarshal(jsoncfg.UsageEventPayload{
		EventType: eventType,
		Provider:  provider,
		Success:   success,
	})
	latency := time.Since(started).Milliseconds()
	_, err := a.SQL.Exec(r.Context(), sqlinline.QInsertUsageEvent,
		a.currentUserID(r),
		middleware.RequestIDFromContext(r.Context()),
		eventType,
		success,
		latency,
		payload,
	)
	if err != nil {
		a.Logger.Warn().Err(err).Str("event", eventType).Msg("usage event insert failed")
	}
}
