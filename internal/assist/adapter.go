package assist

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"server/internal/infra"
	"server/internal/providers/copy"
)

// Status classifies how a generation attempt ended.
type Status string

const (
	StatusResult       Status = "result"
	StatusTimeout      Status = "timeout"
	StatusServiceError Status = "service_error"
	StatusStale        Status = "stale"
)

// DefaultTimeout bounds one generation attempt. There is no retry: a timed
// out attempt hands the field back to the user.
const DefaultTimeout = 15 * time.Second

// Request asks for generated copy for a single field.
type Request struct {
	FieldKey string
	FlowID   string
	Locale   string
	Form     map[string]any
}

// Outcome is the state surfaced to the caller. Failed or stale outcomes carry
// no text, so the user's own input can never be overwritten by them.
type Outcome struct {
	FieldKey       string
	Status         Status
	Text           string
	Confidence     float64
	Provider       string
	Token          uint64
	ManualFallback bool
}

// Adapter serializes generation attempts per field using monotonically
// increasing request tokens. The newest token is the only authoritative one;
// responses carrying an older token are discarded, which makes rapid
// re-requests and step changes safe without canceling in-flight calls.
type Adapter struct {
	gen     copy.Generator
	timeout time.Duration
	logger  infra.Logger

	mu     sync.Mutex
	tokens map[string]uint64
}

// New builds an adapter for one wizard session.
func New(gen copy.Generator, timeout time.Duration, logger infra.Logger) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{
		gen:     gen,
		timeout: timeout,
		logger:  logger,
		tokens:  make(map[string]uint64),
	}
}

// Generate runs one bounded generation attempt for the field and reports the
// outcome. The call blocks for at most the configured timeout.
func (a *Adapter) Generate(ctx context.Context, req Request) Outcome {
	token := a.begin(req.FieldKey)

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	res, err := a.gen.GenerateField(cctx, copy.FieldRequest{
		FieldKey: req.FieldKey,
		FlowID:   req.FlowID,
		Locale:   req.Locale,
		Form:     req.Form,
	})

	if !a.isCurrent(req.FieldKey, token) {
		a.logger.Debug().Str("field", req.FieldKey).Msg("assist: discarding stale result")
		return Outcome{FieldKey: req.FieldKey, Status: StatusStale, Token: token}
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			a.logger.Warn().Err(err).Str("field", req.FieldKey).Msg("assist: generation timed out")
			return Outcome{FieldKey: req.FieldKey, Status: StatusTimeout, Token: token, ManualFallback: true}
		}
		a.logger.Error().Err(err).Str("field", req.FieldKey).Msg("assist: generation failed")
		return Outcome{FieldKey: req.FieldKey, Status: StatusServiceError, Token: token, ManualFallback: true}
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		return Outcome{FieldKey: req.FieldKey, Status: StatusServiceError, Token: token, ManualFallback: true}
	}
	return Outcome{
		FieldKey:   req.FieldKey,
		Status:     StatusResult,
		Text:       text,
		Confidence: res.Confidence,
		Provider:   res.Provider,
		Token:      token,
	}
}

// Invalidate bumps the tokens for the given fields so any outstanding
// generation completes as stale. In-flight network calls are not canceled.
func (a *Adapter) Invalidate(fieldKeys ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, key := range fieldKeys {
		a.tokens[key]++
	}
}

// CurrentToken returns the authoritative token for a field.
func (a *Adapter) CurrentToken(fieldKey string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tokens[fieldKey]
}

func (a *Adapter) begin(fieldKey string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[fieldKey]++
	return a.tokens[fieldKey]
}

func (a *Adapter) isCurrent(fieldKey string, token uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tokens[fieldKey] == token
}
