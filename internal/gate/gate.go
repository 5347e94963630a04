// Package gate enforces authentication and authorization on incoming requests.
//
// A request moves through Identify (token extraction and validation) and
// Admit (resource load and policy decision). Any failure ends in a
// *Rejection carrying the HTTP status the transport should answer with.
package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/MediSynth-io/messagely/internal/auth"
	"github.com/MediSynth-io/messagely/internal/metrics"
	"github.com/MediSynth-io/messagely/internal/models"
	"github.com/MediSynth-io/messagely/internal/policy"
	"github.com/go-chi/chi/v5/middleware"
)

// TokenParam is the query parameter and JSON body field that may carry a
// session token when no Authorization header is sent.
const TokenParam = "_token"

// maxTokenBody bounds how much of a request body is buffered while looking for
// a token.
const maxTokenBody = 1 << 20

var ErrMissingToken = errors.New("missing token")

// Rejection ends a request before its operation runs.
type Rejection struct {
	Code int
	Err  error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected (%d): %v", r.Code, r.Err)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

func unauthorized(err error) *Rejection {
	return &Rejection{Code: http.StatusUnauthorized, Err: err}
}

// Loader fetches the snapshot of the resource an operation targets. It
// returns models.ErrNotFound when the addressed record does not exist.
type Loader func(ctx context.Context) (policy.Resource, error)

// ErrorWriter writes err to the client.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

type Gate struct {
	tokens  *auth.TokenManager
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(tokens *auth.TokenManager, logger *slog.Logger, m *metrics.Metrics) *Gate {
	return &Gate{
		tokens:  tokens,
		logger:  logger,
		metrics: m,
	}
}

// Identify resolves the actor of r. Carriers are checked in order: the
// Authorization bearer header, the _token query parameter and the _token field
// of a JSON body. A present but invalid token is never skipped in favor of a
// later carrier, and an Authorization header that is not a bearer token counts
// as an invalid token.
func (g *Gate) Identify(r *http.Request) (policy.Actor, error) {
	token, err := extractToken(r)
	if err != nil {
		return policy.Anonymous, err
	}
	if token == "" {
		return policy.Anonymous, unauthorized(ErrMissingToken)
	}

	claims, err := g.tokens.Validate(token)
	if err != nil {
		return policy.Anonymous, unauthorized(err)
	}
	return policy.Actor{Username: claims.Username}, nil
}

// Require rejects requests without a valid token and stores the actor in the
// request context for ActorFrom.
func (g *Gate) Require(reject ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := g.Identify(r)
			if err != nil {
				g.metrics.ObserveGate("identify", "unauthenticated")
				g.logger.DebugContext(r.Context(), "request not authenticated",
					slog.String("path", r.URL.Path),
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("error", err.Error()),
				)
				reject(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// Admit loads the target of op and consults the policy. A nil load targets
// policy.NoResource.
//
// Anonymous actors are rejected with 401 before anything is loaded. An
// addressed record that does not exist is rejected with 404. Other loader
// errors are returned unchanged so storage failures are never reported as
// auth failures.
func (g *Gate) Admit(ctx context.Context, actor policy.Actor, op policy.Operation, load Loader) error {
	if actor.IsAnonymous() {
		g.metrics.ObserveGate(op.String(), "unauthenticated")
		return unauthorized(ErrMissingToken)
	}

	res := policy.NoResource
	if load != nil {
		var err error
		res, err = load(ctx)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				g.metrics.ObserveGate(op.String(), "not_found")
				return &Rejection{Code: http.StatusNotFound, Err: err}
			}
			g.metrics.ObserveGate(op.String(), "error")
			return fmt.Errorf("load resource for %s: %w", op, err)
		}
	}

	decision := policy.Decide(actor, op, res)
	if !decision.Allowed {
		g.metrics.ObserveGate(op.String(), "deny")
		g.logger.InfoContext(ctx, "access denied",
			slog.String("username", actor.Username),
			slog.String("operation", op.String()),
			slog.String("reason", decision.Reason),
			slog.String("request_id", middleware.GetReqID(ctx)),
		)
		return unauthorized(fmt.Errorf("%w: %s", auth.ErrForbidden, decision.Reason))
	}

	g.metrics.ObserveGate(op.String(), "allow")
	return nil
}

func extractToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			return "", unauthorized(auth.ErrInvalidToken)
		}
		return token, nil
	}

	if token := r.URL.Query().Get(TokenParam); token != "" {
		return token, nil
	}

	return tokenFromBody(r)
}

// tokenFromBody reads the _token field of a JSON body and restores the body so
// the handler can decode it again.
func tokenFromBody(r *http.Request) (string, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", nil
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return "", nil
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, maxTokenBody))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("read request body: %w", err)
	}

	var carrier struct {
		Token string `json:"_token"`
	}
	if err := json.Unmarshal(buf, &carrier); err != nil {
		return "", nil
	}
	return carrier.Token, nil
}
