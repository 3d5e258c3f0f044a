package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
	dedupe "consentledger/pkg/platform/strings"
	"consentledger/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	Subject string
	Roles   []string
	JTI     string
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth validates the bearer token and stores the subject and roles in
// the request context.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}
			subject, err := id.ParseSubjectID(claims.Subject)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - bad subject claim",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid token subject")
				return
			}

			ctx = requestcontext.WithSubjectID(ctx, subject)
			ctx = requestcontext.WithRoles(ctx, dedupe.DedupeAndTrimLower(claims.Roles))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ContextIdentity resolves the subject RequireAuth put in the context.
type ContextIdentity struct{}

func (ContextIdentity) CurrentSubjectID(ctx context.Context) (id.SubjectID, error) {
	subject := requestcontext.SubjectID(ctx)
	if subject.IsNil() {
		return "", dErrors.New(dErrors.CodeUnauthorized, "no authenticated subject")
	}
	return subject, nil
}

// RoleAuthorizer grants every action to callers holding the admin role, and to
// actors on a static allowlist.
type RoleAuthorizer struct {
	adminRole string
	allowlist map[id.ActorID]struct{}
}

func NewRoleAuthorizer(adminRole string, allowlist []string) *RoleAuthorizer {
	a := &RoleAuthorizer{
		adminRole: strings.ToLower(strings.TrimSpace(adminRole)),
		allowlist: make(map[id.ActorID]struct{}, len(allowlist)),
	}
	for _, actor := range dedupe.DedupeAndTrim(allowlist) {
		a.allowlist[id.ActorID(actor)] = struct{}{}
	}
	return a
}

// IsAuthorized checks actor against the allowlist, then the caller's role
// claims. Role claims only count when actor is the authenticated caller.
func (a *RoleAuthorizer) IsAuthorized(ctx context.Context, actor id.ActorID, _ string) bool {
	if _, ok := a.allowlist[actor]; ok {
		return true
	}
	if a.adminRole == "" || id.ActorID(requestcontext.SubjectID(ctx)) != actor {
		return false
	}
	return slices.Contains(requestcontext.Roles(ctx), a.adminRole)
}

// Authorizer decides whether actor may perform action.
type Authorizer interface {
	IsAuthorized(ctx context.Context, actor id.ActorID, action string) bool
}

// RequireAction rejects callers the authorizer does not allow to perform action.
func RequireAction(authorizer Authorizer, action string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actor := id.ActorID(requestcontext.SubjectID(ctx))
			if actor == "" || !authorizer.IsAuthorized(ctx, actor, action) {
				logger.WarnContext(ctx, "forbidden - action not allowed",
					"action", action,
					"actor_id", actor,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusForbidden, "forbidden", "Not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
