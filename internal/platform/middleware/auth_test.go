package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "consentledger/pkg/domain"
	"consentledger/pkg/requestcontext"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
	got    string
}

func (v *stubValidator) ValidateToken(token string) (*JWTClaims, error) {
	v.got = token
	return v.claims, v.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequireAuth(t *testing.T) {
	var gotSubject id.SubjectID
	var gotRoles []string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = requestcontext.SubjectID(r.Context())
		gotRoles = requestcontext.Roles(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("valid token populates context", func(t *testing.T) {
		validator := &stubValidator{claims: &JWTClaims{Subject: "user-1", Roles: []string{" Privacy_Admin ", "privacy_admin", "viewer"}}}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer abc.def.ghi")
		w := httptest.NewRecorder()

		RequireAuth(validator, discardLogger())(next).ServeHTTP(w, req)

		require.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "abc.def.ghi", validator.got)
		assert.Equal(t, id.SubjectID("user-1"), gotSubject)
		assert.Equal(t, []string{"privacy_admin", "viewer"}, gotRoles)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		RequireAuth(&stubValidator{}, discardLogger())(next).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"unauthorized","error_description":"Missing or invalid Authorization header"}`, w.Body.String())
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		w := httptest.NewRecorder()
		RequireAuth(&stubValidator{err: errors.New("bad signature")}, discardLogger())(next).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("empty subject claim", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer tok")
		w := httptest.NewRecorder()
		RequireAuth(&stubValidator{claims: &JWTClaims{}}, discardLogger())(next).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestContextIdentity(t *testing.T) {
	_, err := ContextIdentity{}.CurrentSubjectID(context.Background())
	require.Error(t, err)

	ctx := requestcontext.WithSubjectID(context.Background(), "user-1")
	subject, err := ContextIdentity{}.CurrentSubjectID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id.SubjectID("user-1"), subject)
}

func TestRoleAuthorizer(t *testing.T) {
	authz := NewRoleAuthorizer("Privacy_Admin", []string{" ops-bot ", ""})
	base := context.Background()
	asAdmin := requestcontext.WithRoles(requestcontext.WithSubjectID(base, "dpo"), []string{"privacy_admin"})
	asUser := requestcontext.WithSubjectID(base, "user-1")

	tests := []struct {
		name  string
		ctx   context.Context
		actor id.ActorID
		want  bool
	}{
		{"allowlisted actor", base, "ops-bot", true},
		{"admin acting as themselves", asAdmin, "dpo", true},
		{"admin role does not transfer to another actor", asAdmin, "someone-else", false},
		{"caller without role", asUser, "user-1", false},
		{"empty actor", base, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, authz.IsAuthorized(tt.ctx, tt.actor, "subject:anonymize"))
		})
	}
}

func TestRequireAction(t *testing.T) {
	authz := NewRoleAuthorizer("privacy_admin", nil)
	handler := RequireAction(authz, "purpose:manage", discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allowed", func(t *testing.T) {
		ctx := requestcontext.WithRoles(requestcontext.WithSubjectID(context.Background(), "dpo"), []string{"privacy_admin"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("forbidden", func(t *testing.T) {
		ctx := requestcontext.WithSubjectID(context.Background(), "user-1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("anonymous", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
