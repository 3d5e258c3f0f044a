package testutil

import (
	"net/http"

	id "consentledger/pkg/domain"
	"consentledger/pkg/requestcontext"
)

// WithSubject marks req as authenticated for subject with the given roles,
// the way the auth middleware would.
func WithSubject(req *http.Request, subject string, roles ...string) *http.Request {
	ctx := requestcontext.WithSubjectID(req.Context(), id.SubjectID(subject))
	if len(roles) > 0 {
		ctx = requestcontext.WithRoles(ctx, roles)
	}
	return req.WithContext(ctx)
}
