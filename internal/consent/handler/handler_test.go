package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"consentledger/internal/consent/handler/mocks"
	"consentledger/internal/consent/models"
	"consentledger/internal/platform/middleware"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
	"consentledger/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	ledger     *mocks.MockLedger
	registry   *mocks.MockRegistry
	anonymizer *mocks.MockAnonymizer
	router     chi.Router
	t0         time.Time
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.ledger = mocks.NewMockLedger(ctrl)
	s.registry = mocks.NewMockRegistry(ctrl)
	s.anonymizer = mocks.NewMockAnonymizer(ctrl)
	s.t0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(s.ledger, s.registry, s.anonymizer,
		middleware.ContextIdentity{},
		middleware.NewRoleAuthorizer("privacy_admin", nil),
		logger,
	)
	s.router = chi.NewRouter()
	h.Register(s.router)
}

// do sends a request as subject, or anonymously when subject is empty.
func (s *HandlerSuite) do(method, path, subject, role string, body any) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), method, path, body)
	if subject != "" {
		var roles []string
		if role != "" {
			roles = append(roles, role)
		}
		req = testutil.WithSubject(req, subject, roles...)
	}
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) decode(w *httptest.ResponseRecorder) map[string]any {
	return *testutil.UnmarshalResponse[map[string]any](s.T(), w)
}

func (s *HandlerSuite) TestSubmit() {
	s.Run("records the decision for the caller", func() {
		s.ledger.EXPECT().Submit(gomock.Any(), models.SubmitRequest{
			SubjectID: "user-1",
			PurposeID: "marketing",
			Granted:   true,
		}).Return(&models.Event{
			ID:             id.NewEventID(),
			Seq:            7,
			SubjectID:      "user-1",
			PurposeID:      "marketing",
			PurposeVersion: 2,
			Granted:        true,
			Timestamp:      s.t0,
		}, nil)

		w := s.do(http.MethodPost, "/v1/consent", "user-1", "", map[string]any{"purpose": " Marketing ", "granted": true})
		s.Equal(http.StatusCreated, w.Code)
		resp := s.decode(w)
		s.Equal("marketing", resp["purpose_id"])
		s.Equal(float64(2), resp["purpose_version"])
	})

	s.Run("missing granted is a validation error", func() {
		w := s.do(http.MethodPost, "/v1/consent", "user-1", "", map[string]any{"purpose": "marketing"})
		s.Equal(http.StatusUnprocessableEntity, w.Code)
	})

	s.Run("malformed body", func() {
		req := testutil.WithSubject(testutil.NewRequestWithBody(http.MethodPost, "/v1/consent", "{"), "user-1")
		w := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), w, http.StatusBadRequest, "bad_request")
	})

	s.Run("unauthenticated", func() {
		w := s.do(http.MethodPost, "/v1/consent", "", "", map[string]any{"purpose": "marketing", "granted": true})
		testutil.AssertStatusAndError(s.T(), w, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("anonymized subject conflicts", func() {
		s.ledger.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeConflict, "subject has been anonymized"))
		w := s.do(http.MethodPost, "/v1/consent", "user-1", "", map[string]any{"purpose": "marketing", "granted": false})
		testutil.AssertStatusAndError(s.T(), w, http.StatusConflict, "conflict")
	})

	s.Run("transient storage failure is retryable", func() {
		s.ledger.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeTransient, "consent storage unavailable"))
		w := s.do(http.MethodPost, "/v1/consent", "user-1", "", map[string]any{"purpose": "marketing", "granted": true})
		s.Equal(http.StatusServiceUnavailable, w.Code)
		s.Equal("1", w.Header().Get("Retry-After"))
	})
}

func (s *HandlerSuite) TestReads() {
	s.Run("states", func() {
		s.ledger.EXPECT().States(gomock.Any(), id.SubjectID("user-1")).Return([]*models.State{
			{SubjectID: "user-1", PurposeID: "analytics", CurrentVersion: 1},
		}, nil)
		w := s.do(http.MethodGet, "/v1/consent", "user-1", "", nil)
		s.Equal(http.StatusOK, w.Code)
		s.Len(s.decode(w)["states"], 1)
	})

	s.Run("single purpose with stale reasons", func() {
		decided := s.t0
		s.ledger.EXPECT().ExplainState(gomock.Any(), id.SubjectID("user-1"), id.PurposeID("marketing")).Return(&models.Explanation{
			State: &models.State{SubjectID: "user-1", PurposeID: "marketing", AtVersion: 1, Stale: true, CurrentVersion: 2, DecidedAt: &decided},
			Changes: []models.VersionChange{
				{PurposeID: "marketing", FromVersion: 1, ToVersion: 2, Reason: "new partner", ChangedAt: s.t0.Add(time.Hour)},
			},
		}, nil)
		w := s.do(http.MethodGet, "/v1/consent/marketing", "user-1", "", nil)
		s.Equal(http.StatusOK, w.Code)
		resp := s.decode(w)
		s.Equal(true, resp["state"].(map[string]any)["stale"])
		s.Len(resp["changes"], 1)
	})

	s.Run("unknown purpose", func() {
		s.ledger.EXPECT().ExplainState(gomock.Any(), gomock.Any(), id.PurposeID("missing")).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "purpose not found"))
		w := s.do(http.MethodGet, "/v1/consent/missing", "user-1", "", nil)
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("history", func() {
		s.ledger.EXPECT().History(gomock.Any(), id.SubjectID("user-1")).Return([]*models.Event{}, nil)
		w := s.do(http.MethodGet, "/v1/consent/history", "user-1", "", nil)
		s.Equal(http.StatusOK, w.Code)
		s.Empty(s.decode(w)["events"])
	})

	s.Run("gate", func() {
		s.ledger.EXPECT().Gate(gomock.Any(), id.SubjectID("user-1")).Return(&models.GateResult{
			Blocking:    true,
			Outstanding: []id.PurposeID{"terms"},
		}, nil)
		w := s.do(http.MethodGet, "/v1/consent/gate", "user-1", "", nil)
		s.Equal(http.StatusOK, w.Code)
		resp := s.decode(w)
		s.Equal(true, resp["blocking"])
		s.Equal([]any{"terms"}, resp["outstanding"])
	})
}

func (s *HandlerSuite) TestAdminPurposes() {
	s.Run("requires the admin role", func() {
		w := s.do(http.MethodGet, "/v1/admin/purposes", "user-1", "", nil)
		s.Equal(http.StatusForbidden, w.Code)
	})

	s.Run("register", func() {
		s.registry.EXPECT().Register(gomock.Any(), &models.RegisterPurposeRequest{ID: "terms", Required: true}).
			Return(&models.Purpose{ID: "terms", CurrentVersion: 1, Required: true, LegalBasis: models.LegalBasisContract}, nil)
		w := s.do(http.MethodPost, "/v1/admin/purposes", "dpo", "privacy_admin", map[string]any{"id": "terms", "required": true})
		s.Equal(http.StatusCreated, w.Code)
		s.Equal(float64(1), s.decode(w)["current_version"])
	})

	s.Run("register duplicate", func() {
		s.registry.EXPECT().Register(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeConflict, "purpose already registered"))
		w := s.do(http.MethodPost, "/v1/admin/purposes", "dpo", "privacy_admin", map[string]any{"id": "terms"})
		s.Equal(http.StatusConflict, w.Code)
	})

	s.Run("list", func() {
		s.registry.EXPECT().List(gomock.Any()).Return([]*models.Purpose{{ID: "a"}, {ID: "b"}}, nil)
		w := s.do(http.MethodGet, "/v1/admin/purposes", "dpo", "privacy_admin", nil)
		s.Equal(http.StatusOK, w.Code)
		s.Len(s.decode(w)["purposes"], 2)
	})

	s.Run("update", func() {
		scope := "ads"
		s.registry.EXPECT().Update(gomock.Any(), id.PurposeID("terms"), &models.UpdatePurposeRequest{Scope: &scope}).
			Return(&models.Purpose{ID: "terms", CurrentVersion: 2, Scope: scope}, nil)
		w := s.do(http.MethodPatch, "/v1/admin/purposes/terms", "dpo", "privacy_admin", map[string]any{"scope": "ads"})
		s.Equal(http.StatusOK, w.Code)
		s.Equal(float64(2), s.decode(w)["current_version"])
	})

	s.Run("bump uses the caller as actor", func() {
		s.registry.EXPECT().BumpVersion(gomock.Any(), id.PurposeID("terms"), "retention changed", id.ActorID("dpo")).Return(3, nil)
		w := s.do(http.MethodPost, "/v1/admin/purposes/terms/bump", "dpo", "privacy_admin", map[string]any{"reason": "retention changed"})
		s.Equal(http.StatusOK, w.Code)
		s.Equal(float64(3), s.decode(w)["version"])
	})

	s.Run("version history", func() {
		s.registry.EXPECT().VersionHistory(gomock.Any(), id.PurposeID("terms")).Return([]models.VersionChange{
			{PurposeID: "terms", FromVersion: 1, ToVersion: 2, Reason: "r"},
		}, nil)
		w := s.do(http.MethodGet, "/v1/admin/purposes/terms/versions", "dpo", "privacy_admin", nil)
		s.Equal(http.StatusOK, w.Code)
		s.Len(s.decode(w)["changes"], 1)
	})
}

func (s *HandlerSuite) TestAnonymize() {
	s.Run("returns the token", func() {
		s.anonymizer.EXPECT().Anonymize(gomock.Any(), id.ActorID("dpo"), id.SubjectID("user@example.com")).
			Return(models.AnonymizedPrefix+"abc", nil)
		w := s.do(http.MethodPost, "/v1/admin/subjects/user%40example.com/anonymize", "dpo", "privacy_admin", nil)
		s.Equal(http.StatusOK, w.Code)
		s.Equal(models.AnonymizedPrefix+"abc", s.decode(w)["token"])
	})

	s.Run("denied by the anonymizer", func() {
		s.anonymizer.EXPECT().Anonymize(gomock.Any(), id.ActorID("user-1"), id.SubjectID("user-2")).
			Return("", dErrors.New(dErrors.CodeForbidden, "actor is not allowed to anonymize subjects"))
		w := s.do(http.MethodPost, "/v1/admin/subjects/user-2/anonymize", "user-1", "", nil)
		s.Equal(http.StatusForbidden, w.Code)
	})

	s.Run("already in flight", func() {
		s.anonymizer.EXPECT().Anonymize(gomock.Any(), gomock.Any(), gomock.Any()).
			Return("", dErrors.New(dErrors.CodeConflict, "anonymization already in progress for subject"))
		w := s.do(http.MethodPost, "/v1/admin/subjects/user-2/anonymize", "dpo", "privacy_admin", nil)
		s.Equal(http.StatusConflict, w.Code)
	})
}
