package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pb "github.com/and161185/medgate/api/medgate/v1"
	"github.com/and161185/medgate/internal/auth"
	"github.com/and161185/medgate/internal/errs"
	"github.com/and161185/medgate/internal/limiter"
	"github.com/and161185/medgate/internal/metrics"
	"github.com/and161185/medgate/internal/model"
	"github.com/and161185/medgate/internal/repository/memory"
	"github.com/and161185/medgate/internal/service"
)

var signKey = []byte("rest-secret")

type harness struct {
	t     *testing.T
	e     *echo.Echo
	owner model.Identity
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	owner := uuid.Must(uuid.NewV4())
	eng := service.NewEngine(memory.New(), owner)
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	g := New(eng, auth.NewVerifier(signKey), opts...)
	return &harness{t: t, e: g.Handler(), owner: owner}
}

func (h *harness) token(id model.Identity) string {
	h.t.Helper()
	tok, err := auth.Issue(signKey, id, time.Minute, time.Now())
	require.NoError(h.t, err)
	return tok
}

// do sends a request as caller (nil = anonymous) and returns the recorder.
func (h *harness) do(method, path string, caller *model.Identity, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var rd *strings.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = strings.NewReader(string(b))
	} else {
		rd = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if caller != nil {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+h.token(*caller))
	}
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestGateway_RecordFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	patient := uuid.Must(uuid.NewV4())
	center := uuid.Must(uuid.NewV4())
	doctor := uuid.Must(uuid.NewV4())
	p := "/v1/patients/" + patient.String()

	rec := h.do(http.MethodPost, "/v1/patients", &patient, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = h.do(http.MethodPost, "/v1/patients", &patient, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodGet, p+"/initialized", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[boolBody](t, rec).Value)

	// center needs both gates
	rec = h.do(http.MethodPost, p+"/record", &center, pb.RecordFields{Name: "John Doe"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPut, "/v1/allowlist/"+center.String(), &center, approvalBody{Approved: true})
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = h.do(http.MethodPut, "/v1/allowlist/"+center.String(), &h.owner, approvalBody{Approved: true})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(http.MethodPut, "/v1/consents/centers/"+center.String(), &patient, grantBody{Granted: true})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(http.MethodGet, p+"/centers/"+center.String()+"/authorized", nil, nil)
	require.True(t, decode[boolBody](t, rec).Value)

	rec = h.do(http.MethodPost, p+"/record", &center, pb.RecordFields{Name: "John Doe", MedicalRecordHash: "rec1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "John Doe", decode[pb.Record](t, rec).Name)

	rec = h.do(http.MethodPost, p+"/record", &center, pb.RecordFields{Name: "Other"})
	require.Equal(t, http.StatusConflict, rec.Code)

	// doctor
	rec = h.do(http.MethodGet, p+"/record", &doctor, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = h.do(http.MethodPut, "/v1/consents/doctors/"+doctor.String(), &patient, grantBody{Granted: true})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(http.MethodGet, p+"/doctors/"+doctor.String()+"/authorized", nil, nil)
	require.True(t, decode[boolBody](t, rec).Value)
	rec = h.do(http.MethodGet, p+"/record", &doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[pb.SensitiveRecord](t, rec)
	require.Equal(t, "rec1", got.MedicalRecordHash)
	require.False(t, got.DataSharing)

	rec = h.do(http.MethodPut, p+"/record", &doctor, pb.UpdateRecordRequest{Allergies: "pollen"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pollen", decode[pb.Record](t, rec).Allergies)

	rec = h.do(http.MethodPost, p+"/reviews", &doctor, reviewBody{Text: "fine"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = h.do(http.MethodGet, p+"/reviews", &patient, nil)
	require.Len(t, decode[pb.ReviewList](t, rec).Reviews, 1)

	rec = h.do(http.MethodGet, "/v1/events?since=2&limit=2", &patient, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	evs := decode[pb.EventList](t, rec).Events
	require.Len(t, evs, 2)
	require.Equal(t, int64(3), evs[0].Seq)
}

func TestGateway_Sharing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	patient := uuid.Must(uuid.NewV4())
	rec := h.do(http.MethodPut, "/v1/sharing", &patient, pb.DataSharingRequest{Enabled: true})
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/v1/patients", &patient, nil).Code)
	rec = h.do(http.MethodPost, fmt.Sprintf("/v1/patients/%s/record", patient), &patient, pb.RecordFields{Name: "Jane"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(http.MethodGet, "/v1/records/public", nil, nil)
	require.Empty(t, decode[pb.RecordList](t, rec).Records)

	require.Equal(t, http.StatusNoContent, h.do(http.MethodPut, "/v1/sharing", &patient, pb.DataSharingRequest{Enabled: true}).Code)

	rec = h.do(http.MethodGet, "/v1/records/public", nil, nil)
	list := decode[pb.RecordList](t, rec).Records
	require.Len(t, list, 1)
	require.Equal(t, "Jane", list[0].Name)

	rec = h.do(http.MethodGet, "/v1/patients/"+patient.String()+"/sharing", nil, nil)
	require.True(t, decode[boolBody](t, rec).Value)
}

func TestGateway_AuthAndErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/v1/patients", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotEmpty(t, decode[errorBody](t, rec).Error)

	req := httptest.NewRequest(http.MethodGet, "/v1/records/public", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer nope")
	rr := httptest.NewRecorder()
	h.e.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rec = h.do(http.MethodGet, "/v1/patients/not-a-uuid/initialized", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	caller := uuid.Must(uuid.NewV4())
	rec = h.do(http.MethodGet, "/v1/events?since=abc", &caller, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPut, "/v1/sharing", strings.NewReader("{"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+h.token(caller))
	rr = httptest.NewRecorder()
	h.e.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rec = h.do(http.MethodGet, "/v1/nowhere", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateway_RateLimitAndOps(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := newHarness(t, WithLimiter(limiter.New(0.001, 1)), WithMetrics(m, reg))

	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/records/public", nil, nil).Code)
	rec := h.do(http.MethodGet, "/v1/records/public", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = h.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "medgate_requests_total")
}

func TestGateway_Readiness(t *testing.T) {
	t.Parallel()
	h := newHarness(t, WithReadiness(func() error { return errors.New("db down") }))
	require.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/healthz", nil, nil).Code)
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()
	cases := map[error]int{
		errs.ErrNotInitialized:               http.StatusNotFound,
		errs.ErrNotFound:                     http.StatusNotFound,
		errs.ErrAlreadyInitialized:           http.StatusConflict,
		errs.ErrAlreadyExists:                http.StatusConflict,
		errs.ErrDoctorNotConsented:           http.StatusForbidden,
		errs.ErrInvalidArgument:              http.StatusBadRequest,
		errs.ErrRateLimited:                  http.StatusTooManyRequests,
		errs.ErrUnauthenticated:              http.StatusUnauthorized,
		errors.New("boom"):                   http.StatusInternalServerError,
		echo.NewHTTPError(http.StatusTeapot): http.StatusTeapot,
	}
	for err, want := range cases {
		require.Equal(t, want, httpStatus(err), err.Error())
	}
}
