package rest

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	pb "github.com/and161185/medgate/api/medgate/v1"
	"github.com/and161185/medgate/internal/convert"
	"github.com/and161185/medgate/internal/errs"
	"github.com/and161185/medgate/internal/model"
)

type boolBody struct {
	Value bool `json:"value"`
}

type approvalBody struct {
	Approved bool `json:"approved"`
}

type grantBody struct {
	Granted bool `json:"granted"`
}

type reviewBody struct {
	Text string `json:"text"`
}

var binder = &echo.DefaultBinder{}

func bind(c echo.Context, v any) error { return binder.BindBody(c, v) }

func param(c echo.Context, name string) (model.Identity, error) {
	return convert.Identity(name, c.Param(name))
}

// mustCaller is only used behind RequireCaller.
func mustCaller(c echo.Context) model.Identity {
	id, _ := Caller(c)
	return id
}

// --- registry ---

func (g *Gateway) initialize(c echo.Context) error {
	if err := g.svc.Initialize(c.Request().Context(), mustCaller(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusCreated)
}

func (g *Gateway) isInitialized(c echo.Context) error {
	id, err := param(c, "patient")
	if err != nil {
		return err
	}
	ok, err := g.svc.IsInitialized(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, boolBody{Value: ok})
}

// --- authorization ---

func (g *Gateway) setAllowlist(c echo.Context) error {
	center, err := param(c, "center")
	if err != nil {
		return err
	}
	var body approvalBody
	if err := bind(c, &body); err != nil {
		return err
	}
	if err := g.svc.SetHealthCenterAllowlist(c.Request().Context(), mustCaller(c), center, body.Approved); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (g *Gateway) setCenterConsent(c echo.Context) error {
	center, err := param(c, "subject")
	if err != nil {
		return err
	}
	var body grantBody
	if err := bind(c, &body); err != nil {
		return err
	}
	if err := g.svc.SetHealthCenterConsent(c.Request().Context(), mustCaller(c), center, body.Granted); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (g *Gateway) setDoctorConsent(c echo.Context) error {
	doctor, err := param(c, "subject")
	if err != nil {
		return err
	}
	var body grantBody
	if err := bind(c, &body); err != nil {
		return err
	}
	if err := g.svc.SetDoctorConsent(c.Request().Context(), mustCaller(c), doctor, body.Granted); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (g *Gateway) isHealthCenterAuthorized(c echo.Context) error {
	patient, err := param(c, "patient")
	if err != nil {
		return err
	}
	center, err := param(c, "subject")
	if err != nil {
		return err
	}
	ok, err := g.svc.IsHealthCenterAuthorized(c.Request().Context(), patient, center)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, boolBody{Value: ok})
}

func (g *Gateway) isDoctorAuthorized(c echo.Context) error {
	patient, err := param(c, "patient")
	if err != nil {
		return err
	}
	doctor, err := param(c, "subject")
	if err != nil {
		return err
	}
	ok, err := g.svc.IsDoctorAuthorized(c.Request().Context(), patient, doctor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, boolBody{Value: ok})
}

// --- records ---

func (g *Gateway) addRecord(c echo.Context) error {
	patient, err := param(c, "patient")
	if err != nil {
		return err
	}
	var body pb.RecordFields
	if err := bind(c, &body); err != nil {
		return err
	}
	rec, err := g.svc.AddRecord(c.Request().Context(), mustCaller(c), patient, convert.FromWireFields(body))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, convert.ToWireRecord(*rec))
}

func (g *Gateway) updateRecord(c echo.Context) error {
	patient, err := param(c, "patient")
	if err != nil {
		return err
	}
	var body pb.UpdateRecordRequest
	if err := bind(c, &body); err != nil {
		return err
	}
	rec, err := g.svc.UpdateRecord(c.Request().Context(), mustCaller(c), patient, convert.FromWireUpdate(&body))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, convert.ToWireRecord(*rec))
}

func (g *Gateway) getRecord(c echo.Context) error {
	patient, err := param(c, "patient")
	if err != nil {
		return err
	}
	rec, err := g.svc.GetRecord(c.Request().Context(), mustCaller(c), patient)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, convert.ToWireSensitive(*rec))
}

func (g *Gateway) listPublicRecords(c echo.Context) error {
	rs, err := g.svc.ListPublicRecords(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, convert.ToWireRecordList(rs))
}

// --- sharing ---

func (g *Gateway) setDataSharing(c echo.Context) error {
	var body pb.DataSharingRequest
	if err := bind(c, &body); err != nil {
		return err
	}
	patient, err := convert.OptionalIdentity("patient", body.Patient)
	if err != nil {
		return err
	}
	if err := g.svc.SetDataSharing(c.Request().Context(), mustCaller(c), patient, body.Enabled); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (g *Gateway) getDataSharing(c echo.Context) error {
	patient, err := param(c, "patient")
	if err != nil {
		return err
	}
	on, err := g.svc.GetDataSharing(c.Request().Context(), patient)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, boolBody{Value: on})
}

// --- reviews ---

func (g *Gateway) addReview(c echo.Context) error {
	patient, err := param(c, "patient")
	if err != nil {
		return err
	}
	var body reviewBody
	if err := bind(c, &body); err != nil {
		return err
	}
	r, err := g.svc.AddReview(c.Request().Context(), mustCaller(c), patient, body.Text)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, convert.ToWireReview(*r))
}

func (g *Gateway) getReviews(c echo.Context) error {
	patient, err := param(c, "patient")
	if err != nil {
		return err
	}
	rs, err := g.svc.GetReviews(c.Request().Context(), mustCaller(c), patient)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, convert.ToWireReviewList(rs))
}

// --- audit ---

func (g *Gateway) listEvents(c echo.Context) error {
	since, err := queryInt(c, "since")
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	evs, err := g.svc.ListEvents(c.Request().Context(), since, int(limit))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, convert.ToWireEventList(evs))
}

func queryInt(c echo.Context, name string) (int64, error) {
	s := c.QueryParam(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad %s %q", errs.ErrInvalidArgument, name, s)
	}
	return n, nil
}
