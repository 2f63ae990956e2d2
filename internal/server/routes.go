package server

import (
	"net/http"
	"strconv"
	"time"

	"gridwarden/internal/core/domain"
	"gridwarden/pkg/gridlink"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const requestTimeout = 10 * time.Second

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/components", s.ListComponentsHandler)
	e.GET("/components/:id", s.GetComponentHandler)
	e.POST("/components/:id/start", s.transitionHandler(func(id uint32) domain.ActorRequest {
		return domain.StartComponentRequest{ComponentId: id}
	}))
	e.POST("/components/:id/standby", s.transitionHandler(func(id uint32) domain.ActorRequest {
		return domain.PutInStandbyRequest{ComponentId: id}
	}))
	e.POST("/components/:id/stop", s.transitionHandler(func(id uint32) domain.ActorRequest {
		return domain.StopComponentRequest{ComponentId: id}
	}))
	e.POST("/components/:id/ack_error", s.transitionHandler(func(id uint32) domain.ActorRequest {
		return domain.AckErrorRequest{ComponentId: id}
	}))
	e.POST("/components/:id/bounds", s.AddBoundsHandler)
	e.POST("/components/:id/power/active", s.setPowerHandler(gridlink.PowerActive))
	e.POST("/components/:id/power/reactive", s.setPowerHandler(gridlink.PowerReactive))
	e.POST("/components/:id/measurements", s.MeasurementHandler)

	return e
}

// errorStatus maps control error kinds to HTTP statuses.
func errorStatus(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindPreconditionFailed, domain.KindInvalidState:
		return http.StatusConflict
	case domain.KindDriverError:
		return http.StatusBadGateway
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func errorJSON(c echo.Context, err error) error {
	return c.JSON(errorStatus(err), errorBody{
		Error: err.Error(),
		Kind:  domain.KindOf(err).String(),
	})
}

func componentId(c echo.Context) (uint32, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, domain.InvalidArgument("component id must be an unsigned integer")
	}
	return uint32(id), nil
}

// ask sends a request to the grid actor and waits for the typed reply.
func ask[T domain.ActorResponse](s *Server, msg domain.ActorRequest) (T, error) {
	var zero T
	res, err := s.rootContext.RequestFuture(s.gridActor, msg, requestTimeout).Result()
	if err != nil {
		return zero, domain.Unavailable("control session not responding")
	}
	resp, ok := res.(T)
	if !ok {
		return zero, domain.Unavailable("unexpected control session response")
	}
	if resp.HasResponseError() {
		return zero, resp.GetResponseError()
	}
	return resp, nil
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.gridActor, domain.ActorHealthRequest{}, requestTimeout).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

type componentView struct {
	Id           uint32    `json:"id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	State        string    `json:"state"`
	ACRelay      bool      `json:"ac_relay_closed"`
	DCRelay      bool      `json:"dc_relay_closed"`
	ActivePower  float64   `json:"active_power_w"`
	ReactivePwr  float64   `json:"reactive_power_var"`
	LastSampleAt time.Time `json:"last_sample_at,omitempty"`
}

func (s *Server) ListComponentsHandler(c echo.Context) error {
	resp, err := ask[domain.ListComponentsResponse](s, domain.ListComponentsRequest{})
	if err != nil {
		return errorJSON(c, err)
	}
	type item struct {
		Id       uint32 `json:"id"`
		Name     string `json:"name"`
		Category string `json:"category"`
	}
	out := make([]item, len(resp.Components))
	for i, info := range resp.Components {
		out[i] = item{Id: info.ID, Name: info.Name, Category: info.Category.String()}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) GetComponentHandler(c echo.Context) error {
	id, err := componentId(c)
	if err != nil {
		return errorJSON(c, err)
	}
	resp, err := ask[domain.GetComponentStateResponse](s, domain.GetComponentStateRequest{ComponentId: id})
	if err != nil {
		return errorJSON(c, err)
	}
	comp := resp.Component
	return c.JSON(http.StatusOK, componentView{
		Id:           comp.ID,
		Name:         comp.Name,
		Category:     comp.Category.String(),
		State:        comp.Lifecycle.String(),
		ACRelay:      comp.Hardware.ACRelayClosed,
		DCRelay:      comp.Hardware.DCRelayClosed,
		ActivePower:  comp.Hardware.ActivePowerWatt,
		ReactivePwr:  comp.Hardware.ReactivePowerVAr,
		LastSampleAt: comp.LastSampleAt,
	})
}

type transitionBody struct {
	State string `json:"state"`
}

func (s *Server) transitionHandler(build func(uint32) domain.ActorRequest) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := componentId(c)
		if err != nil {
			return errorJSON(c, err)
		}
		resp, err := ask[domain.TransitionResponse](s, build(id))
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, transitionBody{State: resp.State.String()})
	}
}

type addBoundsRequest struct {
	Metric          string       `json:"metric"`
	Intervals       [][2]float64 `json:"intervals"`
	ValiditySeconds uint         `json:"validity_seconds"`
}

type addBoundsResponse struct {
	ValidUntil time.Time `json:"valid_until"`
}

func (s *Server) AddBoundsHandler(c echo.Context) error {
	id, err := componentId(c)
	if err != nil {
		return errorJSON(c, err)
	}
	var body addBoundsRequest
	if err := c.Bind(&body); err != nil {
		return errorJSON(c, domain.InvalidArgument("malformed request body"))
	}
	metric, err := domain.ParseMetric(body.Metric)
	if err != nil {
		return errorJSON(c, err)
	}
	intervals := make([]domain.Interval, len(body.Intervals))
	for i, pair := range body.Intervals {
		intervals[i] = domain.Interval{Lower: pair[0], Upper: pair[1]}
	}
	resp, err := ask[domain.AddBoundsResponse](s, domain.AddBoundsRequest{
		ComponentId: id,
		Metric:      metric,
		Intervals:   intervals,
		Validity:    time.Duration(body.ValiditySeconds) * time.Second,
	})
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, addBoundsResponse{ValidUntil: resp.ValidUntil})
}

type setPowerRequest struct {
	Value           float64 `json:"value"`
	LifetimeSeconds uint    `json:"lifetime_seconds"`
}

type setPowerResponse struct {
	InstalledValue float64   `json:"installed_value"`
	ValidUntil     time.Time `json:"valid_until"`
}

func (s *Server) setPowerHandler(kind gridlink.PowerKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := componentId(c)
		if err != nil {
			return errorJSON(c, err)
		}
		var body setPowerRequest
		if err := c.Bind(&body); err != nil {
			return errorJSON(c, domain.InvalidArgument("malformed request body"))
		}
		resp, err := ask[domain.SetPowerResponse](s, domain.SetPowerRequest{
			ComponentId: id,
			Kind:        kind,
			Value:       body.Value,
			Lifetime:    time.Duration(body.LifetimeSeconds) * time.Second,
		})
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, setPowerResponse{
			InstalledValue: resp.InstalledValue,
			ValidUntil:     resp.ValidUntil,
		})
	}
}

type measurementRequest struct {
	Metric string    `json:"metric"`
	Value  float64   `json:"value"`
	At     time.Time `json:"at"`
}

type measurementResponse struct {
	InBounds bool `json:"in_bounds"`
}

func (s *Server) MeasurementHandler(c echo.Context) error {
	id, err := componentId(c)
	if err != nil {
		return errorJSON(c, err)
	}
	var body measurementRequest
	if err := c.Bind(&body); err != nil {
		return errorJSON(c, domain.InvalidArgument("malformed request body"))
	}
	metric, err := domain.ParseMetric(body.Metric)
	if err != nil {
		return errorJSON(c, err)
	}
	resp, err := ask[domain.MeasurementResult](s, domain.MeasurementSample{
		ComponentId: id,
		Metric:      metric,
		Value:       body.Value,
		At:          body.At,
	})
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, measurementResponse{InBounds: resp.InBounds})
}
