package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3/sloggers/slogtest"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/handlers"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/ingress"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/metrics"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/models"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/report"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/state"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var now = time.Date(2025, time.June, 3, 15, 0, 0, 0, time.UTC)

type env struct {
	bus    *ingress.Bus
	sub    *ingress.Subscription
	store  *state.Store
	router *gin.Engine
}

type noRepo struct{}

func (noRepo) LoadDailyStats(context.Context, models.Date) (map[string]models.HamsterStats, bool, error) {
	return nil, false, nil
}

func setup(t *testing.T) *env {
	t.Helper()
	logger := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})
	clk := quartz.NewMock(t)
	clk.Set(now)
	bus := ingress.New(logger, clk, metrics.New(prometheus.NewRegistry()))
	sub, err := bus.Subscribe("dispatcher", 0)
	require.NoError(t, err)
	store := state.NewStore()

	r := gin.New()
	handlers.RegisterEventRoutes(r, bus)
	handlers.RegisterReportRoutes(r, report.NewService(clk, store, noRepo{}, time.UTC, 10))
	handlers.RegisterTapRoutes(r, logger, bus, 16)
	return &env{bus: bus, sub: sub, store: store, router: r}
}

func (e *env) post(t *testing.T, body, sensorID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sensorID != "" {
		req.Header.Set("X-Sensor-Id", sensorID)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestPostEventQueuesEnvelope(t *testing.T) {
	t.Parallel()

	e := setup(t)
	rec := e.post(t, `{"type":"WheelSpin","wheelId":"w1","durationMs":15000}`, "s1")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp models.EventIngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.EventID)
	require.True(t, now.Equal(resp.ReceivedAt))

	got, err := e.sub.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, resp.EventID, got.ID)
	require.Equal(t, "s1", got.SensorID)
	require.Equal(t, models.Spin("w1", 15000), got.Event)
}

func TestPostEventRejectsInvalid(t *testing.T) {
	t.Parallel()

	e := setup(t)
	for _, body := range []string{
		`not json`,
		`{"wheelId":"w1"}`,
		`{"type":"HamsterEnter","wheelId":"w1"}`,
		`{"type":"WheelSpin"}`,
		`{"type":"Teleport","wheelId":"w1"}`,
	} {
		rec := e.post(t, body, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	require.Zero(t, e.sub.Len())
}

func TestPostEventAfterShutdown(t *testing.T) {
	t.Parallel()

	e := setup(t)
	e.bus.Close()
	rec := e.post(t, `{"type":"HamsterEnter","hamsterId":"h1","wheelId":"w1"}`, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDailyReport(t *testing.T) {
	t.Parallel()

	e := setup(t)
	today := models.DateOf(now, time.UTC)
	e.store.AddRounds(today, "h1", 11, now)
	e.store.AddRounds(today, "h2", 2, now)

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/daily?date=2025-06-03", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{
		"date": "2025-06-03",
		"source": "live",
		"hamsters": {
			"h1": {"totalRounds": 11, "isActive": true},
			"h2": {"totalRounds": 2, "isActive": false}
		}
	}`, rec.Body.String())

	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/daily?date=June-3", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type failingReports struct{}

func (failingReports) DailyReportFor(context.Context, string) (models.DailyReport, error) {
	return models.DailyReport{}, xerrors.New("db down")
}

func TestDailyReportRepositoryFailure(t *testing.T) {
	t.Parallel()

	r := gin.New()
	handlers.RegisterReportRoutes(r, failingReports{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/daily?date=2025-06-01", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTapStreamsEvents(t *testing.T) {
	t.Parallel()

	e := setup(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/events/tap", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	res, err := http.Post(srv.URL+"/events", "application/json",
		bytes.NewBufferString(`{"type":"HamsterEnter","hamsterId":"h1","wheelId":"w1"}`))
	require.NoError(t, err)
	_ = res.Body.Close()
	require.Equal(t, http.StatusAccepted, res.StatusCode)

	var got models.Envelope
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	require.Equal(t, models.Enter("h1", "w1"), got.Event)

	// Shutdown ends the stream.
	e.bus.Close()
	err = wsjson.Read(ctx, conn, &got)
	require.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}
