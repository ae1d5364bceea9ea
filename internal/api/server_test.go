package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/trf-bridge/internal/audit"
	"github.com/nerrad567/trf-bridge/internal/bridges/trf"
	"github.com/nerrad567/trf-bridge/internal/infrastructure/config"
	"github.com/nerrad567/trf-bridge/internal/infrastructure/database"
	"github.com/nerrad567/trf-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/trf-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/trf-bridge/internal/scheduler"
	"github.com/nerrad567/trf-bridge/internal/sensor"
	_ "github.com/nerrad567/trf-bridge/migrations"
)

type dispatchCall struct {
	HubID   string
	Type    trf.PacketType
	Address uint8
	Value   int32
}

// fakeCommander records calls and answers with a fixed reply.
type fakeCommander struct {
	mu    sync.Mutex
	reply trf.Reply
	err   error
	alive bool
	calls []dispatchCall
}

func (f *fakeCommander) Dispatch(_ context.Context, hubID string, t trf.PacketType, address uint8, value int32) (trf.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatchCall{hubID, t, address, value})
	if t == trf.Heartbeat {
		if f.alive {
			return trf.Reply{Address: 1, Value: 1}, nil
		}
		return trf.Reply{Address: 1, Value: 0}, nil
	}
	return f.reply, f.err
}

func (f *fakeCommander) Heartbeat(_ context.Context, hubID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatchCall{HubID: hubID, Type: trf.Heartbeat})
	return f.alive
}

func (f *fakeCommander) Calls() []dispatchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatchCall(nil), f.calls...)
}

type fakeIngest struct {
	snap scheduler.Snapshot
	err  error
}

func (f fakeIngest) Snapshot(context.Context) (scheduler.Snapshot, error) { return f.snap, f.err }

type fakeTelemetry struct {
	readings []influxdb.Reading
	err      error

	gotMeasurement, gotSection string
	gotSince                   time.Time
}

func (f *fakeTelemetry) QuerySection(_ context.Context, measurement, section string, since time.Time) ([]influxdb.Reading, error) {
	f.gotMeasurement, f.gotSection, f.gotSince = measurement, section, since
	return f.readings, f.err
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// testEnv bundles a server with its real stores and fakes.
type testEnv struct {
	srv       *Server
	router    http.Handler
	db        *database.DB
	cmd       *fakeCommander
	places    *sensor.Registry
	commands  *audit.CommandLog
	errorLog  *audit.ErrorLog
	telemetry *fakeTelemetry
	registry  *prometheus.Registry
}

// newTestEnv builds a server over a migrated in-memory database.
func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath, BusyTimeout: 5})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Migrate(ctx)
	require.NoError(t, err)

	repo := sensor.NewSQLiteRepository(db.DB)
	require.NoError(t, repo.SeedParams(ctx, trf.Params()))
	places := sensor.NewRegistry(repo)
	require.NoError(t, places.RefreshCache(ctx))

	env := &testEnv{
		db:        db,
		cmd:       &fakeCommander{},
		places:    places,
		commands:  audit.NewCommandLog(db.DB),
		errorLog:  audit.NewErrorLog(db.DB),
		telemetry: &fakeTelemetry{},
		registry:  prometheus.NewRegistry(),
	}

	deps := Deps{
		WS:          config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:      logging.Discard(),
		Version:     "test",
		Commands:    func() Commander { return env.cmd },
		CommandWait: time.Second,
		Params:      repo,
		Places:      places,
		CommandLog:  env.commands,
		ErrorLog:    env.errorLog,
		Telemetry:   env.telemetry,
		Health:      map[string]HealthChecker{"database": db},
		Schema:      db,
		Gatherer:    env.registry,
	}
	for _, m := range mutate {
		m(&deps)
	}

	env.srv, err = New(deps)
	require.NoError(t, err)

	hubCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go env.srv.hub.Run(hubCtx)

	env.router = env.srv.buildRouter()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)

	_, err = New(Deps{Logger: logging.Discard()})
	assert.ErrorContains(t, err, "commander")
}

// ─── Health ────────────────────────────────────────────────────────

func TestHealth_OK(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, "ok", resp.Checks["database"])
	assert.Positive(t, resp.SchemaVersion)
}

func TestHealth_DegradedDependency(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Health["mqtt"] = checkFunc(func(context.Context) error { return errors.New("mqtt: not connected") })
	})

	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Checks["database"])
	assert.Equal(t, "mqtt: not connected", resp.Checks["mqtt"])
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID_GeneratedAndEchoed(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://panel.local"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/commands", nil)
	req.Header.Set("Origin", "http://panel.local")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://panel.local", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecovery_PanicBecomes500(t *testing.T) {
	env := newTestEnv(t)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ErrCodeInternal, decode[Error](t, w).Code)
}

func TestBodySizeLimit(t *testing.T) {
	env := newTestEnv(t)
	big := `{"device_id":"` + strings.Repeat("x", maxRequestBodySize) + `"}`

	w := env.do(t, http.MethodPost, "/api/v1/sensor-places", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

// ─── Params ────────────────────────────────────────────────────────

func TestListParams(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/params", nil)
	require.Equal(t, http.StatusOK, w.Code)
	basic := decode[struct {
		Params []sensor.Param `json:"params"`
		Count  int            `json:"count"`
	}](t, w)
	for _, p := range basic.Params {
		assert.False(t, p.IsAdvanced, p.Name)
	}

	w = env.do(t, http.MethodGet, "/api/v1/params?advanced=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[struct {
		Count int `json:"count"`
	}](t, w)
	assert.Equal(t, len(trf.Params()), all.Count)
	assert.Greater(t, all.Count, basic.Count)

	w = env.do(t, http.MethodGet, "/api/v1/params?advanced=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetParam(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/params/12", nil)
	require.Equal(t, http.StatusOK, w.Code)
	p := decode[trf.ParameterDescriptor](t, w)
	assert.Equal(t, "PARAMS_INPUT_NUM_1_HIGH_FILTER_LEN", p.Name)
	assert.True(t, p.IsSettable)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/params/200", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/params/300", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/params/abc", nil).Code)
}

// ─── Sensor places ─────────────────────────────────────────────────

func TestSensorPlaces_CRUD(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/sensor-places",
		map[string]any{"device_id": "42", "pin_param_id": 8, "section": "greenhouse"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[sensor.Place](t, w)
	assert.Positive(t, created.ID)
	assert.Equal(t, "PARAMS_INPUT_NUM_1", created.PinName)

	section, ok, err := env.places.LookupSection(context.Background(), "42", 8)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "greenhouse", section)

	w = env.do(t, http.MethodGet, "/api/v1/sensor-places", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Places []sensor.Place `json:"places"`
	}](t, w)
	require.Len(t, list.Places, 1)
	assert.Equal(t, "greenhouse", list.Places[0].Section)

	w = env.do(t, http.MethodDelete, "/api/v1/sensor-places/"+strconv.FormatInt(created.ID, 10), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/sensor-places/"+strconv.FormatInt(created.ID, 10), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSensorPlaces_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing pin", map[string]any{"device_id": "42", "section": "a"}, http.StatusBadRequest},
		{"pin out of range", map[string]any{"device_id": "42", "pin_param_id": 300, "section": "a"}, http.StatusBadRequest},
		{"not an input", map[string]any{"device_id": "42", "pin_param_id": 2, "section": "a"}, http.StatusBadRequest},
		{"unknown param", map[string]any{"device_id": "42", "pin_param_id": 99, "section": "a"}, http.StatusBadRequest},
		{"missing section", map[string]any{"device_id": "42", "pin_param_id": 8}, http.StatusBadRequest},
		{"invalid json", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/sensor-places", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	body := map[string]any{"device_id": "42", "pin_param_id": 9, "section": "a"}
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/sensor-places", body).Code)
	w := env.do(t, http.MethodPost, "/api/v1/sensor-places", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, ErrCodeConflict, decode[Error](t, w).Code)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodDelete, "/api/v1/sensor-places/zero", nil).Code)
}

// ─── Heartbeat and telemetry ───────────────────────────────────────

func TestHeartbeat(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/hubs/7/heartbeat", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, HeartbeatResponse{HubID: "7", Alive: false}, decode[HeartbeatResponse](t, w))

	env.cmd.alive = true
	w = env.do(t, http.MethodGet, "/api/v1/hubs/7/heartbeat", nil)
	assert.True(t, decode[HeartbeatResponse](t, w).Alive)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/hubs/a.b/heartbeat", nil).Code)
}

func TestTelemetry(t *testing.T) {
	env := newTestEnv(t)
	env.telemetry.readings = []influxdb.Reading{
		{Section: "greenhouse", DeviceID: "42", Pin: "8", Value: 1, EmbeddedTS: 1700000000},
	}

	before := time.Now()
	w := env.do(t, http.MethodGet, "/api/v1/telemetry/greenhouse?range=2h", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[struct {
		Section  string             `json:"section"`
		Readings []influxdb.Reading `json:"readings"`
		Count    int                `json:"count"`
	}](t, w)
	assert.Equal(t, "greenhouse", resp.Section)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, trf.DefaultMeasurement, env.telemetry.gotMeasurement)
	assert.Equal(t, "greenhouse", env.telemetry.gotSection)
	assert.WithinDuration(t, before.Add(-2*time.Hour), env.telemetry.gotSince, 5*time.Second)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/telemetry/x?range=soon", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/telemetry/x?range=-1h", nil).Code)

	env.telemetry.err = influxdb.ErrQueryFailed
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/api/v1/telemetry/x", nil).Code)
}

func TestTelemetry_Disabled(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Telemetry = nil })

	w := env.do(t, http.MethodGet, "/api/v1/telemetry/greenhouse", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, ErrCodeUnavailable, decode[Error](t, w).Code)
}

// ─── Ingest status and errors ──────────────────────────────────────

func TestIngestStatus(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Ingest = fakeIngest{snap: scheduler.Snapshot{
			TaskID:     "task-1",
			HasProject: true,
			Status:     scheduler.StatusStarted,
		}}
	})

	w := env.do(t, http.MethodGet, "/api/v1/ingest/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[scheduler.Snapshot](t, w)
	assert.Equal(t, "task-1", snap.TaskID)
	assert.Equal(t, scheduler.StatusStarted, snap.Status)
}

func TestIngestStatus_Unconfigured(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/api/v1/ingest/status", nil).Code)
}

func TestListErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.errorLog.Record(ctx, errors.New("first")))
	require.NoError(t, env.errorLog.Record(ctx, errors.New("second")))

	w := env.do(t, http.MethodGet, "/api/v1/errors?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		Errors []audit.ErrorEntry `json:"errors"`
	}](t, w)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "second", resp.Errors[0].Error)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/errors?limit=-2", nil).Code)
}

// ─── OTA ───────────────────────────────────────────────────────────

func TestOTADownload(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hub-v2.bin"), []byte("firmware"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(dir), "secret.txt"), []byte("nope"), 0o600))

	env := newTestEnv(t, func(d *Deps) { d.OTA.Dir = dir })

	w := env.do(t, http.MethodGet, "/api/v1/ota/hub-v2.bin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "firmware", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename=hub-v2.bin`)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/ota/missing.bin", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/ota/..%2Fsecret.txt", nil).Code)
}

func TestOTADownload_NoDirectory(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/ota/hub.bin", nil).Code)
}

// ─── Metrics ───────────────────────────────────────────────────────

// downBroker fails every operation, as a broker with no connection does.
type downBroker struct{}

var errBrokerDown = errors.New("mqtt: not connected")

func (downBroker) Publish(string, []byte) error            { return errBrokerDown }
func (downBroker) DeclareQueue(string, string, bool) error { return errBrokerDown }
func (downBroker) DeleteQueue(string) error                { return nil }
func (downBroker) Close() error                            { return nil }
func (downBroker) Consume(context.Context, string, func(string, []byte) error, bool) error {
	return errBrokerDown
}

func TestMetrics_ExposesTRFCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := trf.NewMetrics(reg)
	env := newTestEnv(t, func(d *Deps) {
		d.Gatherer = reg
		d.Commands = func() Commander {
			return trf.NewController(downBroker{}, trf.ControllerOptions{
				Timeout: 100 * time.Millisecond,
				Metrics: metrics,
			})
		}
	})

	w := env.do(t, http.MethodPost, "/api/v1/commands",
		map[string]any{"device_id": "7", "command_type": 4, "parameter_id": 8})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, string(trf.ReasonTransportDown), decode[CommandResponse](t, w).Reason)

	w = env.do(t, http.MethodGet, "/api/v1/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `trf_commands_total{op="get_param",outcome="transport_down"} 1`)
}
