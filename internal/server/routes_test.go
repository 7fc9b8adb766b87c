package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lrp/dvi2mqtt/internal/core/domain"
	"github.com/lrp/dvi2mqtt/pkg/dvi_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
)

// stubBridge answers the requests the routes send to the bridge.
func stubBridge(t *testing.T, healthy bool, reading *domain.Reading) *Server {
	as := actor.NewActorSystem()
	t.Cleanup(as.Shutdown)

	pid := as.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		switch ctx.Message().(type) {
		case domain.ActorHealthRequest:
			ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_BRIDGE, Healthy: healthy})
		case domain.GetReadingRequest:
			if reading == nil {
				ctx.Respond(domain.GetReadingResponse{})
			} else {
				ctx.Respond(domain.GetReadingResponse{Reading: *reading, Valid: true})
			}
		case domain.GetStatusRequest:
			ctx.Respond(domain.GetStatusResponse{Status: domain.BridgeStatus{
				State:  domain.BridgeDegraded,
				Serial: domain.LinkDisconnected,
				MQTT:   domain.LinkConnected,
			}})
		}
	}))
	return &Server{
		rootContext: as.Root,
		bridgeActor: pid,
		metricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("dvi2mqtt_bridge_state 1\n"))
		}),
	}
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.RegisterRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthCheck(t *testing.T) {

	assert := assert.New(t)

	rec := get(stubBridge(t, true, nil), "/healthcheck")
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal("health_check: OK", rec.Body.String())

	rec = get(stubBridge(t, false, nil), "/healthcheck")
	assert.Equal(http.StatusServiceUnavailable, rec.Code)
}

func TestState(t *testing.T) {

	assert := assert.New(t)

	rec := get(stubBridge(t, true, nil), "/state")
	assert.Equal(http.StatusNotFound, rec.Code, "no reading yet")

	reading := domain.NewReading().Merge(&dvi_modbus.Sample{
		Group:    dvi_modbus.GroupSettings,
		Settings: map[string]float64{dvi_modbus.SettingCVMode: 1},
	}, time.Now())
	rec = get(stubBridge(t, true, &reading), "/state")
	assert.Equal(http.StatusOK, rec.Code)
	assert.Contains(rec.Body.String(), `"mode":"heat"`)
}

func TestStatusAndMetrics(t *testing.T) {

	assert := assert.New(t)

	s := stubBridge(t, true, nil)
	rec := get(s, "/status")
	assert.Equal(http.StatusOK, rec.Code)
	assert.JSONEq(`{"state":"degraded","serial":"disconnected","mqtt":"connected"}`, rec.Body.String())

	rec = get(s, "/metrics")
	assert.Equal(http.StatusOK, rec.Code)
	assert.Contains(rec.Body.String(), "dvi2mqtt_bridge_state")
}
