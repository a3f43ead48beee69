package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("stompctl", "GET", "/health", 200, 12*time.Millisecond)
	RecordConnectAttempt("127.0.0.1:61613", "refused", 3*time.Millisecond)
	RecordFrameReceived("127.0.0.1:61613", "MESSAGE")
	RecordFrameSent("127.0.0.1:61613", "SEND")
	RecordObserverFailure("MESSAGE")

	log.Info().Msg("observability/metrics: registration idempotent and recording paths executed")
}

func TestSetConnectionStateIsExclusive(t *testing.T) {
	states := []string{"idle", "connecting", "connected", "closed"}
	SetConnectionState("broker-a:61613", "connecting", states)
	SetConnectionState("broker-a:61613", "connected", states)

	if got := testutil.ToFloat64(connectionState.WithLabelValues("broker-a:61613", "connected")); got != 1 {
		t.Fatalf("connected gauge=%v", got)
	}
	if got := testutil.ToFloat64(connectionState.WithLabelValues("broker-a:61613", "connecting")); got != 0 {
		t.Fatalf("connecting gauge=%v", got)
	}
}

func TestAdminRequestsCountsUnmatchedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AdminRequests(zerolog.Nop(), "obs-test"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/health", "/health", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(httpRequests.WithLabelValues("obs-test", "GET", "/health", "200")); got != 2 {
		t.Fatalf("health count=%v", got)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("obs-test", "GET", "unmatched", "404")); got != 1 {
		t.Fatalf("unmatched count=%v", got)
	}
}
