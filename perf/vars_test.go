package perf

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionCounts(t *testing.T) {
	before := testutil.ToFloat64(Decisions.WithLabelValues("arp", "flood"))
	Decision("arp", "flood")
	Decision("arp", "flood")
	assert.Equal(t, before+2, testutil.ToFloat64(Decisions.WithLabelValues("arp", "flood")))

	snap, err := Snapshot()
	require.NoError(t, err)
	assert.Equal(t, before+2, snap["sdnproxy_decisions_total{decision=flood,kind=arp}"])
}

func TestHandlerServesDecisions(t *testing.T) {
	Decision("ndp", "proxy_reply")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sdnproxy_decisions_total{decision="proxy_reply",kind="ndp"}`)
}
