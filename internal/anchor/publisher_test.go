package anchor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"khural/pkg/platform/circuit"
)

// =============================================================================
// HTTP Publisher Tests
// =============================================================================
// Justification for unit tests: the gateway breaker must shed load during an
// outage without latching — a transient outage in one weekly run must never
// disable anchoring for the process lifetime.

func TestHTTPPublisher_RecoversAfterGatewayOutage(t *testing.T) {
	var healthy atomic.Bool
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tx_hash":"0xabc"}`))
	}))
	defer server.Close()

	breaker := circuit.New("anchor-gateway", circuit.WithFailureThreshold(3))
	publisher, err := NewHTTPPublisher(server.URL, "0xcontract", WithBreaker(breaker))
	require.NoError(t, err)

	ctx := context.Background()

	// Enough consecutive failures to open the circuit.
	for i := 0; i < 3; i++ {
		_, err := publisher.Publish(ctx, "0xroot", CategoryVoteBatch, "VOTE_BATCH 2026-W34")
		require.Error(t, err)
	}
	require.True(t, breaker.IsOpen())

	// The gateway heals; the next publish must reach it instead of being shed.
	healthy.Store(true)
	before := hits.Load()

	txRef, err := publisher.Publish(ctx, "0xroot", CategoryVoteBatch, "VOTE_BATCH 2026-W35")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", txRef)
	assert.Greater(t, hits.Load(), before, "recovered gateway must receive the request")

	// A second success closes the circuit again.
	_, err = publisher.Publish(ctx, "0xroot", CategoryElectionResult, "ELECTION_RESULT 2026-W35")
	require.NoError(t, err)
	assert.False(t, breaker.IsOpen())
}

func TestHTTPPublisher_GatewayErrorSurfacesDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer server.Close()

	publisher, err := NewHTTPPublisher(server.URL, "0xcontract")
	require.NoError(t, err)

	_, err = publisher.Publish(context.Background(), "0xroot", CategorySignedLaw, "SIGNED_LAW 2026-W34")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestHTTPPublisher_MissingTxHashIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	publisher, err := NewHTTPPublisher(server.URL, "0xcontract")
	require.NoError(t, err)

	_, err = publisher.Publish(context.Background(), "0xroot", CategoryGeneral, "GENERAL 2026-W34")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transaction hash")
}
