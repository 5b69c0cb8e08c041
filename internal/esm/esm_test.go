package esm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/mme-emmd/internal/emmtypes"
)

func TestRequestPDNConnectivity_EmptyContainerIsDiscarded(t *testing.T) {
	p := NewSimulatedPeer(zap.NewNop())
	var got ActivateResult
	p.RequestPDNConnectivity(1, emmtypes.OctetString{}, func(r ActivateResult) { got = r })
	assert.Equal(t, StatusDiscarded, got.Status)
}

func TestRequestPDNConnectivity_SucceedsAndAllocatesDistinctBearers(t *testing.T) {
	p := NewSimulatedPeer(zap.NewNop())
	container := emmtypes.NewOctetString([]byte{0x01})

	var r1, r2 ActivateResult
	p.RequestPDNConnectivity(1, container, func(r ActivateResult) { r1 = r })
	p.RequestPDNConnectivity(2, container, func(r ActivateResult) { r2 = r })

	require.Equal(t, StatusSuccess, r1.Status)
	require.Equal(t, StatusSuccess, r2.Status)
	assert.NotEqual(t, r1.BearerID, r2.BearerID)
}
