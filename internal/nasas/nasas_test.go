package nasas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/your-org/mme-emmd/internal/emmtypes"
)

func TestEstablishReq_AlwaysAccepts(t *testing.T) {
	p := NewSimulatedPeer(zap.NewNop())
	var got EstablishResult
	p.EstablishReq(1, func(r EstablishResult) { got = r })
	assert.True(t, got.Accepted)
}

func TestRunCommonProcedure_CallsSuccess(t *testing.T) {
	p := NewSimulatedPeer(zap.NewNop())
	var succeeded bool
	p.RunCommonProcedure(1, CommonProcedureAuthentication, func() { succeeded = true }, func(emmtypes.EMMCause) {})
	assert.True(t, succeeded)
}
