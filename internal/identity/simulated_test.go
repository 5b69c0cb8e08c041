package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/mme-emmd/internal/emmtypes"
)

func newTestProvider() *SimulatedProvider {
	cfg := GUTIConfig{
		PLMN:             emmtypes.PLMNID{MCC: "001", MNC: "01"},
		MMEGID:           1,
		MMECode:          1,
		TAC:              100,
		NumTACs:          1,
		ServingNetworkID: []byte("00101"),
	}
	p := NewSimulatedProvider(cfg, zap.NewNop())
	p.AddSubscriber(&SubscriberRecord{
		IMSI: "001010000000001",
		K:    make([]byte, 16),
		OPc:  make([]byte, 16),
		AMF:  []byte{0x80, 0x00},
	})
	p.AddIMEI("490154203237518")
	return p
}

func TestIdentifyIMSI(t *testing.T) {
	p := newTestProvider()
	assert.True(t, p.IdentifyIMSI(1, "001010000000001"))
	assert.False(t, p.IdentifyIMSI(1, "999999999999999"))
}

func TestIdentifyIMEI(t *testing.T) {
	p := newTestProvider()
	assert.True(t, p.IdentifyIMEI(1, "490154203237518"))
	assert.False(t, p.IdentifyIMEI(1, "000000000000000"))
}

func TestNewGUTI_UnknownIMSIErrors(t *testing.T) {
	p := newTestProvider()
	_, _, _, err := p.NewGUTI("999999999999999")
	assert.Error(t, err)
}

func TestNewGUTI_KnownIMSIAllocatesAndIsRecognizable(t *testing.T) {
	p := newTestProvider()
	guti, tac, nTacs, err := p.NewGUTI("001010000000001")
	require.NoError(t, err)
	assert.Equal(t, uint16(100), tac)
	assert.Equal(t, 1, nTacs)
	assert.True(t, p.IdentifyGUTI(1, guti))
}

func TestNewGUTI_PLMNDerivedFromIMSINotStaticConfig(t *testing.T) {
	p := newTestProvider() // configured PLMN is MCC 001 / MNC 01
	p.AddSubscriber(&SubscriberRecord{
		IMSI: "310150000000001", // MCC 310 uses a 3-digit MNC per mncLengthTable
		K:    make([]byte, 16),
		OPc:  make([]byte, 16),
		AMF:  []byte{0x80, 0x00},
	})

	guti, _, _, err := p.NewGUTI("310150000000001")
	require.NoError(t, err)
	assert.Equal(t, "310", guti.GUMMEI.PLMN.MCC)
	assert.Equal(t, "150", guti.GUMMEI.PLMN.MNC)
}

func TestNewGUTI_ShortIMSIErrors(t *testing.T) {
	p := newTestProvider()
	p.AddSubscriber(&SubscriberRecord{IMSI: "0010", K: make([]byte, 16), OPc: make([]byte, 16), AMF: []byte{0x80, 0x00}})
	_, _, _, err := p.NewGUTI("0010")
	assert.Error(t, err)
}

func TestNewGUTI_AllocatesDistinctMTMSIs(t *testing.T) {
	p := newTestProvider()
	g1, _, _, err := p.NewGUTI("001010000000001")
	require.NoError(t, err)
	g2, _, _, err := p.NewGUTI("001010000000001")
	require.NoError(t, err)
	assert.NotEqual(t, g1.MTMSI, g2.MTMSI)
}

func TestAuthInfoReq_DeliversVectorAsynchronously(t *testing.T) {
	p := newTestProvider()
	done := make(chan AuthVectorResult, 1)
	p.AuthInfoReq(1, "001010000000001", 1, emmtypes.PLMNID{MCC: "001", MNC: "01"}, func(r AuthVectorResult) {
		done <- r
	})

	select {
	case r := <-done:
		require.NoError(t, r.Err)
		require.NotNil(t, r.Vector)
		assert.Len(t, r.Vector.RAND, 16)
		assert.Len(t, r.Vector.AUTN, 16)
		assert.NotEmpty(t, r.Vector.KASME)
	case <-time.After(time.Second):
		t.Fatal("auth vector never delivered")
	}
}

func TestAuthInfoReq_UnknownIMSIErrors(t *testing.T) {
	p := newTestProvider()
	done := make(chan AuthVectorResult, 1)
	p.AuthInfoReq(1, "999999999999999", 1, emmtypes.PLMNID{}, func(r AuthVectorResult) {
		done <- r
	})

	select {
	case r := <-done:
		assert.Error(t, r.Err)
	case <-time.After(time.Second):
		t.Fatal("callback never invoked")
	}
}

func TestFindMNCLength(t *testing.T) {
	p := newTestProvider()

	n, err := p.FindMNCLength("310", "410")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = p.FindMNCLength("001", "01")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = p.FindMNCLength("01", "01")
	assert.Error(t, err)
}
