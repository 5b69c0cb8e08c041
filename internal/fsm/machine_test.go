package fsm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cfgpkg "github.com/your-org/mme-emmd/internal/config"
	"github.com/your-org/mme-emmd/internal/emmtypes"
	"github.com/your-org/mme-emmd/internal/esm"
	"github.com/your-org/mme-emmd/internal/identity"
	"github.com/your-org/mme-emmd/internal/nasas"
	"github.com/your-org/mme-emmd/internal/store"
	"github.com/your-org/mme-emmd/internal/timer"
)

// recordingPeer wraps nasas.SimulatedPeer and records every primitive
// emitted toward the access stratum, so tests can assert on the
// end-to-end scenarios of TS 24.301 §8 without a real NGAP/RRC stack.
type recordingPeer struct {
	*nasas.SimulatedPeer

	mu           sync.Mutex
	accepts      []nasas.AttachAcceptParams
	rejects      []emmtypes.EMMCause
	aborts       []uint32
	attachCNF    []uint32
	attachFailed []emmtypes.EMMCause
}

func newRecordingPeer() *recordingPeer {
	return &recordingPeer{SimulatedPeer: nasas.NewSimulatedPeer(zap.NewNop())}
}

func (p *recordingPeer) AttachAccept(params nasas.AttachAcceptParams) {
	p.mu.Lock()
	p.accepts = append(p.accepts, params)
	p.mu.Unlock()
	p.SimulatedPeer.AttachAccept(params)
}

func (p *recordingPeer) AttachReject(ueID uint32, cause emmtypes.EMMCause, c emmtypes.OctetString) {
	p.mu.Lock()
	p.rejects = append(p.rejects, cause)
	p.mu.Unlock()
	p.SimulatedPeer.AttachReject(ueID, cause, c)
}

func (p *recordingPeer) ProcAbort(ueID uint32) {
	p.mu.Lock()
	p.aborts = append(p.aborts, ueID)
	p.mu.Unlock()
	p.SimulatedPeer.ProcAbort(ueID)
}

func (p *recordingPeer) NotifyAttachSuccess(ueID uint32) {
	p.mu.Lock()
	p.attachCNF = append(p.attachCNF, ueID)
	p.mu.Unlock()
	p.SimulatedPeer.NotifyAttachSuccess(ueID)
}

func (p *recordingPeer) NotifyAttachFailure(ueID uint32, cause emmtypes.EMMCause) {
	p.mu.Lock()
	p.attachFailed = append(p.attachFailed, cause)
	p.mu.Unlock()
	p.SimulatedPeer.NotifyAttachFailure(ueID, cause)
}

func (p *recordingPeer) attachFailedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.attachFailed)
}

func (p *recordingPeer) acceptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accepts)
}

func (p *recordingPeer) rejectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rejects)
}

func (p *recordingPeer) abortCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.aborts)
}

func testConfig() *cfgpkg.Config {
	cfg := &cfgpkg.Config{}
	cfg.NF.Name = "mme-emmd-test"
	cfg.NF.InstanceID = "test-1"
	cfg.Admin.Port = 8081
	cfg.GUAMI = cfgpkg.GUAMIConfig{MCC: "001", MNC: "01", MMEGID: 1, MMECode: 1, TAC: 100, NumTACs: 1}
	cfg.Timers = cfgpkg.TimersConfig{T3450: 30 * time.Millisecond, T3460: time.Second, T3470: time.Second, AttachCounterMax: 5}
	cfg.UEID = cfgpkg.UEIDRangeConfig{Min: 1, Max: 1000000}
	cfg.Features = cfgpkg.FeaturesConfig{EmergencyAttach: false, UnauthenticatedIMSI: false, IdentifyOnGUTILookupFailureOnly: true}
	return cfg
}

type harness struct {
	machine *Machine
	store   *store.ContextStore
	ident   *identity.SimulatedProvider
	as      *recordingPeer
}

func newHarness(cfg *cfgpkg.Config) *harness {
	return newHarnessWithESM(cfg, esm.NewSimulatedPeer(zap.NewNop()))
}

func newHarnessWithESM(cfg *cfgpkg.Config, esmPeer esm.Peer) *harness {
	s := store.NewContextStore()
	ti := timer.NewController()
	bufs := store.NewBufferRegistry()
	ident := identity.NewSimulatedProvider(identity.GUTIConfig{
		PLMN:             emmtypes.PLMNID{MCC: cfg.GUAMI.MCC, MNC: cfg.GUAMI.MNC},
		MMEGID:           cfg.GUAMI.MMEGID,
		MMECode:          cfg.GUAMI.MMECode,
		TAC:              cfg.GUAMI.TAC,
		NumTACs:          cfg.GUAMI.NumTACs,
		ServingNetworkID: []byte("00101"),
	}, zap.NewNop())
	ident.AddSubscriber(&identity.SubscriberRecord{IMSI: "001010000000001", K: make([]byte, 16), OPc: make([]byte, 16), AMF: []byte{0x80, 0x00}})

	asPeer := newRecordingPeer()

	s.SetObserver(ident.NotifyUEIDChanged)

	m := New(cfg, s, ti, bufs, ident, esmPeer, asPeer, nil, zap.NewNop())
	return &harness{machine: m, store: s, ident: ident, as: asPeer}
}

// failingESMPeer always rejects PDN connectivity with StatusFailure,
// carrying whatever container the test configures — used to exercise the
// emmAttach default (reject) branch and its ESM-PDU-missing fatal case.
type failingESMPeer struct {
	*esm.SimulatedPeer
	container emmtypes.OctetString
}

func (p *failingESMPeer) RequestPDNConnectivity(ueID uint32, esmContainer emmtypes.OctetString, onResult func(esm.ActivateResult)) {
	onResult(esm.ActivateResult{Status: esm.StatusFailure, ESMContainer: p.container})
}

func baseRequest(ueID uint32) *emmtypes.AttachRequest {
	return &emmtypes.AttachRequest{
		UEID:         ueID,
		Type:         emmtypes.AttachTypeEPS,
		IMSI:         "001010000000001",
		Capabilities: emmtypes.Capabilities{EEA: 0xF0, EIA: 0xF0},
		ESMContainer: emmtypes.NewOctetString([]byte{0x01, 0x02}),
	}
}

// Scenario 1: clean IMSI attach, no prior context.
func TestScenario_CleanIMSIAttach(t *testing.T) {
	h := newHarness(testConfig())
	req := baseRequest(7)

	require.NoError(t, h.machine.OnAttachRequest(context.Background(), req))

	require.Eventually(t, func() bool { return h.as.acceptCount() == 1 }, time.Second, time.Millisecond)

	ctx, found := h.store.GetByUEID(7)
	require.True(t, found)
	ctx.Lock()
	assert.Equal(t, emmtypes.FSMRegisteredInitiated, ctx.FSMStatus)
	require.NotNil(t, ctx.GUTI)
	assert.NotZero(t, ctx.GUTI.MTMSI)
	t3450 := ctx.T3450
	ctx.Unlock()
	assert.NotEqual(t, emmtypes.NASTimerInactiveID, t3450)

	require.NoError(t, h.machine.OnAttachComplete(context.Background(), 7, emmtypes.NewOctetString([]byte{0x09})))

	ctx, found = h.store.GetByUEID(7)
	require.True(t, found)
	ctx.Lock()
	assert.True(t, ctx.IsAttached)
	assert.Equal(t, emmtypes.FSMRegistered, ctx.FSMStatus)
	assert.Equal(t, emmtypes.NASTimerInactiveID, ctx.T3450)
	ctx.Unlock()
}

// Scenario 2: duplicate request produces no new ATTACH ACCEPT.
func TestScenario_DuplicateRequest(t *testing.T) {
	h := newHarness(testConfig())
	req := baseRequest(7)

	require.NoError(t, h.machine.OnAttachRequest(context.Background(), req))
	require.Eventually(t, func() bool { return h.as.acceptCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.machine.OnAttachRequest(context.Background(), req))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.as.acceptCount(), "duplicate must not produce a new accept")
}

// Scenario 3: changed capabilities trigger one proc-abort then a fresh cycle.
func TestScenario_ChangedCapabilitiesRestartsAttach(t *testing.T) {
	h := newHarness(testConfig())
	req := baseRequest(7)

	require.NoError(t, h.machine.OnAttachRequest(context.Background(), req))
	require.Eventually(t, func() bool { return h.as.acceptCount() == 1 }, time.Second, time.Millisecond)

	changed := baseRequest(7)
	changed.Capabilities.EEA = 0x70

	require.NoError(t, h.machine.OnAttachRequest(context.Background(), changed))
	require.Eventually(t, func() bool { return h.as.acceptCount() == 2 }, time.Second, time.Millisecond)

	assert.GreaterOrEqual(t, h.as.abortCount(), 1)

	ctx, found := h.store.GetByUEID(7)
	require.True(t, found)
	ctx.Lock()
	assert.Equal(t, uint8(0x70), ctx.Capabilities.EEA)
	ctx.Unlock()
}

// Scenario 4: GUTI re-attach on a new radio ID rebinds the context.
func TestScenario_GUTIReattachOnNewUEID(t *testing.T) {
	h := newHarness(testConfig())
	first := baseRequest(7)

	require.NoError(t, h.machine.OnAttachRequest(context.Background(), first))
	require.Eventually(t, func() bool { return h.as.acceptCount() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, h.machine.OnAttachComplete(context.Background(), 7, emmtypes.OctetString{}))

	ctx, found := h.store.GetByUEID(7)
	require.True(t, found)
	ctx.Lock()
	guti := *ctx.GUTI
	ctx.Unlock()

	second := &emmtypes.AttachRequest{
		UEID:         12,
		Type:         emmtypes.AttachTypeEPS,
		GUTI:         &guti,
		Capabilities: emmtypes.Capabilities{EEA: 0xF0, EIA: 0xF0},
		ESMContainer: emmtypes.NewOctetString([]byte{0x01}),
	}
	require.NoError(t, h.machine.OnAttachRequest(context.Background(), second))

	_, stillAtSeven := h.store.GetByUEID(7)
	assert.False(t, stillAtSeven)

	moved, found := h.store.GetByUEID(12)
	require.True(t, found)
	moved.Lock()
	assert.Equal(t, "001010000000001", moved.IMSI)
	moved.Unlock()
}

// Scenario 5: emergency attach rejected when the feature is disabled.
func TestScenario_EmergencyAttachDisabled(t *testing.T) {
	h := newHarness(testConfig()) // EmergencyAttach: false
	req := baseRequest(9)
	req.Type = emmtypes.AttachTypeEmergency

	require.NoError(t, h.machine.OnAttachRequest(context.Background(), req))

	assert.Equal(t, 1, h.as.rejectCount())
	_, found := h.store.GetByUEID(9)
	assert.False(t, found, "no context may be created")
}

// Scenario 6: T3450 exhaustion aborts silently after bounded retries.
func TestScenario_RetransmissionExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.Timers.T3450 = 10 * time.Millisecond
	cfg.Timers.AttachCounterMax = 3
	h := newHarness(cfg)
	req := baseRequest(7)

	require.NoError(t, h.machine.OnAttachRequest(context.Background(), req))
	require.Eventually(t, func() bool { return h.as.acceptCount() == 1 }, time.Second, time.Millisecond)

	// Never send ATTACH COMPLETE; wait for the retry bound to exhaust.
	require.Eventually(t, func() bool { return h.as.abortCount() >= 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, cfg.Timers.AttachCounterMax, h.as.acceptCount(), "one accept plus (max-1) retransmissions")
	assert.Equal(t, 0, h.as.rejectCount(), "retry exhaustion must not send a wire-level ATTACH REJECT")
	assert.Equal(t, 1, h.as.attachFailedCount(), "retry exhaustion reports an internal EMMREG_ATTACH_REJ only")
	_, found := h.store.GetByUEID(7)
	assert.False(t, found, "context must be released after abort")
}

// Scenario 7: ESM rejects PDN connectivity with a cause payload attached;
// this must produce a normal wire-level ATTACH REJECT carrying ESM_FAILURE.
func TestScenario_ESMFailureWithContainerSendsWireReject(t *testing.T) {
	cfg := testConfig()
	esmPeer := &failingESMPeer{
		SimulatedPeer: esm.NewSimulatedPeer(zap.NewNop()),
		container:     emmtypes.NewOctetString([]byte{0x0e, 0x01}),
	}
	h := newHarnessWithESM(cfg, esmPeer)
	req := baseRequest(7)

	require.NoError(t, h.machine.OnAttachRequest(context.Background(), req))

	require.Eventually(t, func() bool { return h.as.rejectCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, emmtypes.EMMCauseESMFailure, h.as.rejects[0])
}

// Scenario 8: ESM rejects PDN connectivity with no ESM PDU attached. This is
// a fatal internal inconsistency: no wire-level REJECT is sent, the context
// is released outright.
func TestScenario_ESMFailureWithoutContainerIsFatalInternalOnly(t *testing.T) {
	cfg := testConfig()
	esmPeer := &failingESMPeer{
		SimulatedPeer: esm.NewSimulatedPeer(zap.NewNop()),
		container:     emmtypes.OctetString{},
	}
	h := newHarnessWithESM(cfg, esmPeer)
	req := baseRequest(7)

	require.NoError(t, h.machine.OnAttachRequest(context.Background(), req))

	require.Eventually(t, func() bool {
		_, found := h.store.GetByUEID(7)
		return !found
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, h.as.rejectCount(), "missing esm pdu must not produce a wire-level ATTACH REJECT")
}
