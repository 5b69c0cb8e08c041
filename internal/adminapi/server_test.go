package adminapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cfgpkg "github.com/your-org/mme-emmd/internal/config"
	"github.com/your-org/mme-emmd/internal/emmtypes"
	"github.com/your-org/mme-emmd/internal/esm"
	"github.com/your-org/mme-emmd/internal/fsm"
	"github.com/your-org/mme-emmd/internal/identity"
	"github.com/your-org/mme-emmd/internal/nasas"
	"github.com/your-org/mme-emmd/internal/store"
	"github.com/your-org/mme-emmd/internal/timer"
)

func testServer() (*Server, *store.ContextStore) {
	s := store.NewContextStore()
	cfg := &cfgpkg.Config{}
	cfg.Admin.BindAddress = "127.0.0.1"
	cfg.Admin.Port = 18080
	return NewServer(cfg, s, nil, zap.NewNop()), s
}

func TestHandleHealth(t *testing.T) {
	srv, _ := testServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleListContexts_Empty(t *testing.T) {
	srv, _ := testServer()
	req := httptest.NewRequest(http.MethodGet, "/admin/contexts", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"contexts":[]`)
}

func TestHandleGetContext_Found(t *testing.T) {
	srv, s := testServer()
	ctx := store.NewEMMContext(7, true)
	ctx.FSMStatus = emmtypes.FSMRegistered
	ctx.IsAttached = true
	s.Insert(ctx)

	req := httptest.NewRequest(http.MethodGet, "/admin/contexts/7", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_attached":true`)
}

func TestHandleGetContext_NotFound(t *testing.T) {
	srv, _ := testServer()
	req := httptest.NewRequest(http.MethodGet, "/admin/contexts/99", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetContext_InvalidUEID(t *testing.T) {
	srv, _ := testServer()
	req := httptest.NewRequest(http.MethodGet, "/admin/contexts/not-a-number", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func serverWithMachine(t *testing.T) (*Server, *store.ContextStore) {
	t.Helper()
	cfg := &cfgpkg.Config{}
	cfg.Admin.BindAddress = "127.0.0.1"
	cfg.Admin.Port = 18081
	cfg.GUAMI = cfgpkg.GUAMIConfig{MCC: "001", MNC: "01", MMEGID: 1, MMECode: 1, TAC: 100, NumTACs: 1}
	cfg.Timers = cfgpkg.TimersConfig{T3450: 30 * time.Millisecond, T3460: time.Second, T3470: time.Second, AttachCounterMax: 5}
	cfg.UEID = cfgpkg.UEIDRangeConfig{Min: 1, Max: 1000000}
	cfg.Features = cfgpkg.FeaturesConfig{EmergencyAttach: true, UnauthenticatedIMSI: true}

	s := store.NewContextStore()
	ti := timer.NewController()
	bufs := store.NewBufferRegistry()
	ident := identity.NewSimulatedProvider(identity.GUTIConfig{
		PLMN:    emmtypes.PLMNID{MCC: cfg.GUAMI.MCC, MNC: cfg.GUAMI.MNC},
		MMEGID:  cfg.GUAMI.MMEGID,
		MMECode: cfg.GUAMI.MMECode,
		TAC:     cfg.GUAMI.TAC,
		NumTACs: cfg.GUAMI.NumTACs,
	}, zap.NewNop())
	ident.AddSubscriber(&identity.SubscriberRecord{IMSI: "001010000000001", K: make([]byte, 16), OPc: make([]byte, 16), AMF: []byte{0x80, 0x00}})
	s.SetObserver(ident.NotifyUEIDChanged)

	esmPeer := esm.NewSimulatedPeer(zap.NewNop())
	asPeer := nasas.NewSimulatedPeer(zap.NewNop())
	machine := fsm.New(cfg, s, ti, bufs, ident, esmPeer, asPeer, nil, zap.NewNop())

	return NewServer(cfg, s, machine, zap.NewNop()), s
}

func TestHandleAttachRequest_ReachesMachine(t *testing.T) {
	srv, s := serverWithMachine(t)

	body, err := json.Marshal(emmtypes.AttachRequest{
		UEID: 42,
		Type: emmtypes.AttachTypeEmergency,
		IMSI: "001010000000001",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/nas/attach-request", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	_, found := s.GetByUEID(42)
	assert.True(t, found)
}

func TestHandleAttachRequest_InvalidBody(t *testing.T) {
	srv, _ := serverWithMachine(t)

	req := httptest.NewRequest(http.MethodPost, "/nas/attach-request", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAttachComplete_UnknownUEID(t *testing.T) {
	srv, _ := serverWithMachine(t)

	req := httptest.NewRequest(http.MethodPost, "/nas/attach-complete/99", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	// OnAttachComplete logs and returns nil for an unknown ue_id rather
	// than erroring, so the shim reports success.
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNasRoutes_AbsentWithoutMachine(t *testing.T) {
	srv, _ := testServer()
	req := httptest.NewRequest(http.MethodPost, "/nas/attach-request", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
