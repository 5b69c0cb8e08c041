package identity

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/mme-emmd/internal/emmtypes"
)

// mtmsiCounter disambiguates m_tmsi values allocated within the same
// process tick; the uuid hash alone already makes collisions implausible,
// this just removes any doubt (TS 24.301 §9: "pick something that is actually
// guaranteed unique, e.g. a counter or a UUID-derived value — don't
// pointer-cast for uniqueness").
var mtmsiCounter uint32

// NewMTMSI allocates a fresh, practically-unique M-TMSI.
func NewMTMSI() uint32 {
	id := uuid.New()
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return h.Sum32() ^ atomic.AddUint32(&mtmsiCounter, 1)
}

// SubscriberRecord is one entry of the simulated subscriber database:
// the long-term key material MILENAGE needs to produce vectors.
type SubscriberRecord struct {
	IMSI string
	K    []byte // 128-bit subscriber key
	OPc  []byte // 128-bit operator variant
	SQN  uint64 // 48-bit sequence number counter
	AMF  []byte // 16-bit authentication management field
}

// GUTIConfig is the allocator configuration new GUTIs are synthesized
// from (TS 24.301 §4.4 step 5, §6 new_guti).
type GUTIConfig struct {
	PLMN             emmtypes.PLMNID
	MMEGID           uint16
	MMECode          uint8
	TAC              uint16
	NumTACs          int
	ServingNetworkID []byte // fed to the KASME KDF
}

// SimulatedProvider is a self-contained stand-in for the external
// identity-mapping/HSS-like collaborator of TS 24.301 §6. Production
// deployments would replace it with a client to whatever subscriber
// store and HSS front-end the network operates; this implementation
// exists so the Attach core is independently testable without a live
// network element.
type SimulatedProvider struct {
	mu sync.Mutex

	subscribers map[string]*SubscriberRecord // by IMSI
	validIMEIs  map[string]bool
	knownGUTIs  map[emmtypes.GUTI]string // GUTI -> IMSI

	guti   GUTIConfig
	logger *zap.Logger
}

// NewSimulatedProvider constructs an empty provider; use AddSubscriber and
// AddIMEI to seed it.
func NewSimulatedProvider(guti GUTIConfig, logger *zap.Logger) *SimulatedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulatedProvider{
		subscribers: make(map[string]*SubscriberRecord),
		validIMEIs:  make(map[string]bool),
		knownGUTIs:  make(map[emmtypes.GUTI]string),
		guti:        guti,
		logger:      logger,
	}
}

func (p *SimulatedProvider) AddSubscriber(rec *SubscriberRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers[rec.IMSI] = rec
}

func (p *SimulatedProvider) AddIMEI(imei string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validIMEIs[imei] = true
}

func (p *SimulatedProvider) IdentifyIMSI(ueID uint32, imsi string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.subscribers[imsi]
	return ok
}

func (p *SimulatedProvider) IdentifyIMEI(ueID uint32, imei string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.validIMEIs[imei]
}

func (p *SimulatedProvider) IdentifyGUTI(ueID uint32, guti emmtypes.GUTI) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.knownGUTIs[guti]
	return ok
}

func (p *SimulatedProvider) NewGUTI(imsi string) (emmtypes.GUTI, uint16, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	plmn := p.guti.PLMN
	if imsi != "" {
		if _, ok := p.subscribers[imsi]; !ok {
			return emmtypes.GUTI{}, 0, 0, fmt.Errorf("identity: unknown IMSI %q", imsi)
		}
		derived, err := p.plmnFromIMSI(imsi)
		if err != nil {
			return emmtypes.GUTI{}, 0, 0, err
		}
		plmn = derived
	}

	guti := emmtypes.GUTI{
		GUMMEI: emmtypes.GUMMEI{
			PLMN:    plmn,
			MMEGID:  p.guti.MMEGID,
			MMECode: p.guti.MMECode,
		},
		MTMSI: NewMTMSI(),
	}
	if imsi != "" {
		p.knownGUTIs[guti] = imsi
	}
	return guti, p.guti.TAC, p.guti.NumTACs, nil
}

// plmnFromIMSI derives the GUMMEI's PLMN from imsi's own MCC/MNC digits
// (TS 24.301 §4.4 step 5), rather than reusing the statically configured
// PLMN, looking up the MNC length via FindMNCLength and rejecting the IMSI
// if it resolves to neither 2 nor 3 digits.
func (p *SimulatedProvider) plmnFromIMSI(imsi string) (emmtypes.PLMNID, error) {
	if len(imsi) < 5 {
		return emmtypes.PLMNID{}, fmt.Errorf("identity: IMSI %q too short to derive MCC/MNC", imsi)
	}
	mcc := imsi[0:3]
	candidate := imsi[3:5]
	mncLen, err := p.FindMNCLength(mcc, candidate)
	if err != nil {
		return emmtypes.PLMNID{}, fmt.Errorf("identity: deriving GUTI PLMN from imsi %q: %w", imsi, err)
	}
	if len(imsi) < 3+mncLen {
		return emmtypes.PLMNID{}, fmt.Errorf("identity: IMSI %q too short for a %d-digit MNC", imsi, mncLen)
	}
	return emmtypes.PLMNID{MCC: mcc, MNC: imsi[3 : 3+mncLen]}, nil
}

func (p *SimulatedProvider) AuthInfoReq(ueID uint32, imsi string, numVectors int, lastVisitedPLMN emmtypes.PLMNID, onResult func(AuthVectorResult)) {
	go func() {
		p.mu.Lock()
		rec, ok := p.subscribers[imsi]
		if ok {
			rec.SQN++
		}
		sqn := make([]byte, 6)
		if ok {
			s := rec.SQN
			for i := 5; i >= 0; i-- {
				sqn[i] = byte(s)
				s >>= 8
			}
		}
		var k, opc, amf []byte
		if ok {
			k, opc, amf = rec.K, rec.OPc, rec.AMF
		}
		servingNetID := p.guti.ServingNetworkID
		p.mu.Unlock()

		if !ok {
			onResult(AuthVectorResult{Err: fmt.Errorf("identity: unknown IMSI %q", imsi)})
			return
		}

		vec, err := generateVector(k, opc, sqn, amf, servingNetID)
		if err != nil {
			onResult(AuthVectorResult{Err: err})
			return
		}
		onResult(AuthVectorResult{Vector: &emmtypes.AuthVector{
			RAND:  vec.RAND,
			AUTN:  vec.AUTN,
			XRES:  vec.XRES,
			KASME: vec.KASME,
		}})
	}()
}

func (p *SimulatedProvider) NotifyUEIDChanged(old, new uint32) {
	p.logger.Debug("identity: ue_id rebound", zap.Uint32("old", old), zap.Uint32("new", new))
}

func (p *SimulatedProvider) NotifyNewGUTI(ueID uint32, guti emmtypes.GUTI) {
	p.logger.Debug("identity: ue assigned new guti", zap.Uint32("ue_id", ueID), zap.Uint32("m_tmsi", guti.MTMSI))
}

// mncLengthTable lists the MCCs whose MNCs are taken as 3 digits; every
// other MCC defaults to a 2-digit MNC. This is the same
// kind of small static table carriers ship in their HSS/HLR provisioning
// data — not derived from any ground-truth source here, so treat it as a
// reasonable default rather than an authoritative ITU table.
var mncLengthTable = map[string]int{
	"310": 3, // USA carriers commonly use 3-digit MNCs
	"311": 3,
	"312": 3,
	"313": 3,
	"316": 3,
}

func (p *SimulatedProvider) FindMNCLength(mcc string, mncCandidate string) (int, error) {
	if len(mcc) != 3 {
		return 0, fmt.Errorf("identity: MCC must be 3 digits, got %q", mcc)
	}
	if n, ok := mncLengthTable[mcc]; ok {
		return n, nil
	}
	switch len(mncCandidate) {
	case 2, 3:
		return 2, nil
	default:
		return 0, fmt.Errorf("identity: cannot resolve MNC length for MCC %q", mcc)
	}
}
