// Package emmtypes holds the wire-adjacent value types shared across the
// EMM Attach core: EMM causes, FSM states, identities, security context and
// the small SAP primitives exchanged with ESM and the access stratum.
//
// None of these types know how to encode themselves onto NAS PDUs — that is
// the codec's job (out of scope, see TS 24.301 §1) — they only carry the fields
// the Attach procedure reasons about.
package emmtypes

// EMMCause mirrors the EMM cause codes of 3GPP TS 24.301 Annex A that the
// Attach procedure can surface to the UE.
type EMMCause uint8

const (
	EMMCauseSuccess        EMMCause = 0
	EMMCauseIllegalUE      EMMCause = 3
	EMMCauseIMEINotAccepted EMMCause = 5
	EMMCauseESMFailure     EMMCause = 14
	EMMCauseProtocolError  EMMCause = 111
)

func (c EMMCause) String() string {
	switch c {
	case EMMCauseSuccess:
		return "SUCCESS"
	case EMMCauseIllegalUE:
		return "ILLEGAL_UE"
	case EMMCauseIMEINotAccepted:
		return "IMEI_NOT_ACCEPTED"
	case EMMCauseESMFailure:
		return "ESM_FAILURE"
	case EMMCauseProtocolError:
		return "PROTOCOL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// FSMStatus is the subset of EMM FSM states relevant to Attach (TS 24.301 §4.4).
type FSMStatus string

const (
	FSMInvalid                    FSMStatus = "INVALID"
	FSMDeregistered               FSMStatus = "DEREGISTERED"
	FSMRegisteredInitiated        FSMStatus = "REGISTERED_INITIATED"
	FSMRegistered                 FSMStatus = "REGISTERED"
	FSMDeregisteredInitiated      FSMStatus = "DEREGISTERED_INITIATED"
	FSMCommonProcedureInitiated   FSMStatus = "COMMON_PROCEDURE_INITIATED"
)

// Sentinel timer handle meaning "no timer running" (TS 24.301 §3, §6).
const NASTimerInactiveID uint32 = 0

// AttachCounterMax bounds T3450 retransmissions (TS 24.301 §4.4, §8).
const AttachCounterMax = 5

// AttachType distinguishes EPS vs combined vs emergency attach (TS 24.301 §4.4 step 2).
type AttachType uint8

const (
	AttachTypeEPS AttachType = iota
	AttachTypeEmergency
	AttachTypeCombinedEPSIMSI
)

// OctetString is a length-prefixed opaque payload — the ESM container, the
// last EMM cause's NAS payload, and similar fields use this shape because
// the codec that would otherwise type them is out of scope (TS 24.301 §1).
type OctetString struct {
	Bytes []byte
}

func NewOctetString(b []byte) OctetString {
	if len(b) == 0 {
		return OctetString{}
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return OctetString{Bytes: cp}
}

func (o OctetString) Len() int { return len(o.Bytes) }

func (o OctetString) Empty() bool { return len(o.Bytes) == 0 }

// PLMNID is MCC/MNC as the three/two-or-three decimal digit strings carried
// on the wire; equality is digit-wise per TS 24.301 §4.3.
type PLMNID struct {
	MCC string
	MNC string
}

// GUMMEI is PLMNID + MME Group ID + MME Code (TS 23.003 §2.10.1).
type GUMMEI struct {
	PLMN    PLMNID
	MMEGID  uint16
	MMECode uint8
}

// GUTI is GUMMEI + M-TMSI (TS 23.003 §2.8, TS 24.301 §4.3).
type GUTI struct {
	GUMMEI GUMMEI
	MTMSI  uint32
}

// Equal implements the GUTI comparison of TS 24.301 §4.3: every digit of the
// embedded GUMMEI plus the M-TMSI must match.
func (g GUTI) Equal(other GUTI) bool {
	return g.MTMSI == other.MTMSI &&
		g.GUMMEI.MMEGID == other.GUMMEI.MMEGID &&
		g.GUMMEI.MMECode == other.GUMMEI.MMECode &&
		g.GUMMEI.PLMN.MCC == other.GUMMEI.PLMN.MCC &&
		g.GUMMEI.PLMN.MNC == other.GUMMEI.PLMN.MNC
}

// TrackingAreaIdentity is PLMN + TAC (TS 24.301 §3, §4.4 step 4).
type TrackingAreaIdentity struct {
	PLMN PLMNID
	TAC  uint16
}

// Capabilities bundles the UE capability fields the parameter-change
// detector (C8, TS 24.301 §4.3) watches.
type Capabilities struct {
	EEA         uint8 // EPS encryption algorithm support bitmap
	EIA         uint8 // EPS integrity algorithm support bitmap
	UCS2        bool
	UCS2Present bool
	UEA         uint8
	UEAPresent  bool
	UIA         uint8
	UIAPresent  bool
	GEA         uint8
	GEAPresent  bool
	UMTSPresent bool
	GPRSPresent bool
}

// SecurityContext is the NAS security material of TS 24.301 §3.
type SecurityContext struct {
	KASME   []byte
	KNASenc []byte
	KNASint []byte

	CipheringAlgorithm uint8
	IntegrityAlgorithm uint8

	KSI         uint8
	KSIPresent  bool
	NativeKSI   bool
}

// AuthVector is the authentication vector obtained from the identity
// provider (TS 24.301 §3, §6): RAND/AUTN/XRES plus the derived keys.
type AuthVector struct {
	RAND  []byte
	AUTN  []byte
	XRES  []byte
	KASME []byte
}

// AttachRequest is the decoded entry point payload of TS 24.301 §4.4
// on_attach_request. The NAS codec that would produce this from a wire PDU
// is out of scope (TS 24.301 §1); the Attach core only consumes the decoded
// fields.
type AttachRequest struct {
	UEID uint32
	Type AttachType

	NativeKSI bool
	KSI       uint8

	NativeGUTI bool
	GUTI       *GUTI

	IMSI string
	IMEI string

	TAI *TrackingAreaIdentity

	Capabilities Capabilities

	ESMContainer OctetString
}
