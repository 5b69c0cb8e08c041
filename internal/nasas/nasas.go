// Package nasas models the EMM<->AS coupling point (C7, TS 24.301 §5): the
// primitives the Attach core exchanges with the access stratum to
// establish the signalling connection, ask it to run a subordinate common
// procedure, and deliver the final Attach outcome down to the UE.
package nasas

import (
	"go.uber.org/zap"

	"github.com/your-org/mme-emmd/internal/emmtypes"
)

// EstablishResult is delivered to the callback passed to EstablishReq.
type EstablishResult struct {
	Accepted bool
}

// AttachAcceptParams is the EMMAS_ESTABLISH_CNF primitive of TS 24.301 §4.4/§6:
// everything send_attach_accept hands to the access stratum for one
// ATTACH ACCEPT transmission (or retransmission).
type AttachAcceptParams struct {
	UEID uint32

	// OldGUTI is non-nil only for implicit GUTI reallocation: the
	// current GUTI the UE already has, carried alongside NewGUTI so the
	// UE can tell the two apart (TS 24.301 §4.4 send_attach_accept rule 1).
	OldGUTI *emmtypes.GUTI
	NewGUTI *emmtypes.GUTI

	TAC     uint16
	NTACs   int
	Security *emmtypes.SecurityContext

	ESMContainer emmtypes.OctetString
}

// CommonProcedureKind distinguishes the subordinate common procedures the
// Attach core can ask the AS/peer layers to run (TS 24.301 §4.5, §5).
type CommonProcedureKind uint8

const (
	CommonProcedureIdentification CommonProcedureKind = iota
	CommonProcedureAuthentication
	CommonProcedureSecurityMode
)

// Peer is the EMM-facing surface of the access-stratum coupling.
type Peer interface {
	// EstablishReq asks the AS to set up (or confirm) the signalling
	// connection for ueID; onResult fires once the AS answers
	// (EMMAS_ESTABLISH_CNF/REJ).
	EstablishReq(ueID uint32, onResult func(EstablishResult))

	// RunCommonProcedure starts one subordinate common procedure and
	// invokes exactly one of onSuccess/onFailure when it concludes
	// (EMMREG_COMMON_PROC_REQ and its outcome, TS 24.301 §5 continuation
	// discipline — no function-pointer triplet, TS 24.301 §9).
	RunCommonProcedure(ueID uint32, kind CommonProcedureKind, onSuccess func(), onFailure func(cause emmtypes.EMMCause))

	// AttachAccept sends (or retransmits) an ATTACH ACCEPT built from
	// params (EMMAS_ESTABLISH_CNF).
	AttachAccept(params AttachAcceptParams)

	// AttachReject sends an ATTACH REJECT carrying cause and, when
	// esmContainer is non-empty, the ESM reject PDU as NAS payload
	// (EMMAS_ESTABLISH_REJ).
	AttachReject(ueID uint32, cause emmtypes.EMMCause, esmContainer emmtypes.OctetString)

	// ProcAbort tears down an in-progress procedure without a reject
	// cause (EMMREG_PROC_ABORT), e.g. when T3450 exhausts its retries or
	// a parameter change restarts the procedure.
	ProcAbort(ueID uint32)

	// NotifyImplicitGUTIReallocation reports EMMREG_COMMON_PROC_REQ when
	// send_attach_accept carried an implicit GUTI reallocation (TS 24.301 §9).
	NotifyImplicitGUTIReallocation(ueID uint32)

	// NotifyAttachSuccess reports EMMREG_ATTACH_CNF once ATTACH COMPLETE
	// has been fully processed (TS 24.301 §4.4 on_attach_complete).
	NotifyAttachSuccess(ueID uint32)

	// NotifyAttachFailure reports EMMREG_ATTACH_REJ: an internal
	// registration-layer notification that the Attach failed, distinct
	// from AttachReject's EMMAS_ESTABLISH_REJ wire message. Used where
	// the procedure fails without sending a NAS-level ATTACH REJECT
	// (TS 24.301 §4.4 _emm_attach_abort's silent retry-bound exhaustion, and
	// on_attach_complete's ESM-error branch).
	NotifyAttachFailure(ueID uint32, cause emmtypes.EMMCause)
}

// SimulatedPeer is an in-memory stand-in for the access stratum, good
// enough to exercise the Attach core end to end without a real RRC/NGAP
// stack underneath (out of scope per TS 24.301 §1).
type SimulatedPeer struct {
	logger *zap.Logger
}

func NewSimulatedPeer(logger *zap.Logger) *SimulatedPeer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulatedPeer{logger: logger}
}

func (p *SimulatedPeer) EstablishReq(ueID uint32, onResult func(EstablishResult)) {
	p.logger.Debug("nasas: establish request", zap.Uint32("ue_id", ueID))
	onResult(EstablishResult{Accepted: true})
}

func (p *SimulatedPeer) RunCommonProcedure(ueID uint32, kind CommonProcedureKind, onSuccess func(), onFailure func(cause emmtypes.EMMCause)) {
	p.logger.Debug("nasas: common procedure started", zap.Uint32("ue_id", ueID), zap.Uint8("kind", uint8(kind)))
	onSuccess()
}

func (p *SimulatedPeer) AttachAccept(params AttachAcceptParams) {
	p.logger.Info("nasas: attach accept sent",
		zap.Uint32("ue_id", params.UEID),
		zap.Bool("new_guti", params.NewGUTI != nil),
		zap.Bool("implicit_realloc", params.OldGUTI != nil && params.NewGUTI != nil),
	)
}

func (p *SimulatedPeer) AttachReject(ueID uint32, cause emmtypes.EMMCause, esmContainer emmtypes.OctetString) {
	p.logger.Info("nasas: attach reject sent",
		zap.Uint32("ue_id", ueID),
		zap.String("cause", cause.String()),
		zap.Int("esm_payload_len", esmContainer.Len()),
	)
}

func (p *SimulatedPeer) ProcAbort(ueID uint32) {
	p.logger.Info("nasas: procedure aborted", zap.Uint32("ue_id", ueID))
}

func (p *SimulatedPeer) NotifyImplicitGUTIReallocation(ueID uint32) {
	p.logger.Debug("nasas: implicit guti reallocation", zap.Uint32("ue_id", ueID))
}

func (p *SimulatedPeer) NotifyAttachSuccess(ueID uint32) {
	p.logger.Info("nasas: attach cnf", zap.Uint32("ue_id", ueID))
}

func (p *SimulatedPeer) NotifyAttachFailure(ueID uint32, cause emmtypes.EMMCause) {
	p.logger.Warn("nasas: attach rej (internal)", zap.Uint32("ue_id", ueID), zap.String("cause", cause.String()))
}
