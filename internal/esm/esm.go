// Package esm models the EMM<->ESM coupling point (C6, TS 24.301 §5): the
// narrow primitive exchange the Attach core needs to carry the ESM
// message container riding inside the Attach Request/Accept/Complete and
// learn when the default bearer activation finished.
package esm

import (
	"go.uber.org/zap"

	"github.com/your-org/mme-emmd/internal/emmtypes"
)

// Status is the outcome of an ESM PDN connectivity request, mirroring the
// ESM_PDN_CONNECTIVITY_REJ cause taxonomy of TS 24.301 without pulling in
// the full ESM cause enumeration (out of scope, TS 24.301 §1).
type Status uint8

const (
	StatusSuccess Status = iota
	StatusDiscarded
	StatusFailure
)

// ActivateResult is delivered to the callback passed to
// RequestPDNConnectivity once the ESM sublayer either confirms default
// bearer activation or rejects the request.
type ActivateResult struct {
	Status       Status
	BearerID     uint8
	ESMContainer emmtypes.OctetString // ESM_DEFAULT_EPS_BEARER_CONTEXT_ACTIVATE or ESM_PDN_CONNECTIVITY_REJ payload
}

// Peer is the EMM-facing surface of the ESM sublayer.
type Peer interface {
	// RequestPDNConnectivity forwards the ESM container piggybacked on
	// the Attach Request (ESM_PDN_CONNECTIVITY_REQ) and asynchronously
	// delivers the activation outcome.
	RequestPDNConnectivity(ueID uint32, esmContainer emmtypes.OctetString, onResult func(ActivateResult))

	// RejectPDNConnectivity tells ESM to tear down the PDN connectivity
	// it was asked to establish (ESM_PDN_CONNECTIVITY_REJ), sent when
	// the Attach procedure aborts after a running PDN connectivity
	// request (TS 24.301 §4.4 _emm_attach_abort).
	RejectPDNConnectivity(ueID uint32)

	// NotifyActivateComplete forwards the ESM container piggybacked on
	// the Attach Complete (ESM_DEFAULT_EPS_BEARER_CONTEXT_ACTIVATE_CNF),
	// confirming bearer activation from the UE side. Unlike
	// RequestPDNConnectivity this primitive's outcome is synchronous
	// (TS 24.301 §4.4 on_attach_complete forwards it and branches on the
	// result in the same handler invocation).
	NotifyActivateComplete(ueID uint32, esmContainer emmtypes.OctetString) Status
}

// SimulatedPeer is an in-memory stand-in for the ESM sublayer, good
// enough to drive the Attach core end to end without wiring a real ESM
// state machine (out of scope per TS 24.301 §1, §9).
type SimulatedPeer struct {
	logger     *zap.Logger
	nextBearer uint8
}

func NewSimulatedPeer(logger *zap.Logger) *SimulatedPeer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulatedPeer{logger: logger, nextBearer: 5}
}

func (p *SimulatedPeer) RequestPDNConnectivity(ueID uint32, esmContainer emmtypes.OctetString, onResult func(ActivateResult)) {
	if esmContainer.Empty() {
		onResult(ActivateResult{Status: StatusDiscarded})
		return
	}

	bearerID := p.nextBearer
	p.nextBearer++

	p.logger.Debug("esm: pdn connectivity accepted",
		zap.Uint32("ue_id", ueID),
		zap.Uint8("bearer_id", bearerID),
	)

	onResult(ActivateResult{
		Status:       StatusSuccess,
		BearerID:     bearerID,
		ESMContainer: emmtypes.NewOctetString([]byte{0x02, bearerID}),
	})
}

func (p *SimulatedPeer) RejectPDNConnectivity(ueID uint32) {
	p.logger.Debug("esm: pdn connectivity reject sent", zap.Uint32("ue_id", ueID))
}

func (p *SimulatedPeer) NotifyActivateComplete(ueID uint32, esmContainer emmtypes.OctetString) Status {
	p.logger.Debug("esm: default bearer activation confirmed", zap.Uint32("ue_id", ueID))
	return StatusSuccess
}
