// Package identity models the subscriber-identity provider external
// collaborator of TS 24.301 §6: IMSI/IMEI/GUTI validation, authentication
// vector generation, GUTI synthesis and PLMN MNC-length lookup. It also
// owns the m_tmsi allocator and the MILENAGE authentication-vector
// generator, as a single collaborator the EMM core calls directly
// instead of over an HTTP SBI, since the
// Attach core's external interfaces are Go APIs, not network services
// (TS 24.301 §6).
package identity

import (
	"github.com/your-org/mme-emmd/internal/emmtypes"
)

// AuthVectorResult is delivered asynchronously to the callback passed to
// AuthInfoReq (TS 24.301 §5 "Long-running operations ... return immediately;
// their completion re-enters the core via a continuation").
type AuthVectorResult struct {
	Vector *emmtypes.AuthVector
	Err    error
}

// Provider is the identity-provider API of TS 24.301 §6.
type Provider interface {
	// IdentifyIMSI validates a claimed IMSI for ueID.
	IdentifyIMSI(ueID uint32, imsi string) bool

	// IdentifyIMEI validates a claimed IMEI for ueID (emergency attach
	// without a security context, TS 24.301 §4.5).
	IdentifyIMEI(ueID uint32, imei string) bool

	// IdentifyGUTI reports whether guti is recognized. Retrieving the
	// IMSI behind an unrecognized GUTI is the identification common
	// procedure's job (it talks to the UE over NAS, out of scope per
	// TS 24.301 §1), not this provider's.
	IdentifyGUTI(ueID uint32, guti emmtypes.GUTI) bool

	// NewGUTI synthesizes a fresh GUTI for imsi from configuration
	// (TS 24.301 §4.4 step 5, §4.5 GUTI reallocation).
	NewGUTI(imsi string) (guti emmtypes.GUTI, tac uint16, nTACs int, err error)

	// AuthInfoReq asynchronously fetches a fresh authentication vector;
	// onResult is invoked exactly once, from some goroutine, with the
	// result (TS 24.301 §4.5 "IMSI available, no security context").
	AuthInfoReq(ueID uint32, imsi string, numVectors int, lastVisitedPLMN emmtypes.PLMNID, onResult func(AuthVectorResult))

	// NotifyUEIDChanged informs the provider of a GUTI-based rebind
	// (TS 24.301 §6, mirrors the Context Store's own observer).
	NotifyUEIDChanged(old, new uint32)

	// NotifyNewGUTI informs the provider the UE now has guti (TS 24.301 §4.6
	// "Notify the identity-mapping service that the UE now has this
	// GUTI").
	NotifyNewGUTI(ueID uint32, guti emmtypes.GUTI)

	// FindMNCLength resolves the MNC length (2 or 3) for a PLMN given
	// its MCC and the candidate MNC digits (TS 24.301 §4.4 step 5, §6).
	FindMNCLength(mcc string, mncCandidate string) (int, error)
}
