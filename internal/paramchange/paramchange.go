// Package paramchange implements the Parameter-change detector (C8): given
// a stored EMM context and a newly arrived Attach Request, decides whether
// the request is a pure retransmission of the one already in progress or a
// modification that must abort and restart the procedure (TS 24.301
// §5.5.1.2.7 case e).
package paramchange

import (
	"github.com/your-org/mme-emmd/internal/emmtypes"
	"github.com/your-org/mme-emmd/internal/store"
)

// Changed reports whether req differs from ctx in any field TS 24.301
// treats as part of the agreed-upon security/mobility posture.
func Changed(ctx *store.EMMContext, req *emmtypes.AttachRequest) bool {
	if ctx.IsEmergency != isEmergency(req.Type) {
		return true
	}

	if ctx.KSIPresent != req.NativeKSI || (req.NativeKSI && ctx.KSI != req.KSI) {
		return true
	}

	if ctx.Capabilities.EEA != req.Capabilities.EEA {
		return true
	}
	if ctx.Capabilities.EIA != req.Capabilities.EIA {
		return true
	}
	if ctx.Capabilities.UMTSPresent != req.Capabilities.UMTSPresent {
		return true
	}
	if ctx.Capabilities.GPRSPresent != req.Capabilities.GPRSPresent {
		return true
	}

	if ctx.Capabilities.UCS2Present && req.Capabilities.UCS2Present &&
		ctx.Capabilities.UCS2 != req.Capabilities.UCS2 {
		return true
	}
	if ctx.Capabilities.UEAPresent && req.Capabilities.UEAPresent &&
		ctx.Capabilities.UEA != req.Capabilities.UEA {
		return true
	}
	if ctx.Capabilities.UIAPresent && req.Capabilities.UIAPresent &&
		ctx.Capabilities.UIA != req.Capabilities.UIA {
		return true
	}
	if ctx.Capabilities.GEAPresent && req.Capabilities.GEAPresent &&
		ctx.Capabilities.GEA != req.Capabilities.GEA {
		return true
	}

	if guessGUTIChanged(ctx.GUTI, req.GUTI) {
		return true
	}
	if identityChanged(ctx.IMSI, req.IMSI) {
		return true
	}
	if identityChanged(ctx.IMEI, req.IMEI) {
		return true
	}

	return false
}

func isEmergency(t emmtypes.AttachType) bool {
	return t == emmtypes.AttachTypeEmergency
}

// guessGUTIChanged implements the GUTI comparison of TS 24.301 §4.3: every digit
// of the embedded GUMMEI and the m_tmsi must match; presence asymmetry
// counts as changed.
func guessGUTIChanged(stored, incoming *emmtypes.GUTI) bool {
	if (stored == nil) != (incoming == nil) {
		return true
	}
	if stored == nil {
		return false
	}
	return !stored.Equal(*incoming)
}

// identityChanged is octet-wise equality for IMSI/IMEI with
// presence-asymmetry counting as changed (TS 24.301 §4.3).
func identityChanged(stored, incoming string) bool {
	storedPresent := stored != ""
	incomingPresent := incoming != ""
	if storedPresent != incomingPresent {
		return true
	}
	if !storedPresent {
		return false
	}
	return stored != incoming
}
