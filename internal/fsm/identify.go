package fsm

import (
	"go.uber.org/zap"

	"github.com/your-org/mme-emmd/internal/emmtypes"
	"github.com/your-org/mme-emmd/internal/identity"
	"github.com/your-org/mme-emmd/internal/metrics"
	"github.com/your-org/mme-emmd/internal/nasas"
	"github.com/your-org/mme-emmd/internal/store"
)

// emmAttachIdentify selects an identification strategy by the
// highest-priority identity present on ctx (TS 24.301 §4.5).
func (m *Machine) emmAttachIdentify(ctx *store.EMMContext) {
	ctx.Lock()
	imsi := ctx.IMSI
	imei := ctx.IMEI
	guti := ctx.GUTI
	haveVector := ctx.Vector != nil
	haveSecurity := ctx.Security != nil
	isEmergency := ctx.IsEmergency
	gutiVerified := ctx.GUTIVerifiedOnRebind
	ctx.Unlock()

	switch {
	case imsi != "" && !haveVector && !haveSecurity:
		m.identifyByFreshIMSI(ctx, imsi)

	case imsi != "" && (haveVector || haveSecurity):
		m.identifyByVerifiedIMSI(ctx, imsi)

	case imsi == "" && guti != nil:
		m.identifyByGUTI(ctx, *guti, gutiVerified)

	case imsi == "" && guti == nil && imei != "" && isEmergency:
		m.identifyByIMEI(ctx, imei)

	default:
		m.logger.Warn("fsm: no usable identity on attach request", m.fields(ctx)...)
		ctx.Lock()
		ctx.EMMCause = emmtypes.EMMCauseIllegalUE
		ctx.Unlock()
		if err := m.emmAttachReject(ctx); err != nil {
			m.logger.Error("fsm: attach reject failed", zap.Error(err))
		}
		metrics.RecordAttachAttempt("rejected")
	}
}

// identifyByFreshIMSI requests an authentication vector and re-enters
// identify when it arrives (TS 24.301 §4.5 "IMSI available, no security
// context").
func (m *Machine) identifyByFreshIMSI(ctx *store.EMMContext, imsi string) {
	m.logger.Debug("fsm: requesting authentication vector", zap.Uint32("ue_id", ctx.UEID), zap.String("imsi", imsi))
	m.ident.AuthInfoReq(ctx.UEID, imsi, 1, emmtypes.PLMNID{}, func(result identity.AuthVectorResult) {
		if result.Err != nil {
			m.logger.Warn("fsm: authentication vector fetch failed", zap.Uint32("ue_id", ctx.UEID), zap.Error(result.Err))
			ctx.Lock()
			ctx.EMMCause = emmtypes.EMMCauseIllegalUE
			ctx.Unlock()
			if err := m.emmAttachReject(ctx); err != nil {
				m.logger.Error("fsm: attach reject failed", zap.Error(err))
			}
			metrics.RecordAttachAttempt("rejected")
			return
		}
		ctx.Lock()
		ctx.Vector = result.Vector
		ctx.Unlock()
		m.emmAttachIdentify(ctx)
	})
}

// identifyByVerifiedIMSI validates an IMSI for which a vector or security
// context is already present and marks the context for GUTI reallocation
// (TS 24.301 §4.5 "IMSI available, security context present").
func (m *Machine) identifyByVerifiedIMSI(ctx *store.EMMContext, imsi string) {
	if !m.ident.IdentifyIMSI(ctx.UEID, imsi) {
		m.logger.Warn("fsm: imsi rejected by identity provider", zap.Uint32("ue_id", ctx.UEID), zap.String("imsi", imsi))
		ctx.Lock()
		ctx.EMMCause = emmtypes.EMMCauseIllegalUE
		ctx.Unlock()
		if err := m.emmAttachReject(ctx); err != nil {
			m.logger.Error("fsm: attach reject failed", zap.Error(err))
		}
		metrics.RecordAttachAttempt("rejected")
		return
	}

	ctx.Lock()
	if !ctx.GUTIIsNew {
		guti, tac, nTACs, err := m.ident.NewGUTI(imsi)
		if err == nil {
			ctx.OldGUTI = ctx.GUTI
			ctx.GUTI = &guti
			ctx.TAC = tac
			ctx.NTACs = nTACs
			ctx.GUTIIsNew = true
			m.store.IndexGUTI(ctx, ctx.OldGUTI)
		}
	}
	ctx.Unlock()

	m.afterIdentificationSucceeded(ctx)
}

// identifyByGUTI retrieves the IMSI from the UE via the identification
// common procedure, unless the configurable GUTI-reallocation short-circuit
// flag says a successful GUTI-based lookup already establishes trust.
func (m *Machine) identifyByGUTI(ctx *store.EMMContext, guti emmtypes.GUTI, gutiVerified bool) {
	skip := m.cfg.Features.IdentifyOnGUTILookupFailureOnly && gutiVerified && m.ident.IdentifyGUTI(ctx.UEID, guti)
	if skip {
		m.logger.Debug("fsm: guti already verified by rebind, skipping identification", m.fields(ctx)...)
		m.afterIdentificationSucceeded(ctx)
		return
	}

	m.logger.Debug("fsm: running identification common procedure", m.fields(ctx)...)
	m.asPeer.RunCommonProcedure(ctx.UEID, nasas.CommonProcedureIdentification, func() {
		m.emmAttachIdentify(ctx)
	}, func(cause emmtypes.EMMCause) {
		ctx.Lock()
		ctx.EMMCause = cause
		ctx.Unlock()
		m.emmAttachRelease(ctx)
	})
}

// identifyByIMEI validates an emergency attach's IMEI (TS 24.301 §4.5 "IMEI +
// emergency").
func (m *Machine) identifyByIMEI(ctx *store.EMMContext, imei string) {
	if !m.ident.IdentifyIMEI(ctx.UEID, imei) {
		m.logger.Warn("fsm: imei rejected by identity provider", zap.Uint32("ue_id", ctx.UEID), zap.String("imei", imei))
		ctx.Lock()
		ctx.EMMCause = emmtypes.EMMCauseIMEINotAccepted
		ctx.Unlock()
		if err := m.emmAttachReject(ctx); err != nil {
			m.logger.Error("fsm: attach reject failed", zap.Error(err))
		}
		metrics.RecordAttachAttempt("rejected")
		return
	}
	m.afterIdentificationSucceeded(ctx)
}

// afterIdentificationSucceeded implements TS 24.301 §4.5's post-identification
// routing: straight to attach if a security context already exists,
// straight to security-mode-control if this is an unauthenticated
// emergency attach, otherwise through the authentication common
// procedure.
func (m *Machine) afterIdentificationSucceeded(ctx *store.EMMContext) {
	ctx.Lock()
	haveSecurity := ctx.Security != nil
	isEmergency := ctx.IsEmergency
	ctx.Unlock()

	switch {
	case haveSecurity:
		m.emmAttach(ctx)
	case isEmergency && m.cfg.Features.UnauthenticatedIMSI:
		m.emmAttachSecurity(ctx)
	default:
		m.logger.Debug("fsm: running authentication common procedure", m.fields(ctx)...)
		m.asPeer.RunCommonProcedure(ctx.UEID, nasas.CommonProcedureAuthentication, func() {
			m.emmAttachSecurity(ctx)
		}, func(cause emmtypes.EMMCause) {
			ctx.Lock()
			ctx.EMMCause = cause
			ctx.Unlock()
			m.emmAttachRelease(ctx)
		})
	}
}
