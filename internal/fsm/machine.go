// Package fsm implements the Attach State Machine (C4) and the
// subordinate-procedure dispatcher (C5): the core of the EMM Attach
// procedure (TS 24.301 §4.4, §4.5). Every exported entry point runs to
// completion without interleaving on a given UE (TS 24.301 §5); long-running
// steps (authentication-vector fetch, the identification/authentication/
// security-mode-control common procedures) return immediately and
// re-enter the machine through a continuation carried on the context
// (TS 24.301 §9), never by blocking the calling goroutine.
package fsm

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/mme-emmd/internal/audit"
	cfgpkg "github.com/your-org/mme-emmd/internal/config"
	"github.com/your-org/mme-emmd/internal/emmtypes"
	"github.com/your-org/mme-emmd/internal/esm"
	"github.com/your-org/mme-emmd/internal/identity"
	"github.com/your-org/mme-emmd/internal/metrics"
	"github.com/your-org/mme-emmd/internal/nasas"
	"github.com/your-org/mme-emmd/internal/paramchange"
	"github.com/your-org/mme-emmd/internal/store"
	"github.com/your-org/mme-emmd/internal/timer"
)

// Machine wires together the Context Store, Timer Controller, Attach
// Data Buffer registry, identity provider and the ESM/AS peers into the
// Attach procedure's core logic.
type Machine struct {
	cfg     *cfgpkg.Config
	store   *store.ContextStore
	timers  *timer.Controller
	buffers *store.BufferRegistry
	ident   identity.Provider
	esmPeer esm.Peer
	asPeer  nasas.Peer
	audit   *audit.Sink
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New builds an Attach Machine bound to its collaborators. Registering
// the context store's rebind observer with the identity provider's
// NotifyUEIDChanged is left to the caller (TS 24.301 §4.1), since both sides
// are independent collaborators wired by the entrypoint, not by the
// machine itself. auditSink may be nil (features.audit disabled); every
// Record call on it is then a no-op.
func New(cfg *cfgpkg.Config, s *store.ContextStore, t *timer.Controller, b *store.BufferRegistry, ident identity.Provider, esmPeer esm.Peer, asPeer nasas.Peer, auditSink *audit.Sink, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		cfg:     cfg,
		store:   s,
		timers:  t,
		buffers: b,
		ident:   ident,
		esmPeer: esmPeer,
		asPeer:  asPeer,
		audit:   auditSink,
		logger:  logger,
		tracer:  otel.Tracer("mme-emmd/fsm"),
	}
}

func beyondDeregistered(s emmtypes.FSMStatus) bool {
	switch s {
	case emmtypes.FSMRegisteredInitiated, emmtypes.FSMRegistered,
		emmtypes.FSMCommonProcedureInitiated, emmtypes.FSMDeregisteredInitiated:
		return true
	default:
		return false
	}
}

func (m *Machine) fields(ctx *store.EMMContext) []zap.Field {
	f := []zap.Field{zap.Uint32("ue_id", ctx.UEID), zap.String("fsm_status", string(ctx.FSMStatus))}
	if ctx.IMSI != "" {
		f = append(f, zap.String("imsi", ctx.IMSI))
	}
	return f
}

// OnAttachRequest is the Attach procedure's single entry point (TS 24.301 §4.4).
func (m *Machine) OnAttachRequest(stdctx context.Context, req *emmtypes.AttachRequest) error {
	spanCtx, span := m.tracer.Start(stdctx, "Machine.OnAttachRequest", trace.WithAttributes(
		attribute.Int64("ue_id", int64(req.UEID)),
	))
	defer span.End()

	// 1. Sanity.
	if !m.cfg.UEIDInRange(req.UEID) {
		m.logger.Warn("fsm: ue_id outside admissible range", zap.Uint32("ue_id", req.UEID))
		m.rejectWithoutContext(req.UEID, emmtypes.EMMCauseIllegalUE)
		metrics.RecordAttachAttempt("rejected")
		return nil
	}

	// 2. Emergency policy.
	if req.Type == emmtypes.AttachTypeEmergency && !m.cfg.Features.EmergencyAttach {
		m.logger.Warn("fsm: emergency attach disabled", zap.Uint32("ue_id", req.UEID))
		m.rejectWithoutContext(req.UEID, emmtypes.EMMCauseIMEINotAccepted)
		metrics.RecordAttachAttempt("rejected")
		return nil
	}

	// 3. Context resolution.
	ctx, duplicate, err := m.resolveContext(spanCtx, req)
	if err != nil {
		return err
	}
	if ctx == nil {
		// resolveContext already tail-called OnAttachRequest after a
		// parameter-change abort, or the request was a pure duplicate.
		if duplicate {
			metrics.RecordAttachAttempt("duplicate")
		}
		return nil
	}

	// 4-5. TAI capture + context update. The lock is held only for this
	// synchronous read-modify-write; it must not be held across the
	// identify/authenticate/security continuation chain below, since
	// those continuations may re-enter the context from another
	// goroutine (TS 24.301 §5: "implementations must not hold the context
	// lock across awaits").
	ctx.Lock()
	if req.TAI != nil {
		ctx.TAC = req.TAI.TAC
	}
	updateErr := m.updateContext(ctx, req)
	if updateErr == nil {
		ctx.FSMStatus = emmtypes.FSMCommonProcedureInitiated
	}
	ctx.Unlock()

	if updateErr != nil {
		m.logger.Warn("fsm: context update failed", append(m.fields(ctx), zap.Error(updateErr))...)
		ctx.Lock()
		ctx.EMMCause = emmtypes.EMMCauseIllegalUE
		ctx.Unlock()
		rejectErr := m.emmAttachReject(ctx)
		metrics.RecordAttachAttempt("rejected")
		return rejectErr
	}

	m.logger.Info("fsm: attach request accepted for processing", m.fields(ctx)...)

	// 6. Identify.
	m.emmAttachIdentify(ctx)
	return nil
}

// resolveContext implements TS 24.301 §4.4 step 3. It returns (ctx, false, nil)
// when the caller should continue processing ctx, (nil, true, nil) when the
// request was a duplicate, or (nil, false, err) when it triggered a
// parameter-change restart that this call has already fully handled by
// tail-calling OnAttachRequest, err being that call's result.
func (m *Machine) resolveContext(stdctx context.Context, req *emmtypes.AttachRequest) (*store.EMMContext, bool, error) {
	if existing, found := m.store.GetByUEID(req.UEID); found {
		existing.Lock()
		beyond := beyondDeregistered(existing.FSMStatus)
		changed := beyond && paramchange.Changed(existing, req)
		existing.Unlock()

		if beyond {
			if changed {
				m.logger.Info("fsm: parameter change detected, restarting attach", m.fields(existing)...)
				m.emmAttachRelease(existing)
				return nil, false, m.OnAttachRequest(stdctx, req)
			}
			m.logger.Debug("fsm: duplicate attach request, ignoring", m.fields(existing)...)
			return nil, true, nil
		}
		return existing, false, nil
	}

	if req.GUTI != nil {
		if found, ok := m.store.GetByGUTI(*req.GUTI); ok {
			oldUEID := found.UEID
			m.store.RebindUEID(oldUEID, req.UEID)
			found.GUTIVerifiedOnRebind = true
			m.logger.Info("fsm: rebound context to new ue_id via guti", zap.Uint32("old_ue_id", oldUEID), zap.Uint32("new_ue_id", req.UEID))
			return found, false, nil
		}
	}

	fresh := store.NewEMMContext(req.UEID, true)
	m.store.Insert(fresh)
	return fresh, false, nil
}

// updateContext applies TS 24.301 §4.4 step 5.
func (m *Machine) updateContext(ctx *store.EMMContext, req *emmtypes.AttachRequest) error {
	ctx.Capabilities = req.Capabilities
	ctx.KSIPresent = req.NativeKSI
	ctx.KSI = req.KSI
	ctx.IsEmergency = req.Type == emmtypes.AttachTypeEmergency
	ctx.ESMMsg = req.ESMContainer

	if req.IMSI != "" {
		ctx.IMSI = req.IMSI
	}
	if req.IMEI != "" {
		ctx.IMEI = req.IMEI
	}

	oldGUTI := ctx.GUTI
	switch {
	case req.GUTI != nil:
		ctx.GUTI = req.GUTI
		m.store.IndexGUTI(ctx, oldGUTI)
	case ctx.GUTI == nil && ctx.IMSI != "":
		guti, tac, nTACs, err := m.ident.NewGUTI(ctx.IMSI)
		if err != nil {
			return fmt.Errorf("fsm: synthesize guti: %w", err)
		}
		ctx.GUTI = &guti
		ctx.TAC = tac
		ctx.NTACs = nTACs
		ctx.GUTIIsNew = true
		m.store.IndexGUTI(ctx, oldGUTI)
	}

	return nil
}

// rejectWithoutContext sends ATTACH REJECT for a ue_id that never got a
// context (sanity/emergency-policy failures, TS 24.301 §4.4 steps 1-2).
func (m *Machine) rejectWithoutContext(ueID uint32, cause emmtypes.EMMCause) {
	m.asPeer.AttachReject(ueID, cause, emmtypes.OctetString{})
	metrics.RecordReject(cause.String())
}
