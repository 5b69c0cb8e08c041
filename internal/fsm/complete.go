package fsm

import (
	"go.uber.org/zap"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"context"
	"time"

	"github.com/your-org/mme-emmd/internal/audit"
	"github.com/your-org/mme-emmd/internal/emmtypes"
	"github.com/your-org/mme-emmd/internal/esm"
	"github.com/your-org/mme-emmd/internal/metrics"
	"github.com/your-org/mme-emmd/internal/store"
)

// OnAttachComplete handles ATTACH COMPLETE (TS 24.301 §4.4 on_attach_complete).
func (m *Machine) OnAttachComplete(stdctx context.Context, ueID uint32, esmContainer emmtypes.OctetString) error {
	_, span := m.tracer.Start(stdctx, "Machine.OnAttachComplete", trace.WithAttributes(attribute.Int64("ue_id", int64(ueID))))
	defer span.End()

	m.buffers.Remove(ueID)

	ctx, found := m.store.GetByUEID(ueID)
	if !found {
		m.logger.Warn("fsm: attach complete for unknown ue_id", zap.Uint32("ue_id", ueID))
		return nil
	}

	ctx.Lock()
	t3450 := ctx.T3450
	ctx.Unlock()
	m.timers.Stop(t3450)

	ctx.Lock()
	ctx.T3450 = emmtypes.NASTimerInactiveID
	ctx.OldGUTI = nil
	ctx.GUTIIsNew = false
	ctx.Pending = nil
	ctx.Unlock()

	status := m.esmPeer.NotifyActivateComplete(ueID, esmContainer)

	switch status {
	case esm.StatusSuccess:
		ctx.Lock()
		ctx.IsAttached = true
		ctx.FSMStatus = emmtypes.FSMRegistered
		ctx.ESMMsg = emmtypes.OctetString{}
		ctx.Unlock()

		m.asPeer.NotifyAttachSuccess(ueID)
		m.logger.Info("fsm: attach complete processed, ue registered", m.fields(ctx)...)
		metrics.RecordAttachAttempt("accepted")

	case esm.StatusDiscarded:
		m.logger.Debug("fsm: attach complete's esm confirm discarded, no state change", m.fields(ctx)...)

	default:
		m.logger.Warn("fsm: esm rejected default bearer activation at attach complete, silent internal reject", m.fields(ctx)...)
		ctx.Lock()
		ctx.EMMCause = emmtypes.EMMCauseESMFailure
		imsi := ctx.IMSI
		ctx.Unlock()
		m.asPeer.NotifyAttachFailure(ueID, emmtypes.EMMCauseESMFailure)
		metrics.RecordReject(emmtypes.EMMCauseESMFailure.String())
		metrics.RecordAttachAttempt("rejected")
		m.audit.Record(audit.Event{Time: time.Now(), UEID: ueID, IMSI: imsi, Result: "rejected", Cause: emmtypes.EMMCauseESMFailure})
	}

	return nil
}
