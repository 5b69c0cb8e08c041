package fsm

import (
	"time"

	"go.uber.org/zap"

	"github.com/your-org/mme-emmd/internal/audit"
	"github.com/your-org/mme-emmd/internal/emmtypes"
	"github.com/your-org/mme-emmd/internal/metrics"
	"github.com/your-org/mme-emmd/internal/nasas"
	"github.com/your-org/mme-emmd/internal/store"
)

// sendAttachAccept builds and hands off the EMMAS_ESTABLISH_CNF
// primitive, then arms (or restarts) T3450 bound to buf (TS 24.301 §4.4
// send_attach_accept).
func (m *Machine) sendAttachAccept(ctx *store.EMMContext, buf *store.AttachDataBuffer) {
	ctx.Lock()
	imsi := ctx.IMSI
	params := nasas.AttachAcceptParams{
		UEID:         ctx.UEID,
		TAC:          ctx.TAC,
		NTACs:        ctx.NTACs,
		Security:     ctx.Security,
		ESMContainer: buf.ESMContainer,
	}

	implicitRealloc := ctx.GUTIIsNew && ctx.OldGUTI != nil
	params.NewGUTI = ctx.GUTI
	if implicitRealloc {
		params.OldGUTI = ctx.OldGUTI
	}

	newGUTI := ctx.GUTI
	t3450 := ctx.T3450
	ctx.Unlock()

	isInitialSend := t3450 == emmtypes.NASTimerInactiveID

	m.asPeer.AttachAccept(params)
	if newGUTI != nil {
		m.ident.NotifyNewGUTI(ctx.UEID, *newGUTI)
	}
	if implicitRealloc {
		m.asPeer.NotifyImplicitGUTIReallocation(ctx.UEID)
	}

	duration := m.cfg.Timers.T3450
	if duration <= 0 {
		duration = 6 * time.Second
	}

	var newTimerID uint32
	if t3450 != emmtypes.NASTimerInactiveID {
		newTimerID = m.timers.Restart(t3450)
	}
	if newTimerID == emmtypes.NASTimerInactiveID {
		// No running timer to restart (first send, or a retransmission
		// from the handler of the timer that just expired): arm a new one.
		newTimerID = m.timers.Start(duration, m.t3450Handler, buf)
	}

	ctx.Lock()
	ctx.T3450 = newTimerID
	ctx.FSMStatus = emmtypes.FSMRegisteredInitiated
	ctx.Unlock()

	if isInitialSend {
		m.audit.Record(audit.Event{Time: time.Now(), UEID: ctx.UEID, IMSI: imsi, Result: "accepted", Cause: emmtypes.EMMCauseSuccess})
	}

	m.logger.Info("fsm: attach accept sent, t3450 armed", m.fields(ctx)...)
}

// t3450Handler is the T3450 expiry handler of TS 24.301 §4.4: retransmit up to
// ATTACH_COUNTER_MAX-1 times, then abort silently.
func (m *Machine) t3450Handler(arg interface{}) {
	buf, ok := arg.(*store.AttachDataBuffer)
	if !ok {
		return
	}
	ctx, found := m.store.GetByUEID(buf.UEID)
	if !found {
		m.logger.Warn("fsm: t3450 expired for unknown ue_id", zap.Uint32("ue_id", buf.UEID))
		return
	}

	buf.Retries++
	max := m.cfg.Timers.AttachCounterMax
	if max <= 0 {
		max = emmtypes.AttachCounterMax
	}

	if buf.Retries < max {
		m.logger.Info("fsm: t3450 expired, retransmitting attach accept", zap.Uint32("ue_id", ctx.UEID), zap.Int("retries", buf.Retries))
		metrics.RecordRetransmission()
		m.sendAttachAccept(ctx, buf)
		return
	}

	m.logger.Warn("fsm: t3450 retry bound reached, aborting", zap.Uint32("ue_id", ctx.UEID))
	m.emmAttachAbort(ctx, buf)
}
