package fsm

import (
	"fmt"
	"time"

	"github.com/your-org/mme-emmd/internal/audit"
	"github.com/your-org/mme-emmd/internal/emmtypes"
	"github.com/your-org/mme-emmd/internal/metrics"
	"github.com/your-org/mme-emmd/internal/store"
)

// emmAttachAbort handles T3450 retry exhaustion (TS 24.301 §4.4
// _emm_attach_abort): no REJECT is sent, the UE is considered
// unreachable and dropped silently.
func (m *Machine) emmAttachAbort(ctx *store.EMMContext, buf *store.AttachDataBuffer) {
	ctx.Lock()
	t3450 := ctx.T3450
	ctx.T3450 = emmtypes.NASTimerInactiveID
	ctx.Unlock()
	m.timers.Stop(t3450)

	m.buffers.Remove(ctx.UEID)
	_ = buf // retransmission history no longer needed once aborted

	ctx.Lock()
	cause := ctx.EMMCause
	imsi := ctx.IMSI
	ctx.Unlock()

	m.esmPeer.RejectPDNConnectivity(ctx.UEID)
	m.asPeer.NotifyAttachFailure(ctx.UEID, cause)
	m.logger.Warn("fsm: attach aborted after retry exhaustion, silent drop", m.fields(ctx)...)
	metrics.RecordAbort()
	m.audit.Record(audit.Event{Time: time.Now(), UEID: ctx.UEID, IMSI: imsi, Result: "aborted", Cause: cause})

	m.emmAttachRelease(ctx)
}

// emmAttachRelease tears down ctx entirely (TS 24.301 §4.4 _emm_attach_release,
// §3 "Releasing a context releases, in order: identity fields, ESM
// buffer, security keys, timers, index entries, context memory").
func (m *Machine) emmAttachRelease(ctx *store.EMMContext) {
	ctx.Lock()
	t3450, t3460, t3470 := ctx.T3450, ctx.T3460, ctx.T3470
	ctx.IMSI = ""
	ctx.IMEI = ""
	ctx.ESMMsg = emmtypes.OctetString{}
	ctx.Security = nil
	ctx.Vector = nil
	ctx.T3450 = emmtypes.NASTimerInactiveID
	ctx.T3460 = emmtypes.NASTimerInactiveID
	ctx.T3470 = emmtypes.NASTimerInactiveID
	ctx.Unlock()

	m.timers.Stop(t3450)
	m.timers.Stop(t3460)
	m.timers.Stop(t3470)

	m.buffers.Remove(ctx.UEID)
	m.store.Remove(ctx.UEID)

	m.asPeer.ProcAbort(ctx.UEID)
	m.logger.Info("fsm: context released", m.fields(ctx)...)
}

// emmAttachReject ensures emm_cause is non-SUCCESS, sends ATTACH REJECT
// (including the ESM PDU iff the cause is ESM_FAILURE and one is
// present), and releases the context if it is dynamic (TS 24.301 §4.4
// _emm_attach_reject). A missing ESM PDU when emm_cause is ESM_FAILURE is
// fatal for this UE (TS 24.301 §7): no REJECT is sent, the context is
// released outright, and an error is returned instead.
func (m *Machine) emmAttachReject(ctx *store.EMMContext) error {
	ctx.Lock()
	if ctx.EMMCause == emmtypes.EMMCauseSuccess {
		ctx.EMMCause = emmtypes.EMMCauseIllegalUE
	}
	cause := ctx.EMMCause
	esmMissing := cause == emmtypes.EMMCauseESMFailure && ctx.ESMMsg.Empty()
	payload := ctx.ESMMsg
	imsi := ctx.IMSI
	ctx.Unlock()

	if esmMissing {
		m.logger.Warn("fsm: esm_failure with no esm pdu, fatal internal inconsistency, releasing without reject", m.fields(ctx)...)
		m.audit.Record(audit.Event{Time: time.Now(), UEID: ctx.UEID, IMSI: imsi, Result: "rejected", Cause: cause})
		m.emmAttachRelease(ctx)
		return fmt.Errorf("fsm: ue %d: emm_cause=ESM_FAILURE with no ESM PDU", ctx.UEID)
	}

	if cause != emmtypes.EMMCauseESMFailure {
		payload = emmtypes.OctetString{}
	}

	ctx.Lock()
	isDynamic := ctx.IsDynamic
	ctx.Unlock()

	m.asPeer.AttachReject(ctx.UEID, cause, payload)
	metrics.RecordReject(cause.String())
	m.logger.Warn("fsm: attach reject sent", append(m.fields(ctx))...)
	m.audit.Record(audit.Event{Time: time.Now(), UEID: ctx.UEID, IMSI: imsi, Result: "rejected", Cause: cause})

	if isDynamic {
		m.emmAttachRelease(ctx)
	}
	return nil
}
