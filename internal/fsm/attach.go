package fsm

import (
	"go.uber.org/zap"

	"github.com/your-org/mme-emmd/internal/emmtypes"
	"github.com/your-org/mme-emmd/internal/esm"
	"github.com/your-org/mme-emmd/internal/metrics"
	"github.com/your-org/mme-emmd/internal/store"
)

// emmAttach is the identification+authentication+security continuation
// of TS 24.301 §4.4 "_emm_attach": it hands the cached ESM container to the
// ESM peer and, on success, arms the ATTACH ACCEPT transmission
// unconditionally — no conditional branch skips buffer allocation or
// send_attach_accept.
func (m *Machine) emmAttach(ctx *store.EMMContext) {
	ctx.Lock()
	container := ctx.ESMMsg
	ctx.Unlock()

	m.esmPeer.RequestPDNConnectivity(ctx.UEID, container, func(result esm.ActivateResult) {
		switch result.Status {
		case esm.StatusSuccess, esm.StatusDiscarded:
			ctx.Lock()
			ctx.ESMMsg = result.ESMContainer
			ctx.Unlock()

			buf := &store.AttachDataBuffer{UEID: ctx.UEID, Retries: 0, ESMContainer: result.ESMContainer}
			m.buffers.Put(ctx.UEID, buf)

			ctx.Lock()
			ctx.Pending = &store.CommonProcedure{
				Release: func(c *store.EMMContext) { m.emmAttachAbort(c, buf) },
			}
			ctx.Unlock()

			m.sendAttachAccept(ctx, buf)

		default:
			m.logger.Warn("fsm: esm pdn connectivity rejected", append(m.fields(ctx), zap.Int("cause", int(result.Status)))...)
			ctx.Lock()
			ctx.EMMCause = emmtypes.EMMCauseESMFailure
			ctx.ESMMsg = result.ESMContainer
			ctx.Unlock()
			if err := m.emmAttachReject(ctx); err != nil {
				m.logger.Error("fsm: attach reject failed", zap.Error(err))
			}
			metrics.RecordAttachAttempt("rejected")
		}
	})
}
