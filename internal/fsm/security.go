package fsm

import (
	"github.com/your-org/mme-emmd/internal/emmtypes"
	"github.com/your-org/mme-emmd/internal/nasas"
	"github.com/your-org/mme-emmd/internal/store"
)

// emmAttachSecurity establishes a security context if one is not already
// present, then runs the security-mode-control common procedure
// (TS 24.301 §4.5 _emm_attach_security).
func (m *Machine) emmAttachSecurity(ctx *store.EMMContext) {
	ctx.Lock()
	if ctx.Security == nil {
		ctx.Security = &emmtypes.SecurityContext{
			KSIPresent:         false,
			CipheringAlgorithm: 0, // EEA0
			IntegrityAlgorithm: 0, // EIA0
		}
	}
	ctx.Unlock()

	m.logger.Debug("fsm: running security-mode-control common procedure", m.fields(ctx)...)
	m.asPeer.RunCommonProcedure(ctx.UEID, nasas.CommonProcedureSecurityMode, func() {
		m.emmAttach(ctx)
	}, func(cause emmtypes.EMMCause) {
		ctx.Lock()
		ctx.EMMCause = cause
		ctx.Unlock()
		m.emmAttachRelease(ctx)
	})
}
