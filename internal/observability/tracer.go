// Package observability wires the optional eBPF attach-latency tracer
// in behind the ebpf_trace feature flag. It is off by default: loading
// eBPF programs needs CAP_BPF/CAP_SYS_ADMIN and a Linux kernel, neither
// of which every deployment has, so failures here must never block
// startup.
package observability

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/your-org/mme-emmd/internal/config"
	"github.com/your-org/mme-emmd/observability/ebpf"
)

// Tracer is the no-op-by-default handle returned to callers; Close is
// always safe to call even when the tracer never loaded.
type Tracer struct {
	impl *ebpf.EMMTracer
}

// Start loads the eBPF attach tracer when cfg.Features.EBPFTrace is
// set. Any failure to load (missing object file, insufficient
// capabilities, non-Linux host) is logged as a warning and yields an
// inert Tracer rather than an error, matching the best-effort posture
// the rest of the probe-attachment code already takes.
func Start(ctx context.Context, cfg *config.Config, logger *zap.Logger) *Tracer {
	if !cfg.Features.EBPFTrace {
		return &Tracer{}
	}

	exe, err := os.Executable()
	if err != nil {
		logger.Warn("observability: could not resolve own executable path, ebpf tracer disabled", zap.Error(err))
		return &Tracer{}
	}

	objectPath := cfg.Observability.EBPFObjectPath
	if objectPath == "" {
		objectPath = "/etc/mme-emmd/attach-trace.o"
	}

	t, err := ebpf.NewEMMTracer(&ebpf.Config{
		NFName:     cfg.NF.Name,
		NFBinary:   exe,
		ObjectPath: objectPath,
		Functions: []string{
			"github.com/your-org/mme-emmd/internal/fsm.(*Machine).OnAttachRequest",
			"github.com/your-org/mme-emmd/internal/fsm.(*Machine).OnAttachComplete",
		},
	}, logger)
	if err != nil {
		logger.Warn("observability: ebpf tracer construction failed, continuing without it", zap.Error(err))
		return &Tracer{}
	}

	if err := t.Load(ctx); err != nil {
		logger.Warn("observability: ebpf tracer failed to load, continuing without it", zap.Error(err))
		return &Tracer{}
	}

	logger.Info("observability: ebpf attach tracer active")
	return &Tracer{impl: t}
}

func (t *Tracer) Close() {
	if t == nil || t.impl == nil {
		return
	}
	if err := t.impl.Close(); err != nil {
		_ = err // Close already logs internally
	}
}
