package ebpf

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/perf"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// AttachEvent is one NAS Attach handler invocation captured by the
// uprobe pair below: entry and return timestamps bracketing
// OnAttachRequest/OnAttachComplete, independent of whatever the Go
// runtime's own tracing does.
type AttachEvent struct {
	TimestampNS uint64
	PID         uint32
	TID         uint32
	Handler     [32]byte
	Traceparent [55]byte
	UEID        uint32
	DurationNS  uint64
	Outcome     uint16
}

// Config holds eBPF tracer configuration. ObjectPath points at a
// precompiled BPF object (clang -target bpf); this package never
// invokes bpf2go itself, so the object is built out of band and
// shipped alongside the binary.
type Config struct {
	NFName     string   // network function name, for span/log attribution
	NFBinary   string   // path to the mme-emmd binary to attach uprobes to
	ObjectPath string   // path to the compiled attach-trace BPF object
	Functions  []string // exported symbols to probe, in probe order
}

// EMMTracer manages eBPF-based latency tracing of the Attach handlers.
type EMMTracer struct {
	nfName     string
	nfBinary   string
	objectPath string
	functions  []string
	collection *ebpf.Collection
	links      []link.Link
	reader     *perf.Reader
	logger     *zap.Logger
	tracer     trace.Tracer
	eventChan  chan *AttachEvent
	stopChan   chan struct{}
}

func NewEMMTracer(config *Config, logger *zap.Logger) (*EMMTracer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EMMTracer{
		nfName:     config.NFName,
		nfBinary:   config.NFBinary,
		objectPath: config.ObjectPath,
		functions:  config.Functions,
		logger:     logger,
		tracer:     otel.Tracer("mme-emmd/ebpf"),
		eventChan:  make(chan *AttachEvent, 4096),
		stopChan:   make(chan struct{}),
	}, nil
}

// Load loads and attaches eBPF programs. Best-effort throughout: a
// missing capability, a non-Linux kernel, or an absent object file
// degrades to a no-op tracer rather than failing NF startup.
func (t *EMMTracer) Load(ctx context.Context) error {
	ctx, span := t.tracer.Start(ctx, "EMMTracer.Load")
	defer span.End()

	t.logger.Info("loading eBPF attach tracer", zap.String("nf", t.nfName), zap.String("object", t.objectPath))

	spec, err := ebpf.LoadCollectionSpec(t.objectPath)
	if err != nil {
		return fmt.Errorf("load bpf object %s: %w", t.objectPath, err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return fmt.Errorf("create bpf collection: %w", err)
	}
	t.collection = coll

	if err := t.attachHandlerEntry(); err != nil {
		t.logger.Warn("failed to attach attach-handler entry probe", zap.Error(err))
	}
	if err := t.attachHandlerReturn(); err != nil {
		t.logger.Warn("failed to attach attach-handler return probe", zap.Error(err))
	}
	if err := t.attachTransportProbes(); err != nil {
		t.logger.Warn("failed to attach transport kprobes", zap.Error(err))
	}

	rd, err := perf.NewReader(t.collection.Maps["attach_events"], 4096*os.Getpagesize())
	if err != nil {
		return fmt.Errorf("create perf reader: %w", err)
	}
	t.reader = rd

	go t.processEvents()

	span.SetAttributes(
		attribute.String("nf_name", t.nfName),
		attribute.String("nf_binary", t.nfBinary),
	)
	t.logger.Info("eBPF attach tracer loaded")
	return nil
}

func (t *EMMTracer) attachHandlerEntry() error {
	prog := t.collection.Programs["trace_attach_handler_start"]
	if prog == nil {
		return fmt.Errorf("program trace_attach_handler_start not found")
	}
	attached := 0
	for _, symbol := range t.functions {
		l, err := link.Uprobe(t.nfBinary, symbol, prog, nil)
		if err != nil {
			continue
		}
		t.links = append(t.links, l)
		t.logger.Info("attached attach-handler entry probe", zap.String("symbol", symbol))
		attached++
	}
	if attached == 0 {
		return fmt.Errorf("failed to attach to any configured handler symbol")
	}
	return nil
}

func (t *EMMTracer) attachHandlerReturn() error {
	prog := t.collection.Programs["trace_attach_handler_end"]
	if prog == nil {
		return fmt.Errorf("program trace_attach_handler_end not found")
	}
	attached := 0
	for _, symbol := range t.functions {
		l, err := link.Uretprobe(t.nfBinary, symbol, prog, nil)
		if err != nil {
			continue
		}
		t.links = append(t.links, l)
		t.logger.Info("attached attach-handler return probe", zap.String("symbol", symbol))
		attached++
	}
	if attached == 0 {
		return fmt.Errorf("failed to attach to any configured handler symbol")
	}
	return nil
}

// attachTransportProbes attaches tcp_sendmsg/tcp_recvmsg kprobes when the
// object carries programs for them, for correlating handler latency with
// transport-level stalls.
func (t *EMMTracer) attachTransportProbes() error {
	if prog := t.collection.Programs["trace_tcp_sendmsg"]; prog != nil {
		l, err := link.Kprobe("tcp_sendmsg", prog, nil)
		if err != nil {
			return fmt.Errorf("attach tcp_sendmsg: %w", err)
		}
		t.links = append(t.links, l)
		t.logger.Info("attached tcp_sendmsg kprobe")
	}
	if prog := t.collection.Programs["trace_tcp_recvmsg"]; prog != nil {
		l, err := link.Kprobe("tcp_recvmsg", prog, nil)
		if err != nil {
			return fmt.Errorf("attach tcp_recvmsg: %w", err)
		}
		t.links = append(t.links, l)
		t.logger.Info("attached tcp_recvmsg kprobe")
	}
	return nil
}

func (t *EMMTracer) processEvents() {
	t.logger.Info("starting eBPF attach event processing")
	for {
		select {
		case <-t.stopChan:
			t.logger.Info("stopping eBPF attach event processing")
			return
		default:
		}

		record, err := t.reader.Read()
		if err != nil {
			if perf.IsClosed(err) {
				return
			}
			t.logger.Error("error reading from perf buffer", zap.Error(err))
			continue
		}
		if record.LostSamples > 0 {
			t.logger.Warn("lost perf samples", zap.Uint64("count", record.LostSamples))
		}

		var event AttachEvent
		if err := binary.Read(bytes.NewReader(record.RawSample), binary.LittleEndian, &event); err != nil {
			t.logger.Error("error parsing attach event", zap.Error(err))
			continue
		}

		select {
		case t.eventChan <- &event:
		default:
			t.logger.Warn("attach event channel full, dropping event")
		}

		t.exportToOTel(&event)
	}
}

func (t *EMMTracer) exportToOTel(event *AttachEvent) {
	handler := string(bytes.TrimRight(event.Handler[:], "\x00"))
	traceparent := string(bytes.TrimRight(event.Traceparent[:], "\x00"))

	var traceID trace.TraceID
	var spanID trace.SpanID
	if len(traceparent) >= 52 {
		// "00-{trace-id}-{span-id}-{flags}"
		copy(traceID[:], traceparent[3:35])
		copy(spanID[:], traceparent[36:52])
	}

	spanContext := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanContext)

	_, span := t.tracer.Start(ctx, "ebpf."+handler,
		trace.WithTimestamp(nsToTime(event.TimestampNS)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
	span.SetAttributes(
		attribute.String("nf.name", t.nfName),
		attribute.String("emm.handler", handler),
		attribute.Int64("emm.ue_id", int64(event.UEID)),
		attribute.Int64("emm.duration_ns", int64(event.DurationNS)),
		attribute.Int("emm.outcome", int(event.Outcome)),
		attribute.Int("process.pid", int(event.PID)),
		attribute.Int("thread.id", int(event.TID)),
		attribute.String("ebpf.source", "kernel"),
	)
	span.End(trace.WithTimestamp(nsToTime(event.TimestampNS + event.DurationNS)))

	t.logger.Debug("eBPF attach event exported",
		zap.String("handler", handler),
		zap.Uint32("ue_id", event.UEID),
		zap.Uint64("duration_ns", event.DurationNS),
	)
}

func (t *EMMTracer) Close() error {
	t.logger.Info("closing eBPF attach tracer")
	close(t.stopChan)

	if t.reader != nil {
		if err := t.reader.Close(); err != nil {
			t.logger.Error("error closing perf reader", zap.Error(err))
		}
	}
	for _, l := range t.links {
		if err := l.Close(); err != nil {
			t.logger.Error("error closing link", zap.Error(err))
		}
	}
	if t.collection != nil {
		if err := t.collection.Close(); err != nil {
			t.logger.Error("error closing bpf collection", zap.Error(err))
		}
	}
	t.logger.Info("eBPF attach tracer closed")
	return nil
}

func (t *EMMTracer) EventChannel() <-chan *AttachEvent {
	return t.eventChan
}

func nsToTime(ns uint64) time.Time {
	return time.Unix(0, int64(ns))
}

// AttachToRunningProcess resolves the binary path for pid and loads the
// tracer against it; used when the operator wants to attach after
// mme-emmd is already running rather than at its own startup.
func AttachToRunningProcess(pid int, config *Config, logger *zap.Logger) (*EMMTracer, error) {
	binaryPath, err := filepath.EvalSymlinks(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return nil, fmt.Errorf("find binary for pid %d: %w", pid, err)
	}
	config.NFBinary = binaryPath

	tracer, err := NewEMMTracer(config, logger)
	if err != nil {
		return nil, err
	}
	if err := tracer.Load(context.Background()); err != nil {
		return nil, err
	}
	return tracer, nil
}
