package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/your-org/mme-emmd/common/metrics"
	"github.com/your-org/mme-emmd/internal/adminapi"
	"github.com/your-org/mme-emmd/internal/audit"
	"github.com/your-org/mme-emmd/internal/config"
	"github.com/your-org/mme-emmd/internal/emmtypes"
	"github.com/your-org/mme-emmd/internal/esm"
	"github.com/your-org/mme-emmd/internal/fsm"
	"github.com/your-org/mme-emmd/internal/identity"
	internalmetrics "github.com/your-org/mme-emmd/internal/metrics"
	"github.com/your-org/mme-emmd/internal/nasas"
	"github.com/your-org/mme-emmd/internal/observability"
	"github.com/your-org/mme-emmd/internal/store"
	"github.com/your-org/mme-emmd/internal/timer"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config/mme-emmd.yaml", "path to configuration file")
	flag.Parse()

	logger := createLogger("info")
	defer logger.Sync()

	logger.Info("starting MME EMM Attach daemon",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger.Info("configuration loaded",
		zap.String("nf_name", cfg.NF.Name),
		zap.String("guami_mcc", cfg.GUAMI.MCC),
		zap.String("guami_mnc", cfg.GUAMI.MNC),
	)

	ctxStore := store.NewContextStore()
	timerCtl := timer.NewController()
	buffers := store.NewBufferRegistry()

	identProvider := identity.NewSimulatedProvider(identity.GUTIConfig{
		PLMN:             emmtypes.PLMNID{MCC: cfg.GUAMI.MCC, MNC: cfg.GUAMI.MNC},
		MMEGID:           cfg.GUAMI.MMEGID,
		MMECode:          cfg.GUAMI.MMECode,
		TAC:              cfg.GUAMI.TAC,
		NumTACs:          cfg.GUAMI.NumTACs,
		ServingNetworkID: []byte(cfg.GUAMI.MCC + cfg.GUAMI.MNC),
	}, logger)
	ctxStore.SetObserver(identProvider.NotifyUEIDChanged)

	esmPeer := esm.NewSimulatedPeer(logger)
	asPeer := nasas.NewSimulatedPeer(logger)

	auditSink := audit.Start(cfg, logger)
	defer auditSink.Close()

	machine := fsm.New(cfg, ctxStore, timerCtl, buffers, identProvider, esmPeer, asPeer, auditSink, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go registeredInitiatedSweep(ctx, ctxStore, 10*time.Second)

	tracer := observability.Start(ctx, cfg, logger)
	defer tracer.Close()

	metricsServer := metrics.NewMetricsServer(cfg.Observability.Metrics.Port, logger)
	if cfg.Observability.Metrics.Enabled {
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	adminServer := adminapi.NewServer(cfg, ctxStore, machine, logger)
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- adminServer.Start()
	}()

	logger.Info("mme-emmd started successfully", zap.String("admin_address", cfg.AdminAddr()))

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatal("admin server error", zap.Error(err))
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := adminServer.Stop(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shut down admin server", zap.Error(err))
		}
		if err := metricsServer.Stop(); err != nil {
			logger.Error("failed to stop metrics server", zap.Error(err))
		}

		logger.Info("mme-emmd shutdown complete")
	}
}

// registeredInitiatedSweep periodically counts contexts parked in
// REGISTERED_INITIATED (awaiting ATTACH COMPLETE) and republishes the
// gauge, since FSMStatus is mutated directly on the context rather than
// through any ContextStore method that could observe the transition.
func registeredInitiatedSweep(ctx context.Context, s *store.ContextStore, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := 0
			for _, c := range s.All() {
				c.Lock()
				if c.FSMStatus == emmtypes.FSMRegisteredInitiated {
					count++
				}
				c.Unlock()
			}
			internalmetrics.SetRegisteredInitiated(count)
		}
	}
}

func createLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	return logger
}
