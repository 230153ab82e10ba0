package bootstrap

import (
	"context"
	"strings"
	"time"

	"github.com/wolfman30/healme-core/internal/compliance"
	appconfig "github.com/wolfman30/healme-core/internal/config"
	"github.com/wolfman30/healme-core/internal/docstore"
	"github.com/wolfman30/healme-core/internal/events"
	"github.com/wolfman30/healme-core/internal/handoff"
	"github.com/wolfman30/healme-core/internal/observability/metrics"
	"github.com/wolfman30/healme-core/internal/prescriptions"
	"github.com/wolfman30/healme-core/internal/profiles"
	"github.com/wolfman30/healme-core/internal/scheduling"
	"github.com/wolfman30/healme-core/internal/session"
	"github.com/wolfman30/healme-core/pkg/logging"
)

// CoreDeps are the infrastructure handles the scheduling core runs on.
// Outbox and Audit are optional.
type CoreDeps struct {
	Config  *appconfig.Config
	Store   docstore.Store
	Cache   session.CompletenessCache
	Bus     events.Bus
	Outbox  *events.OutboxStore
	Audit   *compliance.AuditService
	Metrics *metrics.SchedulingMetrics
	Logger  *logging.Logger
}

// Core is the assembled scheduling core shared by the API and the worker.
type Core struct {
	Profiles      *profiles.Repository
	Evaluator     *session.Evaluator
	Matcher       *scheduling.Matcher
	Writer        *scheduling.Writer
	Scheduling    *scheduling.Service
	Registry      *handoff.Registry
	Prescriptions *prescriptions.Service
}

// BuildCore wires every domain service over deps.
func BuildCore(deps CoreDeps) *Core {
	cfg := deps.Config
	if cfg == nil {
		cfg = &appconfig.Config{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	repo := profiles.NewRepository(deps.Store, logger)
	eval := session.NewEvaluator(repo, deps.Cache, logger,
		session.WithProviderSuffix(cfg.ProviderEmailSuffix),
		session.WithMetrics(deps.Metrics),
	)

	writerOpts := []scheduling.WriterOption{scheduling.WithWriterMetrics(deps.Metrics)}
	rxOpts := []prescriptions.Option{}
	if deps.Audit != nil {
		writerOpts = append(writerOpts, scheduling.WithAuditor(deps.Audit))
		rxOpts = append(rxOpts, prescriptions.WithAuditor(deps.Audit))
	}
	matcher := scheduling.NewMatcher(repo, logger)
	writer := scheduling.NewWriter(deps.Store, logger, writerOpts...)

	svcOpts := []scheduling.ServiceOption{scheduling.WithBus(deps.Bus)}
	if deps.Outbox != nil {
		svcOpts = append(svcOpts, scheduling.WithOutbox(deps.Outbox))
		rxOpts = append(rxOpts, prescriptions.WithOutbox(deps.Outbox))
	}
	if strings.TrimSpace(cfg.BookingTokenSecret) != "" {
		svcOpts = append(svcOpts, scheduling.WithTokenIssuer(scheduling.NewTokenIssuer(cfg.BookingTokenSecret, cfg.BookingTokenTTL)))
	} else {
		logger.Info("BOOKING_TOKEN_SECRET not set; QR booking disabled")
	}

	registryOpts := []handoff.Option{
		handoff.WithBus(deps.Bus),
		handoff.WithMetrics(deps.Metrics),
	}
	if cfg.HandoffLookupAttempts > 0 && cfg.HandoffLookupInterval > 0 {
		registryOpts = append(registryOpts, handoff.WithPolling(cfg.HandoffLookupAttempts, cfg.HandoffLookupInterval))
	}

	return &Core{
		Profiles:      repo,
		Evaluator:     eval,
		Matcher:       matcher,
		Writer:        writer,
		Scheduling:    scheduling.NewService(repo, matcher, writer, logger, svcOpts...),
		Registry:      handoff.NewRegistry(deps.Store, logger, registryOpts...),
		Prescriptions: prescriptions.NewService(deps.Store, repo, logger, rxOpts...),
	}
}

// SnapshotPublisher pushes every settled device snapshot to the bus.
func SnapshotPublisher(bus events.Bus, logger *logging.Logger) session.SnapshotHook {
	if logger == nil {
		logger = logging.Default()
	}
	return func(deviceID string, snap session.Snapshot) {
		if bus == nil || snap.Resolving {
			return
		}
		payload := events.SessionResolvedV1{
			DeviceID:     deviceID,
			SubjectID:    snap.SubjectID,
			Role:         string(snap.Role),
			Registration: string(snap.Registration),
			Resolving:    snap.Resolving,
			DisplayName:  snap.DisplayName,
			Specialty:    snap.Specialty,
			LastError:    snap.LastError,
			Generation:   snap.Generation,
			ResolvedAt:   time.Now().UTC(),
		}
		if err := bus.Publish(context.Background(), events.SessionResolvedSubject(deviceID), payload); err != nil {
			logger.Warn("failed to publish session snapshot", "device_id", deviceID, "error", err)
		}
	}
}
