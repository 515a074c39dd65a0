package services

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	licenseErrors "licensed/internal/errors"
	"licensed/internal/infrastructure"
	"licensed/internal/license"
	"licensed/pkg/contracts/domain"
	"licensed/pkg/contracts/events"
)

// LicenseService orchestrates ingestion, activation and entitlement queries
// for the HTTP layer.
type LicenseService interface {
	// Ingest never fails: problems are reported in the envelope.
	Ingest(ctx context.Context, n license.Notification) *domain.IngestResponse
	Activate(ctx context.Context, req domain.ActivationRequest) (*domain.ActivationResponse, error)
	CheckEntitlement(ctx context.Context, userID string) (*domain.EntitlementResponse, error)
}

// Ingestor is satisfied by *license.Ingestor.
type Ingestor interface {
	Ingest(ctx context.Context, n license.Notification) (license.IngestResult, error)
}

// Activator is satisfied by *license.Coordinator.
type Activator interface {
	Activate(ctx context.Context, owner, key string) (license.ActivationResult, error)
}

// EntitlementQuerier is satisfied by *license.EntitlementService.
type EntitlementQuerier interface {
	Query(ctx context.Context, owner string) (license.Entitlement, error)
}

// EventPublisher receives license events for the live feed.
type EventPublisher interface {
	PublishLicenseEvent(ctx context.Context, t events.MessageType, ev events.LicenseEvent)
}

type licenseService struct {
	ingestor     Ingestor
	activator    Activator
	entitlements EntitlementQuerier
	publisher    EventPublisher
	metrics      *license.Metrics
	tracer       trace.Tracer
	logger       *slog.Logger
	now          func() time.Time
}

// LicenseServiceOption configures the service
type LicenseServiceOption func(*licenseService)

// WithEventPublisher sends ingest and activation events to p.
func WithEventPublisher(p EventPublisher) LicenseServiceOption {
	return func(s *licenseService) { s.publisher = p }
}

// WithMetrics records operation metrics on m.
func WithMetrics(m *license.Metrics) LicenseServiceOption {
	return func(s *licenseService) { s.metrics = m }
}

// WithTracer wraps every operation in a span.
func WithTracer(t trace.Tracer) LicenseServiceOption {
	return func(s *licenseService) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) LicenseServiceOption {
	return func(s *licenseService) { s.now = now }
}

// NewLicenseService creates a LicenseService
func NewLicenseService(ingestor Ingestor, activator Activator, entitlements EntitlementQuerier, logger *slog.Logger, opts ...LicenseServiceOption) LicenseService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	s := &licenseService{
		ingestor:     ingestor,
		activator:    activator,
		entitlements: entitlements,
		tracer:       noop.NewTracerProvider().Tracer(license.TracerName),
		logger:       infrastructure.WithComponent(logger, "license_service"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *licenseService) Ingest(ctx context.Context, n license.Notification) *domain.IngestResponse {
	ctx = infrastructure.EnsureTraceID(ctx)
	ctx, span := s.tracer.Start(ctx, "license.ingest")
	defer span.End()

	start := s.now()
	traceID := infrastructure.GetTraceID(ctx)
	logger := s.logger.With(slog.String("trace_id", traceID))

	result, err := s.ingestor.Ingest(ctx, n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, licenseErrors.Code(err))
		s.metrics.RecordIngest(ctx, "", licenseErrors.Code(err), license.TierUnknown, s.now().Sub(start))

		fields := n.Fields()
		sort.Strings(fields)
		if errors.Is(err, licenseErrors.ErrMissingLicenseKey) {
			logger.WarnContext(ctx, "notification rejected, no license key", slog.Any("received_fields", fields))
		} else {
			logger.ErrorContext(ctx, "notification ingestion failed", slog.String("error", err.Error()))
		}

		return &domain.IngestResponse{
			Success:        false,
			Error:          licenseErrors.Code(err),
			Detail:         err.Error(),
			ReceivedFields: fields,
			TraceID:        traceID,
			Timestamp:      s.now().UTC(),
		}
	}

	span.SetAttributes(
		attribute.String("license.fingerprint", license.Fingerprint(result.Key)),
		attribute.String("license.tier", result.Tier.String()),
		attribute.String("license.operation", string(result.Operation)),
		attribute.Bool("license.replay", result.Replay),
	)
	s.metrics.RecordIngest(ctx, string(result.Operation), "success", result.Tier, s.now().Sub(start))

	s.publish(ctx, events.MessageTypeLicenseIngested, events.LicenseEvent{
		MaskedKey:   license.MaskKey(result.Key),
		Fingerprint: license.Fingerprint(result.Key),
		Tier:        result.Tier.String(),
		MaxScreens:  result.Tier.Capacity(),
		Operation:   string(result.Operation),
		Replay:      result.Replay,
	})

	message := "license created"
	if result.Operation == license.OperationUpdated {
		message = "license updated"
	}
	return &domain.IngestResponse{
		Success:     true,
		Message:     message,
		LicenseKey:  license.MaskKey(result.Key),
		LicenseType: result.Tier.ScreenSlug(),
		Tier:        result.Tier.String(),
		MaxScreens:  result.Tier.Capacity(),
		Operation:   string(result.Operation),
		Replay:      result.Replay,
		TraceID:     traceID,
		Timestamp:   s.now().UTC(),
	}
}

func (s *licenseService) Activate(ctx context.Context, req domain.ActivationRequest) (*domain.ActivationResponse, error) {
	ctx = infrastructure.EnsureTraceID(ctx)
	ctx, span := s.tracer.Start(ctx, "license.activate")
	defer span.End()

	start := s.now()
	span.SetAttributes(attribute.String("license.fingerprint", license.Fingerprint(license.NormalizeKey(req.LicenseKey))))

	result, err := s.activator.Activate(ctx, req.UserID, req.LicenseKey)
	if err != nil {
		code := licenseErrors.Code(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		s.metrics.RecordActivation(ctx, code, 0, s.now().Sub(start))
		s.logger.InfoContext(ctx, "activation refused",
			slog.String("license_key", license.MaskKey(license.NormalizeKey(req.LicenseKey))),
			slog.String("error", code))
		return nil, err
	}

	outcome := "activated"
	if result.AlreadyActivated {
		outcome = "already_activated"
	}
	span.SetAttributes(
		attribute.String("license.tier", result.Tier.String()),
		attribute.Int("license.attempts", result.Attempts),
		attribute.Bool("license.already_activated", result.AlreadyActivated),
	)
	s.metrics.RecordActivation(ctx, outcome, result.Attempts, s.now().Sub(start))

	if !result.AlreadyActivated {
		s.publish(ctx, events.MessageTypeLicenseActivated, events.LicenseEvent{
			MaskedKey:   license.MaskKey(result.Key),
			Fingerprint: license.Fingerprint(result.Key),
			Tier:        result.Tier.String(),
			MaxScreens:  result.Capacity,
			OccurredAt:  result.ActivatedAt,
		})
	}

	return &domain.ActivationResponse{
		Success:          true,
		LicenseKey:       license.MaskKey(result.Key),
		Tier:             result.Tier.String(),
		MaxScreens:       result.Capacity,
		AlreadyActivated: result.AlreadyActivated,
		ActivatedAt:      result.ActivatedAt,
		TraceID:          infrastructure.GetTraceID(ctx),
	}, nil
}

func (s *licenseService) CheckEntitlement(ctx context.Context, userID string) (*domain.EntitlementResponse, error) {
	ctx = infrastructure.EnsureTraceID(ctx)
	ctx, span := s.tracer.Start(ctx, "license.check")
	defer span.End()

	ent, err := s.entitlements.Query(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, licenseErrors.Code(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("license.valid", ent.Valid),
		attribute.Int("license.capacity", ent.Capacity),
	)
	s.metrics.RecordEntitlement(ctx, ent.Valid)

	resp := &domain.EntitlementResponse{
		UserID:     ent.Owner,
		Valid:      ent.Valid,
		MaxScreens: ent.Capacity,
		Licenses:   ent.Licenses,
		TraceID:    infrastructure.GetTraceID(ctx),
	}
	if ent.Valid {
		resp.Tier = ent.Tier.String()
	}
	return resp, nil
}

func (s *licenseService) publish(ctx context.Context, t events.MessageType, ev events.LicenseEvent) {
	if s.publisher == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now().UTC()
	}
	s.publisher.PublishLicenseEvent(ctx, t, ev)
}
