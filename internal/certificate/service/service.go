// Package service runs the certificate pipeline: decode the scanned text, resolve the
// signing key, verify the signature and evaluate validity.
package service

import (
	"context"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"hcert/internal/audit"
	"hcert/internal/certificate/builder"
	"hcert/internal/certificate/certerr"
	"hcert/internal/certificate/display"
	"hcert/internal/certificate/document"
	"hcert/internal/certificate/encoding"
	"hcert/internal/certificate/envelope"
	"hcert/internal/certificate/metrics"
	"hcert/internal/certificate/models"
	"hcert/internal/certificate/validity"
	keymodels "hcert/internal/trustkeys/models"
	"hcert/pkg/platform/sentinel"
	"hcert/pkg/requestcontext"
)

const (
	defaultBatchLimit       = 50
	defaultBatchConcurrency = 8
)

// ErrBatchTooLarge is returned when a batch exceeds the configured limit.
var ErrBatchTooLarge = fmt.Errorf("%w: batch too large", sentinel.ErrInvalidInput)

// KeyResolver finds the public key registered for a key identifier.
type KeyResolver interface {
	Lookup(ctx context.Context, kid []byte) (crypto.PublicKey, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event)
}

type Service struct {
	keys        KeyResolver
	logger      *slog.Logger
	metrics     *metrics.Metrics
	audit       AuditPublisher
	tracer      trace.Tracer
	batchLimit  int
	concurrency int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

// WithBatchLimits bounds batch size and the number of certificates checked concurrently.
func WithBatchLimits(limit, concurrency int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.batchLimit = limit
		}
		if concurrency > 0 {
			s.concurrency = concurrency
		}
	}
}

func New(keys KeyResolver, opts ...Option) (*Service, error) {
	if keys == nil {
		return nil, errors.New("key resolver is required")
	}
	s := &Service{
		keys:        keys,
		logger:      slog.Default(),
		tracer:      otel.Tracer("hcert/certificate"),
		batchLimit:  defaultBatchLimit,
		concurrency: defaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DecodeAndBuild turns scanned QR text into a certificate. The signature is not checked.
func (s *Service) DecodeAndBuild(ctx context.Context, raw string) (*models.Certificate, error) {
	ctx, span := s.tracer.Start(ctx, "certificate.decode")
	defer span.End()
	if s.metrics != nil {
		defer s.metrics.ObserveDecode(time.Now())
	}

	cert, err := decode(raw)
	if err != nil {
		kind := certerr.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		if s.metrics != nil {
			s.metrics.IncrementDecoded(string(kind))
		}
		s.logger.DebugContext(ctx, "certificate rejected",
			"kind", kind,
			"field", certerr.FieldOf(err),
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("hcert.variant", string(cert.Entry.Kind)),
		attribute.String("hcert.issuer", cert.Issuer),
	)
	if s.metrics != nil {
		s.metrics.IncrementDecoded("ok")
	}
	return cert, nil
}

func decode(raw string) (*models.Certificate, error) {
	text, err := encoding.TrimPrefix(raw)
	if err != nil {
		return nil, err
	}
	compressed, err := encoding.DecodeText(text)
	if err != nil {
		return nil, err
	}
	message, err := encoding.Inflate(compressed)
	if err != nil {
		return nil, err
	}
	env, err := envelope.Parse(message)
	if err != nil {
		return nil, err
	}
	root, err := document.Decode(env.Payload)
	if err != nil {
		return nil, err
	}
	return builder.Build(root, env)
}

// Verify checks the certificate signature against the trusted key for its kid. A
// missing kid, an unknown kid, an unusable key or an unsupported algorithm all yield
// false; only key store failures are returned as errors.
func (s *Service) Verify(ctx context.Context, cert *models.Certificate) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "certificate.verify")
	defer span.End()
	if s.metrics != nil {
		defer s.metrics.ObserveVerify(time.Now())
	}

	if cert == nil || cert.Signed == nil {
		return false, nil
	}
	kid := cert.KeyID()
	if len(kid) == 0 {
		s.logger.DebugContext(ctx, "certificate has no key id")
		return false, nil
	}
	kidHex := hex.EncodeToString(kid)
	span.SetAttributes(attribute.String("hcert.kid", kidHex))

	pub, err := s.keys.Lookup(ctx, kid)
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrNotFound):
		s.logger.InfoContext(ctx, "signing key not trusted", "kid", kidHex)
		return false, nil
	case errors.Is(err, keymodels.ErrInvalidKey), errors.Is(err, keymodels.ErrUnsupportedKey):
		s.logger.WarnContext(ctx, "trusted key is unusable", "kid", kidHex, "error", err)
		return false, nil
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "key lookup failed")
		return false, fmt.Errorf("resolve signing key: %w", err)
	}

	ok, err := cert.Signed.Verify(pub)
	if err != nil {
		s.logger.WarnContext(ctx, "signature not checked",
			"kid", kidHex,
			"alg", cert.Signed.AlgorithmName(),
			"error", err,
		)
		return false, nil
	}
	span.SetAttributes(attribute.Bool("hcert.verified", ok))
	return ok, nil
}

// Evaluate applies the validity rules at now.
func (s *Service) Evaluate(cert *models.Certificate, now time.Time, verified bool) validity.Verdict {
	return validity.Evaluate(cert, now, verified)
}

// Result is the full outcome of checking one certificate.
type Result struct {
	Certificate *models.Certificate
	Verified    bool
	Verdict     validity.Verdict
	Status      string
	Details     []display.Detail
}

// Check decodes, verifies and evaluates raw at the request time held in ctx, and emits
// an audit event either way.
func (s *Service) Check(ctx context.Context, raw string) (*Result, error) {
	now := requestcontext.Now(ctx)

	cert, err := s.DecodeAndBuild(ctx, raw)
	if err != nil {
		s.emit(ctx, audit.RejectionEvent(ctx, err))
		return nil, err
	}

	verified, err := s.Verify(ctx, cert)
	if err != nil {
		return nil, err
	}

	verdict := s.Evaluate(cert, now, verified)
	if s.metrics != nil {
		s.metrics.IncrementVerdict(string(verdict))
	}
	s.emit(ctx, audit.VerificationEvent(ctx, cert, verified, verdict))

	return &Result{
		Certificate: cert,
		Verified:    verified,
		Verdict:     verdict,
		Status:      display.StatusText(verdict, cert),
		Details:     display.Details(cert, now),
	}, nil
}

// BatchItem is the outcome for one input of a batch, in input order. Err holds a
// decode failure for that item only.
type BatchItem struct {
	Index  int
	Result *Result
	Err    error
}

// CheckBatch checks every input concurrently. Decode failures are reported per item;
// a key store failure aborts the whole batch.
func (s *Service) CheckBatch(ctx context.Context, raws []string) ([]BatchItem, error) {
	if len(raws) > s.batchLimit {
		return nil, fmt.Errorf("%w: %d certificates, limit is %d", ErrBatchTooLarge, len(raws), s.batchLimit)
	}
	ctx, span := s.tracer.Start(ctx, "certificate.batch",
		trace.WithAttributes(attribute.Int("hcert.batch_size", len(raws))))
	defer span.End()
	if s.metrics != nil {
		s.metrics.ObserveBatch(len(raws))
	}
	// one clock for the whole batch
	ctx = requestcontext.WithTime(ctx, requestcontext.Now(ctx))

	items := make([]BatchItem, len(raws))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, raw := range raws {
		g.Go(func() error {
			res, err := s.Check(gctx, raw)
			items[i] = BatchItem{Index: i, Result: res}
			if err != nil {
				if certerr.KindOf(err) == "" {
					return err
				}
				items[i].Err = err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch aborted")
		return nil, err
	}
	return items, nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit != nil {
		s.audit.Emit(ctx, event)
	}
}
