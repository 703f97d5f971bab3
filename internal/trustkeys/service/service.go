// Package service resolves certificate signing keys by key identifier and manages the
// set of trusted keys.
package service

import (
	"context"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hcert/internal/certificate/display"
	"hcert/internal/trustkeys/metrics"
	"hcert/internal/trustkeys/models"
	"hcert/pkg/platform/sentinel"
)

// KeyStore persists trusted keys keyed by kid.
type KeyStore interface {
	Get(ctx context.Context, kid []byte) (*models.TrustedKey, error)
	List(ctx context.Context) ([]*models.TrustedKey, error)
	Save(ctx context.Context, keys ...*models.TrustedKey) error
	Delete(ctx context.Context, kid []byte) error
}

type Service struct {
	store   KeyStore
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
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

// WithClock overrides the time source used to stamp imported keys.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store KeyStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("key store is required")
	}
	s := &Service{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Lookup returns the public key registered under kid. An empty kid is rejected without
// touching the store. Unknown identifiers yield an error wrapping sentinel.ErrNotFound.
func (s *Service) Lookup(ctx context.Context, kid []byte) (crypto.PublicKey, error) {
	if len(kid) == 0 {
		return nil, fmt.Errorf("%w: empty key id", sentinel.ErrInvalidInput)
	}
	if s.metrics != nil {
		defer s.metrics.ObserveLookup(time.Now())
	}

	key, err := s.store.Get(ctx, kid)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			if s.metrics != nil {
				s.metrics.IncrementLookupMiss()
			}
			s.logger.DebugContext(ctx, "signing key not trusted", "kid", hex.EncodeToString(kid))
			return nil, fmt.Errorf("key %s: %w", hex.EncodeToString(kid), sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("lookup key: %w", err)
	}

	pub, err := models.ParsePublicKey(key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", hex.EncodeToString(kid), err)
	}
	return pub, nil
}

// ListIdentifiers returns the kid of every trusted key, for diagnostics.
func (s *Service) ListIdentifiers(ctx context.Context) ([][]byte, error) {
	keys, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	kids := make([][]byte, len(keys))
	for i, k := range keys {
		kids[i] = k.KeyID
	}
	return kids, nil
}

func (s *Service) List(ctx context.Context) ([]models.KeySummary, error) {
	keys, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	summaries := make([]models.KeySummary, len(keys))
	for i, k := range keys {
		summaries[i] = models.KeySummary{
			KeyID:      models.EncodeKeyID(k.KeyID),
			Display:    display.KeyIDText(k.KeyID),
			Source:     k.Source,
			ImportedAt: k.ImportedAt,
		}
	}
	return summaries, nil
}

// Import validates and upserts keys. Nothing is stored if any key is malformed.
func (s *Service) Import(ctx context.Context, source string, keys []*models.TrustedKey) (int, error) {
	now := s.now()
	for i, k := range keys {
		if len(k.KeyID) == 0 {
			return 0, fmt.Errorf("%w: key %d has no kid", sentinel.ErrInvalidInput, i)
		}
		if _, err := models.ParsePublicKey(k.PublicKey); err != nil {
			return 0, fmt.Errorf("%w: key %s: %w", sentinel.ErrInvalidInput, hex.EncodeToString(k.KeyID), err)
		}
		if k.Source == "" {
			k.Source = source
		}
		if k.ImportedAt.IsZero() {
			k.ImportedAt = now
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}

	if err := s.store.Save(ctx, keys...); err != nil {
		return 0, fmt.Errorf("save keys: %w", err)
	}
	if s.metrics != nil {
		s.metrics.AddImported(source, len(keys))
	}
	s.logger.InfoContext(ctx, "trusted keys imported", "source", source, "count", len(keys))
	return len(keys), nil
}

func (s *Service) Remove(ctx context.Context, kid []byte) error {
	if len(kid) == 0 {
		return fmt.Errorf("%w: empty key id", sentinel.ErrInvalidInput)
	}
	if err := s.store.Delete(ctx, kid); err != nil {
		return fmt.Errorf("remove key %s: %w", hex.EncodeToString(kid), err)
	}
	if s.metrics != nil {
		s.metrics.IncrementRemoved()
	}
	s.logger.InfoContext(ctx, "trusted key removed", "kid", hex.EncodeToString(kid))
	return nil
}
