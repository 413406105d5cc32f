package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/parcelhub/ledger/internal/shared"
)

// RepositoryPort abstracts persistence used by the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAccount(ctx context.Context, id uuid.UUID) (Account, error)
	ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (Transaction, error)
	FindAuthorizationByExternalRef(ctx context.Context, ref string) (Transaction, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, filter TransactionFilter) ([]Transaction, error)
	ListOpenItems(ctx context.Context, accountID uuid.UUID) ([]Transaction, error)
	AccountsWithOpenItems(ctx context.Context, limit int) ([]uuid.UUID, error)
	TransactionCounts(ctx context.Context) ([]TxCount, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Publisher delivers outbound events to the notification collaborator.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// SignalDeduper absorbs duplicate inbound settlement signals.
type SignalDeduper interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// InterestMode selects simple or daily-compounded overdue interest.
type InterestMode string

const (
	InterestSimple   InterestMode = "simple"
	InterestCompound InterestMode = "compound"
)

// Config groups ledger policy.
type Config struct {
	Currencies          CurrencyRules
	MaxRetries          int
	RetryBaseDelay      time.Duration
	AuthorizationExpiry time.Duration
	InterestPeriod      time.Duration
	InterestMode        InterestMode
	Rounding            RoundingMode
	ReviewThreshold     decimal.Decimal
	OverdueConcurrency  int
	OverdueLockTTL      time.Duration
	SignalTimeout       time.Duration
}

// ReviewDisabled as Config.ReviewThreshold turns the review signal off. A zero
// threshold means unset and takes the default.
var ReviewDisabled = decimal.NewFromInt(-1)

// DefaultConfig returns the policy used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Currencies:          DefaultCurrencyRules(),
		MaxRetries:          5,
		RetryBaseDelay:      5 * time.Millisecond,
		AuthorizationExpiry: 7 * 24 * time.Hour,
		InterestPeriod:      24 * time.Hour,
		InterestMode:        InterestSimple,
		Rounding:            RoundHalfUp,
		ReviewThreshold:     decimal.NewFromInt(10000),
		OverdueConcurrency:  4,
		OverdueLockTTL:      10 * time.Minute,
		SignalTimeout:       10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Currencies.Max == nil {
		c.Currencies = def.Currencies
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = def.RetryBaseDelay
	}
	if c.AuthorizationExpiry <= 0 {
		c.AuthorizationExpiry = def.AuthorizationExpiry
	}
	if c.InterestPeriod <= 0 {
		c.InterestPeriod = def.InterestPeriod
	}
	if c.InterestMode == "" {
		c.InterestMode = def.InterestMode
	}
	if c.Rounding == "" {
		c.Rounding = def.Rounding
	}
	if c.ReviewThreshold.IsZero() {
		c.ReviewThreshold = def.ReviewThreshold
	}
	if c.OverdueConcurrency <= 0 {
		c.OverdueConcurrency = def.OverdueConcurrency
	}
	if c.OverdueLockTTL <= 0 {
		c.OverdueLockTTL = def.OverdueLockTTL
	}
	if c.SignalTimeout <= 0 {
		c.SignalTimeout = def.SignalTimeout
	}
	return c
}

// Policy is the slice of Config the pure overdue batch needs.
func (c Config) Policy() OverduePolicy {
	return OverduePolicy{
		AuthorizationExpiry: c.AuthorizationExpiry,
		InterestPeriod:      c.InterestPeriod,
		InterestMode:        c.InterestMode,
		Rounding:            c.Rounding,
		ReviewThreshold:     c.ReviewThreshold,
	}
}

// Service coordinates ledger operations. Every mutation runs through the
// consistency guard.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	publisher Publisher
	signals   SignalDeduper
	cache     *StatsCache
	locker    Locker
	metrics   *Metrics
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
}

// Option customises Service.
type Option func(*Service)

// WithAudit sets the audit sink.
func WithAudit(audit AuditPort) Option {
	return func(s *Service) { s.audit = audit }
}

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithSignalDeduper sets the store used to absorb duplicate inbound signals.
func WithSignalDeduper(d SignalDeduper) Option {
	return func(s *Service) { s.signals = d }
}

// WithStatsCache enables caching of ledger statistics.
func WithStatsCache(c *StatsCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithLocker sets the lock used to keep overdue batches from overlapping.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg Config, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithNow overrides the clock, primarily for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Config exposes the effective policy.
func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) publish(ctx context.Context, events []Event) {
	if s.publisher == nil {
		return
	}
	for _, evt := range events {
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.logger.Warn("ledger: publish event failed",
				slog.String("account_id", evt.AccountID.String()),
				slog.String("event", string(evt.Type)),
				slog.Any("error", err))
		}
	}
}

func (s *Service) recordAudit(ctx context.Context, actor, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "ledger_account",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	})
}

// bumpStats invalidates cached ledger statistics after a committed change.
func (s *Service) bumpStats(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("ledger: stats cache bump failed", slog.Any("error", err))
	}
}

// finish records metrics and logs failed operations with their identifiers.
func (s *Service) finish(op string, err error, attrs ...slog.Attr) error {
	s.metrics.observe(op, err)
	if err == nil {
		return nil
	}
	args := make([]any, 0, len(attrs)+2)
	args = append(args, slog.String("op", op))
	for _, a := range attrs {
		args = append(args, a)
	}
	args = append(args, slog.Any("error", err))
	switch {
	case IsValidation(err), IsNotFound(err), errors.Is(err, context.Canceled):
		s.logger.Info("ledger: operation rejected", args...)
	default:
		s.logger.Warn("ledger: operation failed", args...)
	}
	return err
}
