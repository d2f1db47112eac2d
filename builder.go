package fleetauth

import (
	"errors"
	"time"

	"github.com/fleetyard/fleetauth/credential"
	"github.com/fleetyard/fleetauth/internal/audit"
	"github.com/fleetyard/fleetauth/internal/rate"
	"github.com/fleetyard/fleetauth/jwt"
	"github.com/fleetyard/fleetauth/mail"
	"github.com/fleetyard/fleetauth/otp"
	"github.com/fleetyard/fleetauth/password"
	"github.com/fleetyard/fleetauth/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users   credential.UserRepository
	history credential.HistoryRepository
	mailer  mail.Sender

	logger    *zap.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the client used by redis backends and rate limiting.
// Without it, rate limiting is disabled.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserRepository sets the account store. When repo also implements
// credential.HistoryRepository it is used for login history unless
// WithHistoryRepository overrides it.
func (b *Builder) WithUserRepository(repo credential.UserRepository) *Builder {
	b.users = repo
	return b
}

func (b *Builder) WithHistoryRepository(repo credential.HistoryRepository) *Builder {
	b.history = repo
	return b
}

func (b *Builder) WithMailer(sender mail.Sender) *Builder {
	b.mailer = sender
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink replaces the default zap-backed audit sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides time.Now for every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.users == nil {
		return nil, errors.New("user repository required")
	}
	history := b.history
	if history == nil {
		h, ok := b.users.(credential.HistoryRepository)
		if !ok {
			return nil, errors.New("history repository required")
		}
		history = h
	}
	if b.mailer == nil {
		return nil, errors.New("mail sender required")
	}
	if b.redis == nil {
		if cfg.Session.Backend == BackendRedis {
			return nil, errors.New("redis session backend requires redis client")
		}
		if cfg.OTP.Backend == BackendRedis {
			return nil, errors.New("redis otp backend requires redis client")
		}
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- CREDENTIALS --------
	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}
	credentials, err := credential.NewStore(b.users, history, hasher, now)
	if err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	issuer, err := jwt.NewIssuer(jwt.Config{
		Secret:         cfg.JWT.Secret,
		KeyID:          cfg.JWT.KeyID,
		PreviousSecret: cfg.JWT.PreviousSecret,
		PreviousKeyID:  cfg.JWT.PreviousKeyID,
		TTL:            cfg.JWT.TTL,
		Issuer:         cfg.JWT.Issuer,
		Leeway:         cfg.JWT.Leeway,
		Now:            now,
	})
	if err != nil {
		return nil, err
	}

	// -------- SESSIONS --------
	var sessions session.Registry
	switch cfg.Session.Backend {
	case BackendRedis:
		sessions = session.NewRedisRegistry(b.redis, cfg.Session.RedisPrefix, now)
	default:
		sessions = session.NewMemoryRegistry(now)
	}

	// -------- ONE-TIME CODES --------
	var codes otp.Store
	switch cfg.OTP.Backend {
	case BackendRedis:
		codes = otp.NewRedisStore(b.redis, cfg.OTP.RedisPrefix, now)
	default:
		codes = otp.NewMemoryStore(now)
	}
	verifier, err := otp.NewVerifier(codes, otp.Config{
		Digits:      cfg.OTP.Digits,
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
		Pepper:      cfg.OTP.Pepper,
		Now:         now,
	})
	if err != nil {
		return nil, err
	}

	// -------- RATE LIMITS --------
	var limiter *rate.Limiter
	if b.redis != nil {
		limiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
			MaxLoginAttempts: cfg.RateLimit.MaxLoginAttempts,
			LoginWindow:      cfg.RateLimit.LoginWindow,
			MaxCodeRequests:  cfg.RateLimit.MaxCodeRequests,
			CodeWindow:       cfg.RateLimit.CodeWindow,
		})
	} else {
		logger.Warn("no redis client configured, rate limiting disabled")
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = audit.NewZapSink(logger)
	}
	var dispatcher *audit.Dispatcher
	if cfg.Audit.Enabled {
		dispatcher = audit.NewDispatcher(cfg.Audit.BufferSize, cfg.Audit.DropIfFull, sink)
	}

	b.built = true

	return &Engine{
		config:      cfg,
		logger:      logger.Named("fleetauth"),
		now:         now,
		credentials: credentials,
		issuer:      issuer,
		sessions:    sessions,
		verifier:    verifier,
		codes:       codes,
		limiter:     limiter,
		mailer:      b.mailer,
		audit:       dispatcher,
		metrics:     NewMetrics(cfg.Metrics),
	}, nil
}
