package privacyidea

import (
	"errors"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/runt18/privacyidea/proof"
)

// Builder assembles an Engine. A zero builder carries DefaultConfig;
// chain the With* methods and call Build once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	tokens     TokenStore
	challenges ChallengeStore
	sessions   SessionStore

	resolver  Resolver
	deliverer Deliverer
	auditSink AuditSink
	clock     Clock
	logger    *log.Logger

	built bool
}

func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs every store with the given Redis client. Explicit
// store overrides still win per store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithTokenStore(s TokenStore) *Builder {
	b.tokens = s
	return b
}

func (b *Builder) WithChallengeStore(s ChallengeStore) *Builder {
	b.challenges = s
	return b
}

func (b *Builder) WithSessionStore(s SessionStore) *Builder {
	b.sessions = s
	return b
}

// WithResolver sets the directory used to enumerate an owner's tokens
// when a request names none. Without one, the token store's own owner
// index is used.
func (b *Builder) WithResolver(r Resolver) *Builder {
	b.resolver = r
	return b
}

// WithDeliverer sets the out-of-band transport for challenge responses.
// Without one, challenges are stored but nothing is sent; useful when
// delivery happens outside the process.
func (b *Builder) WithDeliverer(d Deliverer) *Builder {
	b.deliverer = d
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the time source. Intended for tests.
func (b *Builder) WithClock(c Clock) *Builder {
	b.clock = c
	return b
}

// WithLogger enables operational warnings. The engine stays silent
// without one.
func (b *Builder) WithLogger(l *log.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tokens := b.tokens
	challenges := b.challenges
	sessions := b.sessions
	if b.redis != nil {
		if tokens == nil {
			tokens = NewRedisTokenStore(b.redis, cfg.Store.RedisPrefix)
		}
		if challenges == nil {
			challenges = NewRedisChallengeStore(b.redis, cfg.Store.RedisPrefix)
		}
		if sessions == nil {
			sessions = NewRedisSessionStore(b.redis, cfg.Store.RedisPrefix)
		}
	} else {
		if tokens == nil {
			tokens = NewMemoryTokenStore()
		}
		if challenges == nil {
			challenges = NewMemoryChallengeStore()
		}
		if sessions == nil {
			sessions = NewMemorySessionStore()
		}
	}

	var proofManager *proof.Manager
	if cfg.Proof.Enabled {
		method := proof.SigningMethod(cfg.Proof.SigningMethod)
		if method == "" {
			method = proof.MethodHS256
		}
		var err error
		proofManager, err = proof.NewManager(proof.Config{
			TTL:           cfg.Proof.TTL,
			SigningMethod: method,
			PrivateKey:    cfg.Proof.PrivateKey,
			PublicKey:     cfg.Proof.PublicKey,
			Issuer:        cfg.Proof.Issuer,
		})
		if err != nil {
			return nil, err
		}
	}

	clock := b.clock
	if clock == nil {
		clock = SystemClock()
	}

	engine := &Engine{
		config:     cfg,
		tokens:     tokens,
		challenges: challenges,
		sessions:   sessions,
		resolver:   b.resolver,
		deliverer:  b.deliverer,
		policy:     newPolicyEngine(cfg.Policy),
		otp:        newOTPVerifier(cfg.OTP),
		proof:      proofManager,
		audit:      newAuditDispatcher(cfg.Audit, b.auditSink),
		clock:      clock,
		logger:     b.logger,
	}

	b.built = true
	return engine, nil
}
