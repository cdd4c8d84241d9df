package llm

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nuwa-labs/nuwa/internal/config"
	apperrors "github.com/nuwa-labs/nuwa/internal/errors"
)

// Manager hands out provider clients and guards every call with a rate
// limiter and a circuit breaker. Clients are built lazily on first use and
// cached for the life of the process.
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger

	mu       sync.RWMutex
	clients  map[string]Client
	breakers map[string]*gobreaker.CircuitBreaker[*Result]
	limiters map[string]*rate.Limiter
}

// NewManager creates a manager over the configured providers.
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		clients:  make(map[string]Client),
		breakers: make(map[string]*gobreaker.CircuitBreaker[*Result]),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Client returns the cached client for a provider, building it on first
// use. An empty name resolves to the configured default provider.
func (m *Manager) Client(name string) (Client, error) {
	if name == "" {
		name = m.cfg.LLM.DefaultProvider
	}

	m.mu.RLock()
	client, ok := m.clients[name]
	m.mu.RUnlock()
	if ok {
		return client, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another goroutine may have built it while we waited for the lock.
	if client, ok := m.clients[name]; ok {
		return client, nil
	}

	provider, ok := m.cfg.GetProvider(name)
	if !ok {
		return nil, apperrors.New("LLM_001", "unknown provider: "+name)
	}
	if provider.APIKey == "" {
		return nil, apperrors.New("LLM_001", "provider "+name+" has no API key configured")
	}

	switch name {
	case "anthropic":
		client = NewAnthropicClient(provider)
	default:
		client = NewOpenAIClient(provider)
	}

	m.clients[name] = client
	m.breakers[name] = gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        "llm-" + name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(cbName string, from, to gobreaker.State) {
			m.logger.Warn("provider circuit state changed",
				zap.String("breaker", cbName),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	limit := rate.Inf
	if provider.RPM > 0 {
		limit = rate.Limit(float64(provider.RPM) / 60.0)
	}
	m.limiters[name] = rate.NewLimiter(limit, 2)

	m.logger.Info("llm client initialized",
		zap.String("provider", name),
		zap.String("model", provider.Model))

	return client, nil
}

func (m *Manager) guards(name string) (*gobreaker.CircuitBreaker[*Result], *rate.Limiter) {
	if name == "" {
		name = m.cfg.LLM.DefaultProvider
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breakers[name], m.limiters[name]
}

// Chat runs a non-streaming completion against the named provider,
// honoring the per-provider rate limit and circuit breaker.
func (m *Manager) Chat(ctx context.Context, name string, messages []Message, tools []Tool) (*Result, error) {
	client, err := m.Client(name)
	if err != nil {
		return nil, err
	}

	breaker, limiter := m.guards(name)
	if err := limiter.Wait(ctx); err != nil {
		return nil, apperrors.Wrap(err, "LLM_004", "rate limit wait interrupted")
	}

	return breaker.Execute(func() (*Result, error) {
		return client.Chat(ctx, messages, tools)
	})
}

// ChatStream is the streaming counterpart of Chat.
func (m *Manager) ChatStream(ctx context.Context, name string, messages []Message, tools []Tool, onDelta StreamFunc) (*Result, error) {
	client, err := m.Client(name)
	if err != nil {
		return nil, err
	}

	breaker, limiter := m.guards(name)
	if err := limiter.Wait(ctx); err != nil {
		return nil, apperrors.Wrap(err, "LLM_004", "rate limit wait interrupted")
	}

	return breaker.Execute(func() (*Result, error) {
		return client.ChatStream(ctx, messages, tools, onDelta)
	})
}
