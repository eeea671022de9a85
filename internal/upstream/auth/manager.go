// Package auth acquires bearer tokens for the pollution API.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/polluted-cities/internal/cache/keys"
	"github.com/mohammed-shakir/polluted-cities/internal/cache/shared"
	"github.com/mohammed-shakir/polluted-cities/internal/core/apperr"
	"github.com/mohammed-shakir/polluted-cities/internal/core/httpclient"
	"github.com/mohammed-shakir/polluted-cities/internal/core/observability"
)

type Config struct {
	BaseURL     string
	LoginPath   string
	RefreshPath string
	Username    string
	Password    string
	// TokenTTL is kept shorter than the upstream token lifetime to force
	// periodic re-validation.
	TokenTTL time.Duration
}

type loginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Token string `json:"token"`
}

type token struct {
	value     string
	expiresAt time.Time
}

// Manager hands out access tokens. Concurrent callers share one upstream
// acquisition.
type Manager struct {
	cfg    Config
	http   *httpclient.JSON
	cache  *shared.Tier
	store  TokenStore
	logger *slog.Logger
	now    func() time.Time

	sf  singleflight.Group
	mu  sync.Mutex
	mem token
}

func NewManager(cfg Config, hc *httpclient.JSON, cache *shared.Tier, store TokenStore, logger *slog.Logger) *Manager {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Minute
	}
	if store == nil {
		store = NewMemoryStore("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, http: hc, cache: cache, store: store, logger: logger, now: time.Now}
}

// Token returns a usable access token or an UpstreamAuthFailure.
func (m *Manager) Token(ctx context.Context) (string, error) {
	v, err, _ := m.sf.Do(keys.Token, func() (any, error) {
		return m.acquire(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) acquire(ctx context.Context) (string, error) {
	var cached string
	if m.cache.GetJSON(ctx, keys.Token, &cached) && cached != "" {
		observability.IncTokenAcquisition("cache", nil)
		return cached, nil
	}
	if t, ok := m.memo(); ok {
		observability.IncTokenAcquisition("memory", nil)
		return t, nil
	}

	if rt := m.store.RefreshToken(); rt != "" {
		t, err := m.refresh(ctx, rt)
		observability.IncTokenAcquisition("refresh", err)
		if err == nil {
			m.remember(ctx, t)
			return t, nil
		}
		m.logger.WarnContext(ctx, "token refresh failed; falling back to login", "err", err)
	}

	t, err := m.login(ctx)
	observability.IncTokenAcquisition("login", err)
	if err != nil {
		m.logger.ErrorContext(ctx, "pollution API login failed", "err", err)
		return "", apperr.Auth("login", err)
	}
	m.remember(ctx, t)
	return t, nil
}

func (m *Manager) refresh(ctx context.Context, rt string) (string, error) {
	var resp refreshResponse
	err := m.http.Post(ctx, m.url(m.cfg.RefreshPath), map[string]string{"refreshToken": rt}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("refresh response without token")
	}
	return resp.Token, nil
}

func (m *Manager) login(ctx context.Context) (string, error) {
	var resp loginResponse
	err := m.http.Post(ctx, m.url(m.cfg.LoginPath), map[string]string{
		"username": m.cfg.Username,
		"password": m.cfg.Password,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("login response without token")
	}
	if resp.RefreshToken != "" {
		m.store.SetRefreshToken(resp.RefreshToken)
	}
	return resp.Token, nil
}

// caches t in the shared tier and in memory for when the shared tier is down
func (m *Manager) remember(ctx context.Context, t string) {
	m.cache.SetJSON(ctx, keys.Token, t, m.cfg.TokenTTL)
	m.mu.Lock()
	m.mem = token{value: t, expiresAt: m.now().Add(m.cfg.TokenTTL)}
	m.mu.Unlock()
}

func (m *Manager) memo() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mem.value == "" || !m.now().Before(m.mem.expiresAt) {
		return "", false
	}
	return m.mem.value, true
}

func (m *Manager) url(path string) string {
	return strings.TrimRight(m.cfg.BaseURL, "/") + path
}
