package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zacharytamas/clawdbot-mattermost/pkg/bus"
	"github.com/zacharytamas/clawdbot-mattermost/pkg/config"
	"github.com/zacharytamas/clawdbot-mattermost/pkg/core"
	"github.com/zacharytamas/clawdbot-mattermost/pkg/logger"
)

// Manager owns one gateway per configured account and fans
// operations out to them.
type Manager struct {
	cfg      *config.Config
	deps     core.Deps
	registry StatusRegistry
	onEnv    bus.EnvelopeHandler

	mu       sync.Mutex
	gateways map[string]*Gateway
}

// ManagerOptions configures a manager.
type ManagerOptions struct {
	Deps       core.Deps
	Registry   StatusRegistry
	OnEnvelope bus.EnvelopeHandler
}

// NewManager builds a manager over the loaded configuration.
func NewManager(cfg *config.Config, opts ManagerOptions) *Manager {
	if opts.Registry == nil {
		opts.Registry = NewMemoryStatusRegistry()
	}
	return &Manager{
		cfg:      cfg,
		deps:     opts.Deps.WithDefaults(),
		registry: opts.Registry,
		onEnv:    opts.OnEnvelope,
		gateways: make(map[string]*Gateway),
	}
}

// Registry exposes the status registry for host surfaces.
func (m *Manager) Registry() StatusRegistry { return m.registry }

// StartAll starts a gateway for every enabled account. Accounts fail
// independently; the returned error aggregates per-account failures
// while the rest keep running. Disabled accounts are skipped.
func (m *Manager) StartAll(ctx context.Context) error {
	interval := time.Duration(m.cfg.ReconnectIntervalSeconds()) * time.Second

	var errs []error
	for _, accountID := range m.cfg.ListAccountIDs() {
		account := m.cfg.ResolveAccount(accountID)
		if !account.Enabled {
			logger.InfoCF(logComponent, "account disabled, skipping", map[string]interface{}{
				"account": accountID,
			})
			continue
		}

		gw := NewGateway(account, GatewayOptions{
			Registry:          m.registry,
			Deps:              m.deps,
			OnEnvelope:        m.onEnv,
			ReconnectInterval: interval,
		})
		if err := gw.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("account %q: %w", accountID, err))
			logger.ErrorCF(logComponent, "gateway start failed", map[string]interface{}{
				"account": accountID,
				"error":   err.Error(),
			})
			continue
		}

		m.mu.Lock()
		m.gateways[accountID] = gw
		m.mu.Unlock()
	}
	return errors.Join(errs...)
}

// StopAll stops every running gateway.
func (m *Manager) StopAll() {
	m.mu.Lock()
	gateways := make([]*Gateway, 0, len(m.gateways))
	for _, gw := range m.gateways {
		gateways = append(gateways, gw)
	}
	m.gateways = make(map[string]*Gateway)
	m.mu.Unlock()

	for _, gw := range gateways {
		gw.Stop()
	}
}

// Gateway returns the running gateway for an account, resolving the
// default account when accountID is empty.
func (m *Manager) Gateway(accountID string) (*Gateway, bool) {
	if accountID == "" {
		accountID = m.cfg.DefaultAccountID()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	gw, ok := m.gateways[accountID]
	return gw, ok
}

// Send routes an outbound message to the right account's gateway.
func (m *Manager) Send(ctx context.Context, sc bus.SendContext) (*bus.DeliveryResult, error) {
	gw, ok := m.Gateway(sc.AccountID)
	if !ok {
		return nil, fmt.Errorf("no running gateway for account %q", sc.AccountID)
	}
	return gw.Send(ctx, sc)
}

// SendTyping emits a typing indicator on the target channel. A
// missing gateway is a silent no-op; typing is best effort.
func (m *Manager) SendTyping(accountID, target, threadID string) {
	gw, ok := m.Gateway(accountID)
	if !ok {
		return
	}
	gw.SendTyping(resolveChannelID(target), threadID)
}

// ReplyToMode exposes the account's threading preference to the host.
func (m *Manager) ReplyToMode(accountID string) config.ReplyToMode {
	if accountID == "" {
		accountID = m.cfg.DefaultAccountID()
	}
	return m.cfg.ResolveAccount(accountID).ReplyToMode
}

// DescribeAccounts snapshots every account's configuration state.
func (m *Manager) DescribeAccounts() []config.AccountSnapshot {
	ids := m.cfg.ListAccountIDs()
	out := make([]config.AccountSnapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, config.DescribeAccount(m.cfg.ResolveAccount(id)))
	}
	return out
}
