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
	"github.com/zacharytamas/clawdbot-mattermost/pkg/mattermost"
)

// ErrNotConfigured reports an account missing its base URL or token.
// Start fails fast with this instead of entering the reconnect loop.
var ErrNotConfigured = errors.New("mattermost account not configured")

const logComponent = "mattermost"

// Gateway runs one account's connection: websocket lifecycle,
// inbound dispatch, and outbound sends.
type Gateway struct {
	account    config.ResolvedAccount
	client     *mattermost.Client
	registry   StatusRegistry
	dispatcher *Dispatcher

	reconnectInterval time.Duration

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	ws        *mattermost.WSConn
	botUserID string
}

// GatewayOptions configures a gateway beyond its account record.
type GatewayOptions struct {
	Registry          StatusRegistry
	Deps              core.Deps
	OnEnvelope        bus.EnvelopeHandler
	ReconnectInterval time.Duration
}

// NewGateway builds a gateway for a resolved account. Registry and
// collaborator defaults are filled in when absent.
func NewGateway(account config.ResolvedAccount, opts GatewayOptions) *Gateway {
	if opts.Registry == nil {
		opts.Registry = NewMemoryStatusRegistry()
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 5 * time.Second
	}
	client := mattermost.NewClient(account.BaseURL, account.Token)
	g := &Gateway{
		account:           account,
		client:            client,
		registry:          opts.Registry,
		reconnectInterval: opts.ReconnectInterval,
	}
	g.dispatcher = NewDispatcher(account, client, opts.Deps.WithDefaults(), opts.OnEnvelope, g.markInbound)
	return g
}

// Client exposes the REST client for outbound use.
func (g *Gateway) Client() *mattermost.Client { return g.client }

// Account returns the resolved account this gateway serves.
func (g *Gateway) Account() config.ResolvedAccount { return g.account }

// Start connects the account and keeps it connected until Stop. It
// returns once the connection loop is running.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.account.IsConfigured() {
		return fmt.Errorf("%w: account %q", ErrNotConfigured, g.account.AccountID)
	}

	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = true
	g.stopCh = make(chan struct{})
	stopCh := g.stopCh
	g.mu.Unlock()

	// Self identity lets the dispatcher drop the bot's own posts.
	// Not fatal when unavailable; self-filtering just goes dark.
	if me, err := g.client.GetMe(ctx); err != nil {
		logger.WarnCF(logComponent, "failed to fetch bot identity", map[string]interface{}{
			"account": g.account.AccountID,
			"error":   err.Error(),
		})
	} else {
		g.mu.Lock()
		g.botUserID = me.ID
		g.mu.Unlock()
		g.dispatcher.SetSelfID(me.ID)
	}

	g.setStatus(func(s *Status) {
		s.Running = true
		s.Connected = false
		s.LastError = ""
		s.LastStartAt = time.Now().UnixMilli()
	})

	go g.connectLoop(ctx, stopCh)
	return nil
}

// Stop disconnects and halts the reconnect loop. Safe to call twice.
func (g *Gateway) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	close(g.stopCh)
	ws := g.ws
	g.ws = nil
	g.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	g.setStatus(func(s *Status) {
		s.Running = false
		s.Connected = false
		s.LastStopAt = time.Now().UnixMilli()
	})
	g.logInfo("gateway stopped", nil)
}

func (g *Gateway) connectLoop(ctx context.Context, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		closedCh := make(chan struct{})
		ws, err := mattermost.DialWebSocket(ctx, g.client.WebSocketURL(), g.client.Token(), mattermost.WSHandlers{
			OnOpen: func() {
				g.setStatus(func(s *Status) {
					s.Running = true
					s.Connected = true
					s.LastError = ""
				})
				g.logInfo("websocket connected", nil)
			},
			OnClose: func(code int, reason string) {
				if code != 0 {
					if reason == "" {
						reason = fmt.Sprintf("websocket closed (%d)", code)
					}
					g.setStatus(func(s *Status) {
						s.LastError = reason
					})
				}
				close(closedCh)
			},
			OnError: func(err error) {
				g.setStatus(func(s *Status) {
					s.LastError = err.Error()
				})
				g.logWarn("websocket error", map[string]interface{}{"error": err.Error()})
			},
			OnEvent: func(event mattermost.WSEvent) {
				g.dispatcher.HandleEvent(ctx, event)
			},
		})
		if err != nil {
			g.setStatus(func(s *Status) {
				s.Connected = false
				s.LastError = err.Error()
			})
			g.logWarn("websocket connect failed", map[string]interface{}{"error": err.Error()})
		} else {
			g.mu.Lock()
			g.ws = ws
			g.mu.Unlock()

			select {
			case <-closedCh:
			case <-stopCh:
				ws.Close()
				<-closedCh
			case <-ctx.Done():
				ws.Close()
				<-closedCh
			}

			g.mu.Lock()
			g.ws = nil
			g.mu.Unlock()
			// running flips back on the next successful open
			g.setStatus(func(s *Status) {
				s.Running = false
				s.Connected = false
			})
		}

		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(g.reconnectInterval):
		}
		g.logInfo("reconnecting", nil)
	}
}

// SendTyping emits a typing indicator. Best effort; a missing or dead
// connection is not an error.
func (g *Gateway) SendTyping(channelID, parentID string) {
	g.mu.Lock()
	ws := g.ws
	g.mu.Unlock()
	if ws == nil {
		return
	}
	if err := ws.UserTyping(channelID, parentID); err != nil {
		g.logWarn("typing indicator failed", map[string]interface{}{"error": err.Error()})
	}
}

// markInbound records inbound activity on the status snapshot.
func (g *Gateway) markInbound(at int64) {
	g.setStatus(func(s *Status) {
		s.LastInboundAt = at
	})
}

// markOutbound records outbound activity on the status snapshot.
func (g *Gateway) markOutbound(at int64) {
	g.setStatus(func(s *Status) {
		s.LastOutboundAt = at
	})
}

// setStatus applies a mutation to a copy of the current snapshot and
// stores the result.
func (g *Gateway) setStatus(mutate func(*Status)) {
	current, ok := g.registry.Get(g.account.AccountID)
	if !ok {
		current = Status{AccountID: g.account.AccountID, BaseURL: g.account.BaseURL}
	}
	g.mu.Lock()
	current.BotUserID = g.botUserID
	g.mu.Unlock()
	mutate(&current)
	g.registry.Set(current)
}

// Gateway lifecycle chatter demotes to debug level unless the account
// opts into debug logging; the knob raises verbosity per account
// without touching the global level.
func (g *Gateway) logInfo(msg string, fields map[string]interface{}) {
	fields = g.withAccount(fields)
	if g.account.DebugLog {
		logger.InfoCF(logComponent, msg, fields)
	} else {
		logger.DebugCF(logComponent, msg, fields)
	}
}

func (g *Gateway) logWarn(msg string, fields map[string]interface{}) {
	fields = g.withAccount(fields)
	if g.account.DebugLog {
		logger.WarnCF(logComponent, msg, fields)
	} else {
		logger.DebugCF(logComponent, msg, fields)
	}
}

func (g *Gateway) withAccount(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["account"] = g.account.AccountID
	return fields
}
