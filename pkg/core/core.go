package core

import (
	"context"
	"fmt"
)

// PeerKind classifies the conversation a message arrived in.
type PeerKind string

const (
	PeerDirect  PeerKind = "direct"
	PeerGroup   PeerKind = "group"
	PeerChannel PeerKind = "channel"
)

// Peer identifies the conversation partner for routing purposes.
type Peer struct {
	Kind PeerKind
	ID   string
}

// Route names the agent session a message should be processed under.
type Route struct {
	SessionKey string
	AccountID  string
	AgentID    string
}

// ReplyContext is the full normalized message handed to the formatter
// and dispatcher. Field names follow the host processing contract.
type ReplyContext struct {
	Body              string
	RawBody           string
	CommandBody       string
	From              string
	To                string
	SessionKey        string
	AccountID         string
	ChatType          string
	SenderName        string
	SenderID          string
	SenderUsername    string
	GroupSubject      string
	GroupRoom         string
	WasMentioned      bool
	CommandAuthorized bool
	MessageSid        string
	ReplyToID         string
	MessageThreadID   string
	Timestamp         int64
	MediaURL          string
	MediaPath         string
	MediaID           string
	MediaName         string
	MediaType         string
	MediaSize         int64
}

// RouteResolver maps a peer to its processing route.
type RouteResolver interface {
	Resolve(channel, accountID string, peer Peer) Route
}

// EnvelopeFormatter renders the final message body passed downstream.
type EnvelopeFormatter interface {
	Format(ctx ReplyContext) string
}

// ReplyDispatcher hands the finished context to the agent pipeline.
type ReplyDispatcher interface {
	Dispatch(ctx context.Context, reply ReplyContext) error
}

// RouteResolverFunc adapts a function to RouteResolver.
type RouteResolverFunc func(channel, accountID string, peer Peer) Route

func (f RouteResolverFunc) Resolve(channel, accountID string, peer Peer) Route {
	return f(channel, accountID, peer)
}

// EnvelopeFormatterFunc adapts a function to EnvelopeFormatter.
type EnvelopeFormatterFunc func(ctx ReplyContext) string

func (f EnvelopeFormatterFunc) Format(ctx ReplyContext) string { return f(ctx) }

// ReplyDispatcherFunc adapts a function to ReplyDispatcher.
type ReplyDispatcherFunc func(ctx context.Context, reply ReplyContext) error

func (f ReplyDispatcherFunc) Dispatch(ctx context.Context, reply ReplyContext) error {
	return f(ctx, reply)
}

// Deps bundles the collaborators the gateway needs from its host.
type Deps struct {
	Routes     RouteResolver
	Formatter  EnvelopeFormatter
	Dispatcher ReplyDispatcher
}

// WithDefaults fills any missing collaborator with a usable default.
func (d Deps) WithDefaults() Deps {
	if d.Routes == nil {
		d.Routes = RouteResolverFunc(DefaultRoute)
	}
	if d.Formatter == nil {
		d.Formatter = EnvelopeFormatterFunc(DefaultFormat)
	}
	if d.Dispatcher == nil {
		d.Dispatcher = ReplyDispatcherFunc(func(context.Context, ReplyContext) error { return nil })
	}
	return d
}

// DefaultRoute derives a session key from the channel, account and
// peer identity.
func DefaultRoute(channel, accountID string, peer Peer) Route {
	return Route{
		SessionKey: fmt.Sprintf("%s:%s:%s", channel, accountID, peer.ID),
		AccountID:  accountID,
	}
}

// DefaultFormat returns the raw body unchanged.
func DefaultFormat(ctx ReplyContext) string { return ctx.Body }
