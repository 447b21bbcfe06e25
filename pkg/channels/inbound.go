package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zacharytamas/clawdbot-mattermost/pkg/allowlist"
	"github.com/zacharytamas/clawdbot-mattermost/pkg/bus"
	"github.com/zacharytamas/clawdbot-mattermost/pkg/config"
	"github.com/zacharytamas/clawdbot-mattermost/pkg/core"
	"github.com/zacharytamas/clawdbot-mattermost/pkg/logger"
	"github.com/zacharytamas/clawdbot-mattermost/pkg/mattermost"
	"github.com/zacharytamas/clawdbot-mattermost/pkg/media"
)

// ChannelAPI is the slice of the REST client the dispatcher needs.
type ChannelAPI interface {
	GetChannel(ctx context.Context, channelID string) (*mattermost.ChannelInfo, error)
	GetUser(ctx context.Context, userID string) (*mattermost.UserProfile, error)
	GetFileInfosForPost(ctx context.Context, postID string) ([]mattermost.FileInfo, error)
	FileDownloadURL(fileID string) string
	AuthHeaders() map[string]string
}

// Dispatcher normalizes inbound websocket events into envelopes and
// reply contexts, applying access and media policy along the way.
type Dispatcher struct {
	account    config.ResolvedAccount
	api        ChannelAPI
	deps       core.Deps
	onEnvelope bus.EnvelopeHandler
	onInbound  func(at int64)
	allowed    map[string]struct{}

	mu     sync.Mutex
	selfID string
}

// NewDispatcher wires a dispatcher for one account. onEnvelope and
// onInbound may be nil.
func NewDispatcher(account config.ResolvedAccount, api ChannelAPI, deps core.Deps, onEnvelope bus.EnvelopeHandler, onInbound func(int64)) *Dispatcher {
	return &Dispatcher{
		account:    account,
		api:        api,
		deps:       deps.WithDefaults(),
		onEnvelope: onEnvelope,
		onInbound:  onInbound,
		allowed:    allowlist.Build(account.AllowFrom),
	}
}

// SetSelfID records the bot's own user id so its posts are dropped.
func (d *Dispatcher) SetSelfID(userID string) {
	d.mu.Lock()
	d.selfID = userID
	d.mu.Unlock()
}

func (d *Dispatcher) self() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selfID
}

// HandleEvent runs one websocket event through the inbound pipeline.
// Everything that does not produce a dispatch is a silent drop; only
// unexpected failures are logged.
func (d *Dispatcher) HandleEvent(ctx context.Context, event mattermost.WSEvent) {
	if event.Event != "posted" {
		return
	}

	post, err := parsePost(event.DataString("post"))
	if err != nil {
		logger.DebugCF(logComponent, "unparseable post payload", map[string]interface{}{
			"account": d.account.AccountID,
			"error":   err.Error(),
		})
		return
	}
	if post.ID == "" || post.ChannelID == "" || post.UserID == "" {
		return
	}
	if selfID := d.self(); selfID != "" && post.UserID == selfID {
		return
	}
	if strings.HasPrefix(post.Type, "system_") {
		return
	}

	if !allowlist.Allowed(d.allowed, post.ChannelID) {
		logger.DebugCF(logComponent, "message not in allowlist", map[string]interface{}{
			"account": d.account.AccountID,
			"channel": post.ChannelID,
		})
		return
	}

	channel, err := d.api.GetChannel(ctx, post.ChannelID)
	if err != nil {
		logger.WarnCF(logComponent, "channel lookup failed", map[string]interface{}{
			"account": d.account.AccountID,
			"channel": post.ChannelID,
			"error":   err.Error(),
		})
		return
	}
	peer := classifyPeer(channel, post.UserID)

	sender, err := d.api.GetUser(ctx, post.UserID)
	if err != nil {
		sender = nil
	}
	senderName, senderUsername := buildSenderLabel(sender, event.DataString("sender_name"))

	route := d.deps.Routes.Resolve("mattermost", d.account.AccountID, peer)

	rawBody := strings.TrimSpace(post.Message)
	if rawBody == "" && len(post.FileIDs) == 0 {
		return
	}

	attach := d.fetchAttachment(ctx, post)
	contentText := rawBody
	if contentText == "" {
		if attach == nil {
			return
		}
		contentText = fmt.Sprintf("[media: %s]", attach.label)
	}

	timestamp := post.CreateAt
	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}

	from := peerAddress(peer)
	to := "channel:" + channel.ID
	// The reply context always carries an anchor so downstream
	// threading can target the triggering post; the envelope only
	// carries one when the post is already threaded.
	threadID := strings.TrimSpace(post.RootID)
	replyToID := threadID
	if replyToID == "" {
		replyToID = post.ID
	}

	reply := core.ReplyContext{
		Body:              contentText,
		RawBody:           contentText,
		CommandBody:       contentText,
		From:              from,
		To:                to,
		SessionKey:        route.SessionKey,
		AccountID:         route.AccountID,
		ChatType:          string(peer.Kind),
		SenderName:        senderName,
		SenderID:          post.UserID,
		SenderUsername:    senderUsername,
		WasMentioned:      peer.Kind == core.PeerDirect,
		CommandAuthorized: true,
		MessageSid:        post.ID,
		ReplyToID:         replyToID,
		MessageThreadID:   threadID,
		Timestamp:         timestamp,
	}
	if peer.Kind != core.PeerDirect {
		reply.GroupSubject = channel.DisplayName
		reply.GroupRoom = channel.Name
	}
	if attach != nil && attach.path != "" {
		reply.MediaURL = attach.fileURL
		reply.MediaPath = attach.path
		reply.MediaID = attach.id
		reply.MediaName = attach.name
		reply.MediaType = attach.mimeType
		reply.MediaSize = attach.size
	}
	reply.Body = d.deps.Formatter.Format(reply)

	envelope := bus.Envelope{
		Channel:         "mattermost",
		AccountID:       route.AccountID,
		To:              to,
		From:            post.UserID,
		Body:            reply.Body,
		RawBody:         contentText,
		MessageSid:      post.ID,
		ReplyToID:       threadID,
		MessageThreadID: threadID,
		Timestamp:       timestamp,
		IsGroup:         peer.Kind != core.PeerDirect,
		MediaURL:        reply.MediaURL,
		MediaPath:       reply.MediaPath,
		CorrelationID:   uuid.NewString(),
	}
	if d.onInbound != nil {
		d.onInbound(timestamp)
	}
	if d.onEnvelope != nil {
		d.onEnvelope(envelope)
	}

	d.dispatch(ctx, reply)
}

// dispatch hands the context downstream, isolating panics so a bad
// collaborator cannot take the read loop down.
func (d *Dispatcher) dispatch(ctx context.Context, reply core.ReplyContext) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF(logComponent, "dispatch panicked", map[string]interface{}{
				"account": d.account.AccountID,
				"panic":   fmt.Sprint(r),
			})
		}
	}()
	if err := d.deps.Dispatcher.Dispatch(ctx, reply); err != nil {
		logger.ErrorCF(logComponent, "dispatch failed", map[string]interface{}{
			"account": d.account.AccountID,
			"session": reply.SessionKey,
			"error":   err.Error(),
		})
	}
}

type attachment struct {
	id       string
	name     string
	label    string
	mimeType string
	size     int64
	fileURL  string // file:// form of path
	path     string // empty when the download failed
}

// fetchAttachment resolves the post's first file and downloads it
// into the media cache. A failed download still yields metadata so
// the caller can fall back to a text placeholder; no files at all
// yields nil.
func (d *Dispatcher) fetchAttachment(ctx context.Context, post *mattermost.Post) *attachment {
	if len(post.FileIDs) == 0 {
		return nil
	}

	attach := &attachment{id: post.FileIDs[0], label: "attachment"}
	infos, err := d.api.GetFileInfosForPost(ctx, post.ID)
	if err != nil {
		logger.WarnCF(logComponent, "file info lookup failed", map[string]interface{}{
			"account": d.account.AccountID,
			"post":    post.ID,
			"error":   err.Error(),
		})
		infos = nil
	}
	for _, info := range infos {
		if info.ID == attach.id {
			attach.name = info.Name
			attach.mimeType = info.MimeType
			attach.size = info.Size
			break
		}
	}
	if attach.name == "" && len(infos) > 0 {
		attach.name = infos[0].Name
		attach.mimeType = infos[0].MimeType
		attach.size = infos[0].Size
		attach.id = infos[0].ID
	}
	if attach.name != "" {
		attach.label = attach.name
	}

	downloadURL := d.api.FileDownloadURL(attach.id)
	_, saved, err := media.FetchAndSave(ctx, downloadURL, d.account.MediaMaxBytes, d.api.AuthHeaders())
	if err != nil {
		logger.WarnCF(logComponent, "media fetch failed", map[string]interface{}{
			"account": d.account.AccountID,
			"file":    attach.id,
			"error":   err.Error(),
		})
		return attach
	}
	attach.path = saved.Path
	attach.fileURL = saved.URL
	return attach
}

func parsePost(raw string) (*mattermost.Post, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty post payload")
	}
	var post mattermost.Post
	if err := json.Unmarshal([]byte(raw), &post); err != nil {
		return nil, fmt.Errorf("decode post: %w", err)
	}
	return &post, nil
}

// classifyPeer maps a channel type onto a routing peer. Direct
// messages route by the sender, everything else by the channel.
func classifyPeer(channel *mattermost.ChannelInfo, senderID string) core.Peer {
	switch channel.Type {
	case "D":
		return core.Peer{Kind: core.PeerDirect, ID: senderID}
	case "G":
		return core.Peer{Kind: core.PeerGroup, ID: channel.ID}
	default:
		return core.Peer{Kind: core.PeerChannel, ID: channel.ID}
	}
}

func peerAddress(peer core.Peer) string {
	switch peer.Kind {
	case core.PeerGroup:
		return "mattermost:group:" + peer.ID
	case core.PeerChannel:
		return "mattermost:channel:" + peer.ID
	default:
		return "mattermost:" + peer.ID
	}
}

// buildSenderLabel picks the friendliest available sender name: full
// name, then username, then user id, then the event's sender_name.
func buildSenderLabel(sender *mattermost.UserProfile, eventSenderName string) (name, username string) {
	if sender == nil {
		name = strings.TrimSpace(eventSenderName)
		if name == "" {
			name = "unknown"
		}
		return name, ""
	}
	username = strings.TrimSpace(sender.Username)
	full := strings.TrimSpace(strings.TrimSpace(sender.FirstName) + " " + strings.TrimSpace(sender.LastName))
	switch {
	case full != "":
		name = full
	case username != "":
		name = username
	default:
		name = sender.ID
	}
	return name, username
}
