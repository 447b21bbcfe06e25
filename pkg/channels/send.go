package channels

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zacharytamas/clawdbot-mattermost/pkg/bus"
	"github.com/zacharytamas/clawdbot-mattermost/pkg/mattermost"
	"github.com/zacharytamas/clawdbot-mattermost/pkg/media"
)

// Send delivers one outbound message: optional media upload first,
// then the post. Unlike the inbound path, media failures here are
// hard errors; the caller asked for that attachment.
func (g *Gateway) Send(ctx context.Context, sc bus.SendContext) (*bus.DeliveryResult, error) {
	channelID := resolveChannelID(sc.To)
	if channelID == "" {
		return nil, fmt.Errorf("send: empty target")
	}

	var fileIDs []string
	if sc.MediaURL != "" {
		ids, err := g.uploadMedia(ctx, channelID, sc.MediaURL)
		if err != nil {
			return nil, fmt.Errorf("send media: %w", err)
		}
		fileIDs = ids
	}

	post := mattermost.Post{
		ChannelID: channelID,
		Message:   sc.Text,
		RootID:    resolveRootID(sc),
		FileIDs:   fileIDs,
	}
	created, err := g.client.CreatePost(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	timestamp := created.CreateAt
	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}
	g.markOutbound(timestamp)
	g.logInfo("message sent", map[string]interface{}{
		"channel": created.ChannelID,
		"post":    created.ID,
	})
	return &bus.DeliveryResult{
		Channel:   "mattermost",
		MessageID: created.ID,
		ChannelID: created.ChannelID,
		Timestamp: timestamp,
	}, nil
}

// uploadMedia fetches the attachment bytes and uploads them to the
// target channel, returning the file ids for the post.
func (g *Gateway) uploadMedia(ctx context.Context, channelID, mediaURL string) ([]string, error) {
	data, filename, err := readMedia(ctx, mediaURL, g.account.MediaMaxBytes)
	if err != nil {
		return nil, err
	}
	return g.client.UploadFiles(ctx, channelID, map[string][]byte{filename: data})
}

// readMedia loads attachment bytes from an HTTP URL, a file:// URL,
// or a local path.
func readMedia(ctx context.Context, mediaURL string, maxBytes int64) ([]byte, string, error) {
	switch {
	case strings.HasPrefix(mediaURL, "http://"), strings.HasPrefix(mediaURL, "https://"):
		payload, err := media.Fetch(ctx, mediaURL, maxBytes, nil)
		if err != nil {
			return nil, "", err
		}
		return payload.Data, payload.Filename, nil
	case strings.HasPrefix(mediaURL, "file://"):
		mediaURL = strings.TrimPrefix(mediaURL, "file://")
		fallthrough
	default:
		data, err := os.ReadFile(mediaURL)
		if err != nil {
			return nil, "", fmt.Errorf("read media file: %w", err)
		}
		if maxBytes > 0 && int64(len(data)) > maxBytes {
			return nil, "", fmt.Errorf("%w: %d bytes", media.ErrSizeLimit, len(data))
		}
		name := filepath.Base(mediaURL)
		if name == "" || name == "." || name == "/" {
			name = "media"
		}
		return data, name, nil
	}
}

// resolveChannelID strips the "channel:" address prefix used by
// normalized targets.
func resolveChannelID(target string) string {
	return strings.TrimPrefix(strings.TrimSpace(target), "channel:")
}

// resolveRootID picks the thread to post into: an explicit thread id
// wins over the reply-to id.
func resolveRootID(sc bus.SendContext) string {
	if sc.ThreadID != "" {
		return sc.ThreadID
	}
	return sc.ReplyToID
}
