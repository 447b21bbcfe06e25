package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const userAgent = "clawdbot-mattermost"

// Client is a minimal Mattermost REST v4 client covering the calls
// the gateway needs. It authenticates with a personal access token or
// bot token via the Bearer scheme.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// NewClient builds a client for baseURL, which must not carry a
// trailing slash segment beyond the site root.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Post is the Mattermost post record, trimmed to the fields the
// gateway reads and writes.
type Post struct {
	ID        string   `json:"id,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	ChannelID string   `json:"channel_id"`
	Message   string   `json:"message"`
	CreateAt  int64    `json:"create_at,omitempty"`
	RootID    string   `json:"root_id,omitempty"`
	Type      string   `json:"type,omitempty"`
	FileIDs   []string `json:"file_ids,omitempty"`
}

// ChannelInfo describes a channel. Type is "D" for direct, "G" for
// group, "O"/"P" for team channels.
type ChannelInfo struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	Name        string `json:"name"`
}

// UserProfile describes a user.
type UserProfile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// FileInfo describes an uploaded file attached to a post.
type FileInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// GetMe fetches the authenticated bot's own profile.
func (c *Client) GetMe(ctx context.Context) (*UserProfile, error) {
	var me UserProfile
	if err := c.doJSON(ctx, http.MethodGet, "/api/v4/users/me", nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// GetChannel fetches channel metadata by id.
func (c *Client) GetChannel(ctx context.Context, channelID string) (*ChannelInfo, error) {
	var ch ChannelInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/v4/channels/"+url.PathEscape(channelID), nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetUser fetches a user profile by id.
func (c *Client) GetUser(ctx context.Context, userID string) (*UserProfile, error) {
	var u UserProfile
	if err := c.doJSON(ctx, http.MethodGet, "/api/v4/users/"+url.PathEscape(userID), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetFileInfosForPost lists the file attachments of a post.
func (c *Client) GetFileInfosForPost(ctx context.Context, postID string) ([]FileInfo, error) {
	var infos []FileInfo
	path := "/api/v4/posts/" + url.PathEscape(postID) + "/files/info"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// CreatePost creates a post and returns the server's record.
func (c *Client) CreatePost(ctx context.Context, post Post) (*Post, error) {
	var created Post
	if err := c.doJSON(ctx, http.MethodPost, "/api/v4/posts", post, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UploadFiles uploads one or more files to a channel and returns the
// resulting file ids, ready to be attached to a post.
func (c *Client) UploadFiles(ctx context.Context, channelID string, files map[string][]byte) ([]string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("channel_id", channelID); err != nil {
		return nil, fmt.Errorf("write channel_id field: %w", err)
	}
	for name, data := range files {
		part, err := writer.CreateFormFile("files", name)
		if err != nil {
			return nil, fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(data); err != nil {
			return nil, fmt.Errorf("write form file: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v4/files", &body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setCommonHeaders(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload files: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError("upload files", resp)
	}

	var result struct {
		FileInfos []FileInfo `json:"file_infos"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	ids := make([]string, 0, len(result.FileInfos))
	for _, info := range result.FileInfos {
		ids = append(ids, info.ID)
	}
	return ids, nil
}

// FileURL returns the API URL serving a file's contents.
func (c *Client) FileURL(fileID string) string {
	return c.baseURL + "/api/v4/files/" + url.PathEscape(fileID)
}

// FileDownloadURL returns a direct download URL for a file. The token
// is embedded as a query parameter so plain HTTP fetchers can use it.
func (c *Client) FileDownloadURL(fileID string) string {
	return c.FileURL(fileID) + "?download=1&access_token=" + url.QueryEscape(c.token)
}

// WebSocketURL converts the REST base into the websocket endpoint.
func (c *Client) WebSocketURL() string {
	ws := c.baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return ws + "/api/v4/websocket"
}

// AuthHeaders returns the headers needed to fetch protected resources
// outside this client.
func (c *Client) AuthHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.token}
}

// Token exposes the configured access token.
func (c *Client) Token() string { return c.token }

// BaseURL exposes the normalized site base.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", userAgent)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setCommonHeaders(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(method+" "+path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func apiError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
