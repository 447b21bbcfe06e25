package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ErrSizeLimit reports a download rejected for exceeding the
// configured media cap, either by declared length or actual bytes.
var ErrSizeLimit = errors.New("media exceeds size limit")

const cacheDirName = "clawdbot-mattermost-media"

var filenameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Payload holds a fetched attachment before it is persisted.
type Payload struct {
	URL          string
	Data         []byte
	DeclaredSize int64
	ContentType  string
	Filename     string
}

// Saved describes a persisted attachment.
type Saved struct {
	Path string
	URL  string // file:// form of Path
}

// Fetch downloads url honoring maxBytes. The declared Content-Length
// is checked before the body is read, and the actual byte count is
// checked again after, since servers may omit or understate the
// header. maxBytes <= 0 disables the cap.
func Fetch(ctx context.Context, rawURL string, maxBytes int64, headers map[string]string) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrSizeLimit, resp.ContentLength, maxBytes)
	}

	reader := resp.Body
	var limited io.Reader = reader
	if maxBytes > 0 {
		limited = io.LimitReader(reader, maxBytes+1)
	}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: body over %d bytes", ErrSizeLimit, maxBytes)
	}

	return &Payload{
		URL:          rawURL,
		Data:         data,
		DeclaredSize: resp.ContentLength,
		ContentType:  resp.Header.Get("Content-Type"),
		Filename:     FilenameFromURL(rawURL),
	}, nil
}

// FilenameFromURL derives a safe local filename from the URL path.
func FilenameFromURL(rawURL string) string {
	name := "media"
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			name = base
		}
	}
	name = filenameSanitizer.ReplaceAllString(name, "_")
	if name == "" {
		name = "media"
	}
	return name
}

// Save writes data into the content-addressed cache. The path is
// derived from the sha256 of the bytes plus the filename's extension,
// so identical content lands on the same file and repeat saves are
// free.
func Save(data []byte, filename string) (*Saved, error) {
	dir := filepath.Join(os.TempDir(), cacheDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create media cache dir: %w", err)
	}

	sum := sha256.Sum256(data)
	ext := strings.ToLower(filepath.Ext(filename))
	target := filepath.Join(dir, hex.EncodeToString(sum[:])+ext)

	if _, err := os.Stat(target); err == nil {
		return &Saved{Path: target, URL: "file://" + target}, nil
	}
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return nil, fmt.Errorf("write media file: %w", err)
	}
	return &Saved{Path: target, URL: "file://" + target}, nil
}

// FetchAndSave is the common inbound path: download then persist.
func FetchAndSave(ctx context.Context, rawURL string, maxBytes int64, headers map[string]string) (*Payload, *Saved, error) {
	payload, err := Fetch(ctx, rawURL, maxBytes, headers)
	if err != nil {
		return nil, nil, err
	}
	saved, err := Save(payload.Data, payload.Filename)
	if err != nil {
		return nil, nil, err
	}
	return payload, saved, nil
}
