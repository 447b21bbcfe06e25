package config

import (
	"sort"
	"strings"
)

const (
	// FallbackAccountID names the account slot other accounts
	// inherit from.
	FallbackAccountID = "default"

	DefaultMediaMaxMB = 25
)

// ReplyToMode controls how replies thread back onto the source post.
type ReplyToMode string

const (
	ReplyToOff   ReplyToMode = "off"
	ReplyToFirst ReplyToMode = "first"
	ReplyToAll   ReplyToMode = "all"
)

// ResolvedAccount is the effective account record after merging the
// per-account override, the "default" account, and built-in defaults.
type ResolvedAccount struct {
	AccountID              string
	Name                   string
	Enabled                bool
	BaseURL                string
	Token                  string
	AllowFrom              []string // normalized; nil means allow-all
	MediaMaxBytes          int64
	RequireDirectAllowlist bool
	ReplyToMode            ReplyToMode
	DebugLog               bool
}

// IsConfigured reports whether the account can start a gateway: both
// base URL and token must be present.
func (a ResolvedAccount) IsConfigured() bool {
	return a.BaseURL != "" && a.Token != ""
}

// AccountSnapshot is the read-only description handed to status and
// host surfaces.
type AccountSnapshot struct {
	AccountID  string `json:"account_id"`
	Name       string `json:"name,omitempty"`
	Enabled    bool   `json:"enabled"`
	Configured bool   `json:"configured"`
	BaseURL    string `json:"base_url,omitempty"`
}

// DescribeAccount summarizes a resolved account for status surfaces.
func DescribeAccount(a ResolvedAccount) AccountSnapshot {
	return AccountSnapshot{
		AccountID:  a.AccountID,
		Name:       a.Name,
		Enabled:    a.Enabled,
		Configured: a.IsConfigured(),
		BaseURL:    a.BaseURL,
	}
}

// ListAccountIDs returns all configured account ids in stable order,
// or ["default"] when no accounts are configured.
func (c *Config) ListAccountIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	accounts := c.Channels.Mattermost.Accounts
	if len(accounts) == 0 {
		return []string{FallbackAccountID}
	}
	ids := make([]string, 0, len(accounts))
	for id := range accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultAccountID returns the configured default when it names a
// listed account, else the first listed id.
func (c *Config) DefaultAccountID() string {
	c.mu.RLock()
	configured := strings.TrimSpace(c.Channels.Mattermost.DefaultAccount)
	c.mu.RUnlock()

	ids := c.ListAccountIDs()
	if configured != "" {
		for _, id := range ids {
			if id == configured {
				return configured
			}
		}
	}
	if len(ids) > 0 {
		return ids[0]
	}
	return FallbackAccountID
}

// ResolveAccount merges configuration into one effective account
// record. Precedence, highest wins: the explicit per-account override,
// then the "default" account entry, then built-in defaults. Accounts
// are derived fresh on every call; nothing is cached.
func (c *Config) ResolveAccount(accountID string) ResolvedAccount {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mm := c.Channels.Mattermost
	if accountID == "" {
		accountID = FallbackAccountID
	}

	resolved := ResolvedAccount{
		AccountID:              accountID,
		Enabled:                true,
		RequireDirectAllowlist: false,
		ReplyToMode:            ReplyToOff,
	}

	fallback := mm.Accounts[FallbackAccountID]
	override, hasOverride := mm.Accounts[accountID]
	layers := []AccountConfig{fallback}
	if hasOverride {
		layers = append(layers, override)
	}

	mediaMaxMB := DefaultMediaMaxMB
	var allowFrom []string
	debugSet := false
	for _, layer := range layers {
		if layer.Name != "" {
			resolved.Name = layer.Name
		}
		if layer.Enabled != nil {
			resolved.Enabled = *layer.Enabled
		}
		if layer.BaseURL != "" {
			resolved.BaseURL = layer.BaseURL
		}
		if layer.Token != "" {
			resolved.Token = layer.Token
		}
		if len(layer.AllowFrom) > 0 {
			allowFrom = []string(layer.AllowFrom)
		}
		if layer.MediaMaxMB > 0 {
			mediaMaxMB = layer.MediaMaxMB
		}
		if layer.RequireDirectAllowlist != nil {
			resolved.RequireDirectAllowlist = *layer.RequireDirectAllowlist
		}
		if layer.ReplyToMode != "" {
			resolved.ReplyToMode = ReplyToMode(layer.ReplyToMode)
		}
		if layer.DebugLog != nil {
			resolved.DebugLog = *layer.DebugLog
			debugSet = true
		}
	}

	if allowFrom == nil {
		allowFrom = []string(mm.AllowFrom)
	}
	if !debugSet {
		resolved.DebugLog = mm.DebugLog
	}

	resolved.BaseURL = normalizeBaseURL(resolved.BaseURL)
	resolved.AllowFrom = normalizeAllowFrom(allowFrom)
	resolved.MediaMaxBytes = int64(mediaMaxMB) * 1024 * 1024
	return resolved
}

// ResolveAllowFrom returns the effective allow_from list for an
// account, nil meaning allow-all.
func (c *Config) ResolveAllowFrom(accountID string) []string {
	return c.ResolveAccount(accountID).AllowFrom
}

// FormatAllowFrom normalizes a raw allow_from list for display: each
// entry trimmed, empties dropped.
func FormatAllowFrom(allowFrom []string) []string {
	out := make([]string, 0, len(allowFrom))
	for _, entry := range allowFrom {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func normalizeBaseURL(raw string) string {
	return strings.TrimRight(raw, "/")
}

// normalizeAllowFrom trims, drops empties, and dedupes while keeping
// first-seen order. An empty result collapses to nil (allow-all).
func normalizeAllowFrom(allowFrom []string) []string {
	if len(allowFrom) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(allowFrom))
	out := make([]string, 0, len(allowFrom))
	for _, entry := range allowFrom {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, dup := seen[entry]; dup {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
