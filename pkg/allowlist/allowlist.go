// Package allowlist implements channel-level access filtering for
// inbound Mattermost events.
package allowlist

import "strings"

// Wildcard is the entry that collapses an allow_from list to allow-all.
const Wildcard = "*"

// Build normalizes a raw allow_from list into an allow-set. Entries are
// trimmed and empty entries dropped. A nil result means allow-all:
// either nothing survived normalization or the wildcard was present.
func Build(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	set := make(map[string]struct{}, len(allowFrom))
	for _, entry := range allowFrom {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == Wildcard {
			return nil
		}
		set[entry] = struct{}{}
	}

	if len(set) == 0 {
		return nil
	}
	return set
}

// Allowed reports whether channelID passes the allow-set. A nil set
// allows everything.
func Allowed(set map[string]struct{}, channelID string) bool {
	if set == nil {
		return true
	}
	_, ok := set[channelID]
	return ok
}
