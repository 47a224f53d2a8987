package common

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// GroupID formats the tenant-scoping token applied to every knowledge-graph
// operation. Both halves are required; graph queries with an empty group id
// must never be issued.
func GroupID(orgID, dealID string) string {
	return fmt.Sprintf("%s:%s", orgID, dealID)
}

// SplitGroupID decodes a group id back into its (org, deal) halves.
func SplitGroupID(groupID string) (orgID, dealID string, ok bool) {
	parts := strings.SplitN(groupID, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ContentHash returns the hex-encoded SHA-256 of the given parts joined with
// a NUL separator. Used for idempotency keys: episode bodies, cache keys,
// classifier memoization.
func ContentHash(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
