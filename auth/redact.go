package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint returns a short stable digest of a credential, safe to log.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:6])
}

func redactSubprotocols(protocols, prefixes []string) []string {
	out := make([]string, 0, len(protocols))
	for _, p := range protocols {
		out = append(out, redactSubprotocol(p, prefixes))
	}
	return out
}

func redactSubprotocol(p string, prefixes []string) string {
	for _, prefix := range prefixes {
		if strings.HasPrefix(p, prefix) {
			return prefix + "[redacted]"
		}
	}
	return p
}

func queryKeys(req ConnectionRequest) []string {
	keys := make([]string, 0, len(req.Query))
	for k := range req.Query {
		keys = append(keys, k)
	}
	return keys
}
