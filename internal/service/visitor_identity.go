package service

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	maxIPAddressLength   = 45
	maxFingerprintLength = 255
)

// ResolveClientIP 尽力推断访客 IP：优先取转发头的第一个地址，其次取直连地址。
// 两者都无效时返回 nil，不会返回 "unknown" 之类的占位值。
func ResolveClientIP(forwarded []string, remoteAddr string) *string {
	if len(forwarded) > 0 {
		first, _, _ := strings.Cut(forwarded[0], ",")
		if ip := validIP(first); ip != nil {
			return ip
		}
	}
	return validIP(remoteAddr)
}

func validIP(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > maxIPAddressLength {
		return nil
	}
	return &trimmed
}

// Identity is the composite (ip, fingerprint) key used to recognise repeat visits.
// A nil part means the signal was unavailable.
type Identity struct {
	IP          *string
	Fingerprint *string
}

// NewIdentity builds an identity, treating blank parts as absent.
// A fingerprint longer than the stored column is unusable and also counts as absent.
func NewIdentity(ip, fingerprint *string) Identity {
	fp := normalizeOptional(fingerprint)
	if fp != nil && len(*fp) > maxFingerprintLength {
		fp = nil
	}
	return Identity{IP: normalizeOptional(ip), Fingerprint: fp}
}

// Deduplicable reports whether at least one identity part is present.
func (i Identity) Deduplicable() bool {
	return i.IP != nil || i.Fingerprint != nil
}

// Key renders the identity with absent parts as empty strings.
func (i Identity) Key() string {
	return identityKey(deref(i.IP), deref(i.Fingerprint))
}

// Hash is a fixed-length digest of Key, safe to embed in lock names.
func (i Identity) Hash() string {
	sum := sha256.Sum256([]byte(i.Key()))
	return hex.EncodeToString(sum[:])
}

func identityKey(ip, fingerprint string) string {
	// NUL cannot appear in a header value, so the join is unambiguous.
	return ip + "\x00" + fingerprint
}

func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
