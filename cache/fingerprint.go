package cache

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Fingerprint is the content hash identifying a cacheable request. Equality
// defines cache identity.
type Fingerprint string

// NewFingerprint hashes the normalized SQL text, bound parameters, the logical
// schema digest of the referenced tables and any result-shaping options into
// a request fingerprint.
func NewFingerprint(sql string, params []string, schemaDigest string, opts ...string) Fingerprint {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(sql))
	sb.WriteString("|")
	sb.WriteString(strings.Join(params, ","))
	sb.WriteString("|")
	sb.WriteString(schemaDigest)
	for _, opt := range opts {
		sb.WriteString("|")
		sb.WriteString(opt)
	}

	hash := sha256.Sum256([]byte(sb.String()))
	return Fingerprint(fmt.Sprintf("%x", hash))
}
