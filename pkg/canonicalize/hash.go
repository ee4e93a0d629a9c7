// Package canonicalize provides the deterministic content hash of generated
// and received MISMO documents, and RFC 8785 canonical JSON digests of
// conformance reports.
package canonicalize

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
)

// HashPrefix tags every content hash with its algorithm.
const HashPrefix = "sha256:"

// ContentHash returns "sha256:" + hex(sha256(data)). It is a pure function
// of the bytes: no normalisation is applied.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// VerifyContentHash reports whether want is the content hash of data.
func VerifyContentHash(data []byte, want string) bool {
	got := ContentHash(data)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// ValidHash reports whether h has the form sha256:<64 lowercase hex>.
func ValidHash(h string) bool {
	if !strings.HasPrefix(h, HashPrefix) {
		return false
	}
	hexPart := strings.TrimPrefix(h, HashPrefix)
	if len(hexPart) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil && strings.ToLower(hexPart) == hexPart
}

// CanonicalJSON marshals v and rewrites it into RFC 8785 canonical form.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical json: transform: %w", err)
	}
	return out, nil
}

// Digest is the content hash of v's canonical JSON.
func Digest(v any) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return ContentHash(b), nil
}
