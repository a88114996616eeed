// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and keyed digests over it. Fingerprints and config
// signatures are computed over canonical bytes so that equality is
// independent of incidental field order and whitespace.
package canonical

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Marshal returns the RFC 8785 canonical JSON representation of v.
// Map keys are sorted lexicographically by UTF-8 bytes and no
// insignificant whitespace is emitted.
func Marshal(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform failed: %w", err)
	}
	return out, nil
}

// HMAC computes the hex-encoded HMAC-SHA256 of the canonical form of v
// under the given secret. A keyed digest, not a plain hash: without the
// secret an external party cannot forge a matching value.
func HMAC(secret []byte, v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(b)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Equal compares two hex-encoded digests in constant time.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
