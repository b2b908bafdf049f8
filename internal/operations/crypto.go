package operations

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/pkg/schema"
)

// CryptoOperations returns the hashing and id-generation operations.
func CryptoOperations() []Operation {
	return []Operation{
		NewPure("crypto.hash", Spec{
			Description: "Compute a cryptographic hash, or an HMAC when key is set",
			Params: []Param{
				{Name: "data", Type: TypeString},
				{Name: "algorithm", Type: TypeString},
				{Name: "key", Type: TypeString},
			},
			Returns: TypeDict,
			Outputs: []string{"hash", "algorithm"},
		}, cryptoHash),
		NewPure("crypto.uuid", Spec{
			Description: "Generate a v4 UUID",
			Returns:     TypeString,
		}, func(context.Context, map[string]any) (any, error) {
			return uuid.NewString(), nil
		}),
	}
}

var hashes = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

// cryptoHash hex-encodes the digest of data. A non-empty key switches to
// HMAC with the same algorithm.
func cryptoHash(_ context.Context, in map[string]any) (any, error) {
	algorithm := stringParam(in, "algorithm", "")
	if algorithm == "" {
		algorithm = "sha256"
	}
	newHash, ok := hashes[algorithm]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "crypto.hash: unsupported algorithm %q", algorithm)
	}

	h := newHash()
	if key := stringParam(in, "key", ""); key != "" {
		h = hmac.New(newHash, []byte(key))
	}
	io.WriteString(h, stringParam(in, "data", ""))

	return map[string]any{"hash": hex.EncodeToString(h.Sum(nil)), "algorithm": algorithm}, nil
}
