package crypto

import (
	"encoding/hex"
	"strings"

	"lukechampine.com/blake3"
)

// CIDPrefix tags BLAKE3-256 content identifiers. A change to the canonical
// encoding requires a new prefix.
const CIDPrefix = "b3:"

// CID returns "b3:" followed by the lowercase hex BLAKE3-256 digest of data.
func CID(data []byte) string {
	sum := blake3.Sum256(data)
	return CIDPrefix + hex.EncodeToString(sum[:])
}

func CIDOfJSON(v any) (string, error) {
	canonical, err := CanonicalBytes(v)
	if err != nil {
		return "", err
	}
	return CID(canonical), nil
}

// DID wraps the CID of v as "did:<scheme>:b3:<hex>".
func DID(scheme string, v any) (string, error) {
	cid, err := CIDOfJSON(v)
	if err != nil {
		return "", err
	}
	return "did:" + scheme + ":" + cid, nil
}

// ParseCID validates a full-length CID and returns its digest bytes.
func ParseCID(cid string) ([]byte, error) {
	hexPart, ok := strings.CutPrefix(cid, CIDPrefix)
	if !ok || len(hexPart) != 2*DigestSize || strings.ToLower(hexPart) != hexPart {
		return nil, ErrInvalidCID
	}
	digest, err := hex.DecodeString(hexPart)
	if err != nil {
		return nil, ErrInvalidCID
	}
	return digest, nil
}
