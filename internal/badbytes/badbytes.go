// Package badbytes implements the one parsing rule shared by the
// options registry (C1) and the filter pipeline (C4): turning a
// badbytes hex string into a forbidden byte set (§3, §4.4).
package badbytes

import (
	"encoding/hex"

	"ropsvc/internal/rerr"
)

// Decode parses s (an even-length hex string) into a byte set. An
// empty string decodes to an empty, non-nil set.
func Decode(s string) (map[byte]struct{}, error) {
	if s == "" {
		return map[byte]struct{}{}, nil
	}
	if len(s)%2 != 0 {
		return nil, &rerr.BadBytesMalformed{Reason: "length must be even"}
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return nil, &rerr.BadBytesMalformed{Reason: "must consist of 0-9, a-f, A-F"}
	}
	set := make(map[byte]struct{}, len(decoded))
	for _, b := range decoded {
		set[b] = struct{}{}
	}
	return set, nil
}
