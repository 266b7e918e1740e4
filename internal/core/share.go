package core

import (
	"encoding/base32"
	"fmt"
	"strings"
)

// z-base-32, the human-oriented base32 alphabet.
var zbase32 = base32.NewEncoding("ybndrfg8ejkmcpqxot1uwisza345h769").WithPadding(base32.NoPadding)

// EncodeShare renders an invite as a copy-pasteable string.
func EncodeShare(i *Invite) string {
	return zbase32.EncodeToString(i.Encode())
}

func DecodeShare(s string) (*Invite, error) {
	b, err := zbase32.DecodeString(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInvite, err)
	}
	return DecodeInvite(b)
}

// EncodeKey and DecodeKey render raw keys in the same alphabet.
func EncodeKey(b []byte) string {
	return zbase32.EncodeToString(b)
}

func DecodeKey(s string) ([]byte, error) {
	return zbase32.DecodeString(strings.ToLower(strings.TrimSpace(s)))
}
