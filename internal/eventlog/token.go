package eventlog

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// Token encodes a global log position as seq (8 bytes big-endian). The zero
// Token is the position before the first entry.
type Token [8]byte

// TokenFromSeq builds a Token for the given global sequence.
func TokenFromSeq(seq uint64) Token {
	var t Token
	binary.BigEndian.PutUint64(t[:], seq)
	return t
}

func (t Token) Seq() uint64  { return binary.BigEndian.Uint64(t[:]) }
func (t Token) IsZero() bool { return t.Seq() == 0 }

// String renders the token as a decimal sequence. The zero token renders as "".
func (t Token) String() string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatUint(t.Seq(), 10)
}

// ParseToken is the inverse of String. An empty string yields the zero token.
func ParseToken(s string) (Token, error) {
	if s == "" {
		return Token{}, nil
	}
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("eventlog: invalid position %q: %w", s, err)
	}
	return TokenFromSeq(seq), nil
}
