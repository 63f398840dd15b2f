package symbol

import (
	"fmt"
	"strconv"
)

// Symbol is a 64-bit numeric name for a known string. The game refers
// to levels, game modes, regions and message types by symbol on the
// wire; the cache translates them back to text.
type Symbol int64

const fnvOffset = 0xcbf29ce484222325
const fnvPrime = 0x100000001b3

// Of hashes a textual name to its symbol (FNV-1a 64). Message type
// symbols and ad-hoc tokens that are not present in the cache are
// derived this way on both sides of the wire.
func Of(name string) Symbol {
	h := uint64(fnvOffset)
	for i := 0; i < len(name); i++ {
		h ^= uint64(name[i])
		h *= fnvPrime
	}
	return Symbol(h)
}

// HexString renders the symbol as 0x-prefixed 16-digit hex.
func (s Symbol) HexString() string {
	return fmt.Sprintf("0x%016x", uint64(s))
}

// IsNil reports whether the symbol is the zero symbol.
func (s Symbol) IsNil() bool {
	return s == 0
}

// ParseHex parses a 0x-prefixed 16-digit hex token back to a symbol.
func ParseHex(tok string) (Symbol, bool) {
	if len(tok) != 18 || tok[:2] != "0x" {
		return 0, false
	}
	v, err := strconv.ParseUint(tok[2:], 16, 64)
	if err != nil {
		return 0, false
	}
	return Symbol(v), true
}
