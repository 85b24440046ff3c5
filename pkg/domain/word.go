package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Symbol is an atomic input or output token.
type Symbol string

// EpsilonString is how the empty word renders for humans.
const EpsilonString = "ε"

// Word is an immutable sequence of symbols.
// The zero value is the empty word.
type Word struct {
	syms []Symbol
}

// Epsilon returns the empty word.
func Epsilon() Word {
	return Word{}
}

// NewWord builds a word from the given symbols. The slice is copied.
func NewWord(syms ...Symbol) Word {
	if len(syms) == 0 {
		return Word{}
	}
	return Word{syms: slices.Clone(syms)}
}

// ParseWord splits a whitespace separated string into a word.
// Both "" and "ε" parse to the empty word.
func ParseWord(s string) Word {
	fields := strings.Fields(s)
	if len(fields) == 0 || (len(fields) == 1 && fields[0] == EpsilonString) {
		return Word{}
	}
	syms := make([]Symbol, len(fields))
	for i, f := range fields {
		syms[i] = Symbol(f)
	}
	return Word{syms: syms}
}

// Len returns the number of symbols.
func (w Word) Len() int {
	return len(w.syms)
}

// IsEmpty reports whether w is the empty word.
func (w Word) IsEmpty() bool {
	return len(w.syms) == 0
}

// At returns the symbol at position i.
func (w Word) At(i int) Symbol {
	return w.syms[i]
}

// Last returns the final symbol. It panics on the empty word.
func (w Word) Last() Symbol {
	return w.syms[len(w.syms)-1]
}

// Symbols returns a copy of the underlying symbols.
func (w Word) Symbols() []Symbol {
	return slices.Clone(w.syms)
}

// Prefix returns the first n symbols.
func (w Word) Prefix(n int) Word {
	if n <= 0 {
		return Word{}
	}
	if n >= len(w.syms) {
		return w
	}
	return Word{syms: w.syms[:n:n]}
}

// Suffix returns the last n symbols.
func (w Word) Suffix(n int) Word {
	if n <= 0 {
		return Word{}
	}
	if n >= len(w.syms) {
		return w
	}
	return Word{syms: w.syms[len(w.syms)-n:]}
}

// Concat returns w followed by other.
func (w Word) Concat(other Word) Word {
	if other.IsEmpty() {
		return w
	}
	if w.IsEmpty() {
		return other
	}
	out := make([]Symbol, 0, len(w.syms)+len(other.syms))
	out = append(out, w.syms...)
	out = append(out, other.syms...)
	return Word{syms: out}
}

// Append returns w extended by the given symbols.
func (w Word) Append(syms ...Symbol) Word {
	return w.Concat(Word{syms: syms})
}

// IsPrefixOf reports whether w is a prefix of other.
func (w Word) IsPrefixOf(other Word) bool {
	if len(w.syms) > len(other.syms) {
		return false
	}
	for i, s := range w.syms {
		if other.syms[i] != s {
			return false
		}
	}
	return true
}

// HasPrefix reports whether p is a prefix of w.
func (w Word) HasPrefix(p Word) bool {
	return p.IsPrefixOf(w)
}

// Equal reports symbol-wise equality.
func (w Word) Equal(other Word) bool {
	return slices.Equal(w.syms, other.syms)
}

// Key returns the canonical, space-joined form used as a store key.
// The empty word has the empty key.
func (w Word) Key() string {
	if len(w.syms) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, s := range w.syms {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(string(s))
	}
	return sb.String()
}

// String renders the word for logs, using ε for the empty word.
func (w Word) String() string {
	if len(w.syms) == 0 {
		return EpsilonString
	}
	return w.Key()
}

// MarshalText encodes the word in its canonical form.
func (w Word) MarshalText() ([]byte, error) {
	return []byte(w.Key()), nil
}

// UnmarshalText parses the canonical form.
func (w *Word) UnmarshalText(b []byte) error {
	*w = ParseWord(string(b))
	return nil
}

// Repeat returns a word of n copies of sym.
func Repeat(sym Symbol, n int) Word {
	if n <= 0 {
		return Word{}
	}
	syms := make([]Symbol, n)
	for i := range syms {
		syms[i] = sym
	}
	return Word{syms: syms}
}

// LexCompare orders words symbol by symbol using the alphabet order;
// a proper prefix orders before its extensions.
func LexCompare(a, b Word, alphabet Alphabet) int {
	n := min(a.Len(), b.Len())
	for i := range n {
		if c := alphabet.Compare(a.syms[i], b.syms[i]); c != 0 {
			return c
		}
	}
	switch {
	case a.Len() < b.Len():
		return -1
	case a.Len() > b.Len():
		return 1
	default:
		return 0
	}
}

// GoString makes test failures readable.
func (w Word) GoString() string {
	return fmt.Sprintf("domain.ParseWord(%q)", w.Key())
}
