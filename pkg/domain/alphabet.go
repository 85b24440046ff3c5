package domain

import (
	"cmp"
	"fmt"
	"strings"
)

// Alphabet is a fixed, ordered set of input symbols.
// Its order defines the lexicographic order used when sorting batches.
type Alphabet struct {
	syms  []Symbol
	index map[Symbol]int
}

// NewAlphabet validates and builds an alphabet in the given order.
func NewAlphabet(syms ...Symbol) (Alphabet, error) {
	a := Alphabet{
		syms:  make([]Symbol, 0, len(syms)),
		index: make(map[Symbol]int, len(syms)),
	}
	for _, s := range syms {
		if s == "" {
			return Alphabet{}, fmt.Errorf("alphabet: empty symbol")
		}
		if strings.ContainsFunc(string(s), isSpace) {
			return Alphabet{}, fmt.Errorf("alphabet: symbol %q contains whitespace", s)
		}
		if _, dup := a.index[s]; dup {
			return Alphabet{}, fmt.Errorf("alphabet: duplicate symbol %q", s)
		}
		a.index[s] = len(a.syms)
		a.syms = append(a.syms, s)
	}
	return a, nil
}

// MustAlphabet is NewAlphabet for fixed literals. It panics on invalid input.
func MustAlphabet(syms ...Symbol) Alphabet {
	a, err := NewAlphabet(syms...)
	if err != nil {
		panic(err)
	}
	return a
}

// Size returns the number of symbols.
func (a Alphabet) Size() int {
	return len(a.syms)
}

// Symbols returns the symbols in alphabet order.
func (a Alphabet) Symbols() []Symbol {
	out := make([]Symbol, len(a.syms))
	copy(out, a.syms)
	return out
}

// Index returns the position of s, or -1 if s is not a member.
func (a Alphabet) Index(s Symbol) int {
	if i, ok := a.index[s]; ok {
		return i
	}
	return -1
}

// Contains reports membership.
func (a Alphabet) Contains(s Symbol) bool {
	_, ok := a.index[s]
	return ok
}

// Compare orders two symbols by alphabet position.
// Non-members sort after all members, then by string value.
func (a Alphabet) Compare(x, y Symbol) int {
	ix, iy := a.Index(x), a.Index(y)
	switch {
	case ix >= 0 && iy >= 0:
		return cmp.Compare(ix, iy)
	case ix >= 0:
		return -1
	case iy >= 0:
		return 1
	default:
		return cmp.Compare(x, y)
	}
}

// Validate returns ErrUnknownSymbol for the first symbol of w outside the alphabet.
func (a Alphabet) Validate(w Word) error {
	for i := range w.Len() {
		if !a.Contains(w.At(i)) {
			return fmt.Errorf("%w: %q at position %d of %s", ErrUnknownSymbol, w.At(i), i, w)
		}
	}
	return nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}
