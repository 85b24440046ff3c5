package bypass

import (
	"fmt"
	"regexp"

	"github.com/aretw0/mealycache/pkg/domain"
)

// DefaultTimestampPattern strips a trailing timing annotation such as "ACK@12.5ms".
const DefaultTimestampPattern = `@[0-9]+(\.[0-9]+)?(ns|us|µs|ms|s)?$`

// Normalizer removes timing annotations from output symbols before they are compared.
// A nil Normalizer leaves symbols unchanged.
type Normalizer struct {
	re *regexp.Regexp
}

// NewNormalizer compiles pattern. An empty pattern disables normalization.
func NewNormalizer(pattern string) (*Normalizer, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp pattern: %w", err)
	}
	return &Normalizer{re: re}, nil
}

// Symbol strips the annotation from sym.
func (n *Normalizer) Symbol(sym domain.Symbol) domain.Symbol {
	if n == nil {
		return sym
	}
	return domain.Symbol(n.re.ReplaceAllString(string(sym), ""))
}

// Word strips the annotation from every symbol of w.
func (n *Normalizer) Word(w domain.Word) domain.Word {
	if n == nil {
		return w
	}
	syms := w.Symbols()
	for i, s := range syms {
		syms[i] = n.Symbol(s)
	}
	return domain.NewWord(syms...)
}
