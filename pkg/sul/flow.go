package sul

import (
	"fmt"

	"github.com/aretw0/mealycache/pkg/bypass"
	"github.com/aretw0/mealycache/pkg/domain"
)

// FlowStep is one input and the output it must produce.
type FlowStep struct {
	Input  domain.Symbol `yaml:"input" json:"input"`
	Output domain.Symbol `yaml:"output" json:"output"`
}

// Flow is a known-good exchange. Any probe starting with the flow's inputs must
// reproduce its outputs, otherwise the probe is treated as noise.
type Flow []FlowStep

// Inputs returns the flow's input word.
func (f Flow) Inputs() domain.Word {
	syms := make([]domain.Symbol, len(f))
	for i, s := range f {
		syms[i] = s.Input
	}
	return domain.NewWord(syms...)
}

// Check reports a mismatch between the flow and an observed exchange.
// Exchanges that do not start with the flow's inputs always pass.
func (f Flow) Check(input, output domain.Word, norm *bypass.Normalizer) error {
	if len(f) == 0 || !f.Inputs().IsPrefixOf(input) || output.Len() < len(f) {
		return nil
	}
	for i, s := range f {
		if got := norm.Symbol(output.At(i)); got != s.Output {
			return fmt.Errorf("%w: %s expected %s at position %d, got %s", domain.ErrFlowViolation, input, s.Output, i, got)
		}
	}
	return nil
}
