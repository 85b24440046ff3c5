package simulated

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/aretw0/mealycache/pkg/domain"
)

// SUL runs a Machine. It implements ports.SUL and is safe for concurrent use,
// though a single instance only models one session at a time.
type SUL struct {
	machine *Machine

	mu     sync.Mutex
	state  string
	rng    *rand.Rand
	steps  int
	resets int
}

// New creates a SUL in the machine's initial state.
func New(m *Machine) *SUL {
	s := &SUL{machine: m, state: m.Initial}
	if m.Noise != nil {
		s.rng = rand.New(rand.NewPCG(m.Noise.Seed, m.Noise.Seed^0x9e3779b97f4a7c15))
	}
	return s
}

// Pre resets the machine.
func (s *SUL) Pre(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.machine.Initial
	s.resets++
	return nil
}

// Step feeds one input.
func (s *SUL) Step(ctx context.Context, input domain.Symbol) (domain.Symbol, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps++

	out := s.machine.Default
	if t, ok := s.machine.States[s.state][input]; ok {
		out = t.Output
		s.state = t.Next
	}
	if s.rng != nil && s.rng.Float64() < s.machine.Noise.Probability {
		return s.machine.Noise.Output, nil
	}
	return out, nil
}

// Post is a no-op.
func (s *SUL) Post(ctx context.Context) error {
	return nil
}

// Steps returns the number of inputs processed.
func (s *SUL) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

// Resets returns the number of Pre calls.
func (s *SUL) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Run returns the noise-free response of the machine to input, from the initial state.
func (m *Machine) Run(input domain.Word) domain.Word {
	state := m.Initial
	out := make([]domain.Symbol, input.Len())
	for i := range input.Len() {
		t, ok := m.States[state][input.At(i)]
		if !ok {
			out[i] = m.Default
			continue
		}
		out[i] = t.Output
		state = t.Next
	}
	return domain.NewWord(out...)
}
