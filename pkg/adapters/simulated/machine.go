package simulated

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/mealycache/pkg/domain"
)

// Transition is the output and successor state for one input.
type Transition struct {
	Output domain.Symbol `yaml:"output" json:"output"`
	Next   string        `yaml:"next" json:"next"`
}

// Noise makes the machine answer a step with Output instead of the real response,
// with the given probability.
type Noise struct {
	Probability float64       `yaml:"probability" json:"probability"`
	Output      domain.Symbol `yaml:"output" json:"output"`
	Seed        uint64        `yaml:"seed" json:"seed"`
}

// Machine is a Mealy machine definition.
// Inputs with no transition from a state produce Default and stay in place.
type Machine struct {
	Initial string                                  `yaml:"initial" json:"initial"`
	Default domain.Symbol                           `yaml:"default" json:"default"`
	States  map[string]map[domain.Symbol]Transition `yaml:"states" json:"states"`
	Noise   *Noise                                  `yaml:"noise,omitempty" json:"noise,omitempty"`
}

// Validate checks that every referenced state exists.
func (m *Machine) Validate() error {
	if m.Initial == "" {
		return errors.New("machine: initial state is required")
	}
	if _, ok := m.States[m.Initial]; !ok {
		return fmt.Errorf("machine: initial state %q is not defined", m.Initial)
	}
	for name, trans := range m.States {
		for in, t := range trans {
			if _, ok := m.States[t.Next]; !ok {
				return fmt.Errorf("machine: state %q input %q goes to undefined state %q", name, in, t.Next)
			}
		}
	}
	if m.Noise != nil && (m.Noise.Probability < 0 || m.Noise.Probability > 1) {
		return fmt.Errorf("machine: noise probability %v out of range", m.Noise.Probability)
	}
	return nil
}

// Parse decodes a YAML machine definition.
func Parse(data []byte) (*Machine, error) {
	var m Machine
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse machine: %w", err)
	}
	if m.Default == "" {
		m.Default = "NIL"
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads a machine definition from a YAML or JSON file.
func Load(path string) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read machine: %w", err)
	}
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		var m Machine
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse machine: %w", err)
		}
		if m.Default == "" {
			m.Default = "NIL"
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		return &m, nil
	}
	return Parse(data)
}
