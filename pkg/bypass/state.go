package bypass

import (
	"fmt"
	"strings"
)

// State is a classifier state.
type State int

const (
	Start State = iota
	AwaitResponse
	PostMatch
	Disabled
	AwaitDataAfterTimeout
	DataObserved
	AssociationViolation
)

var stateNames = [...]string{
	Start:                 "start",
	AwaitResponse:         "await-response",
	PostMatch:             "post-match",
	Disabled:              "disabled",
	AwaitDataAfterTimeout: "await-data-after-timeout",
	DataObserved:          "data-observed",
	AssociationViolation:  "association-violation",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further input is forwarded from s.
func (s State) Terminal() bool {
	return s == Disabled || s == AssociationViolation
}

// Variant selects the protocol-specific transitions.
type Variant int

const (
	// Base handles request/response protocols with retransmissions.
	Base Variant = iota
	// Wireless adds the association guard and the post-timeout data probe.
	Wireless
)

func (v Variant) String() string {
	if v == Wireless {
		return "wireless"
	}
	return "base"
}

// ParseVariant parses "base" or "wireless"; the empty string is Base.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "base":
		return Base, nil
	case "wireless", "wifi":
		return Wireless, nil
	}
	return Base, fmt.Errorf("unknown bypass variant %q", s)
}
