package models

import (
	"errors"
	"fmt"
	"strings"
)

// Mode is one analysis mode a symbol can be queued for.
type Mode string

const (
	ModePreMarket    Mode = "pre"
	ModePostMarket   Mode = "post"
	ModeOpeningPrice Mode = "opening_price"
)

// ErrUnknownMode is returned for a selection or mode name outside AllModes.
var ErrUnknownMode = errors.New("unknown analysis mode")

// SelectionAll requests every mode.
const SelectionAll = "both"

// AllModes lists modes in canonical order.
var AllModes = []Mode{ModePreMarket, ModePostMarket, ModeOpeningPrice}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModePreMarket, ModePostMarket, ModeOpeningPrice:
		return true
	}
	return false
}

// Label is the human readable name used in the run log.
func (m Mode) Label() string {
	switch m {
	case ModePreMarket:
		return "pre-market"
	case ModePostMarket:
		return "post-market"
	case ModeOpeningPrice:
		return "opening price"
	}
	return string(m)
}

// NeedsIntraday reports whether the mode consumes intraday observations.
func (m Mode) NeedsIntraday() bool {
	return m == ModePreMarket || m == ModePostMarket
}

// ModeSet is a duplicate-free set of modes kept in canonical order.
type ModeSet []Mode

// NewModeSet builds a canonical set from modes, ignoring unknown ones.
func NewModeSet(modes ...Mode) ModeSet {
	var s ModeSet
	for _, m := range modes {
		s = s.Add(m)
	}
	return s
}

// ParseSelection turns an operator selection ("pre", "post", "opening_price", "both")
// into a mode set.
func ParseSelection(sel string) (ModeSet, error) {
	sel = strings.TrimSpace(strings.ToLower(sel))
	if sel == "" || sel == SelectionAll {
		return NewModeSet(AllModes...), nil
	}
	m := Mode(sel)
	if !m.Valid() {
		return nil, fmt.Errorf("%w %q", ErrUnknownMode, sel)
	}
	return ModeSet{m}, nil
}

// ParseModeSet parses the comma separated form produced by String.
func ParseModeSet(s string) (ModeSet, error) {
	var set ModeSet
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m := Mode(part)
		if !m.Valid() {
			return nil, fmt.Errorf("%w %q", ErrUnknownMode, part)
		}
		set = set.Add(m)
	}
	return set, nil
}

// Has reports whether m is in the set.
func (s ModeSet) Has(m Mode) bool {
	for _, x := range s {
		if x == m {
			return true
		}
	}
	return false
}

// Add returns the set with m merged in canonical order.
func (s ModeSet) Add(m Mode) ModeSet {
	if !m.Valid() || s.Has(m) {
		return s
	}
	out := make(ModeSet, 0, len(s)+1)
	for _, c := range AllModes {
		if c == m || s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Union merges two sets.
func (s ModeSet) Union(o ModeSet) ModeSet {
	out := s
	for _, m := range o {
		out = out.Add(m)
	}
	return out
}

// NeedsIntraday reports whether any mode in the set needs intraday data.
func (s ModeSet) NeedsIntraday() bool {
	for _, m := range s {
		if m.NeedsIntraday() {
			return true
		}
	}
	return false
}

func (s ModeSet) String() string {
	parts := make([]string, len(s))
	for i, m := range s {
		parts[i] = string(m)
	}
	return strings.Join(parts, ",")
}
