// Package statemachine declares finite state machines for persisted lifecycles.
//
// Machines here hold no current state: the state of an invitation, QR code or
// conversation lives in its row. A Machine only answers whether a move between two
// states is legal, so it is safe to share a single declaration between goroutines
// once it has been built.
package statemachine

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidTransition is returned when a transition is not declared.
var ErrInvalidTransition = errors.New("invalid state transition")

// Machine is a declared set of legal transitions over states of type T.
type Machine[T comparable] struct {
	name        string
	transitions map[T][]T
}

// New creates an empty machine. Name is used in error messages.
func New[T comparable](name string) *Machine[T] {
	return &Machine[T]{name: name, transitions: make(map[T][]T)}
}

// Allow registers legal transitions from a source state.
func (m *Machine[T]) Allow(from T, to ...T) *Machine[T] {
	for _, target := range to {
		if !slices.Contains(m.transitions[from], target) {
			m.transitions[from] = append(m.transitions[from], target)
		}
	}
	return m
}

// CanTransition reports whether from -> to is declared.
func (m *Machine[T]) CanTransition(from, to T) bool {
	return slices.Contains(m.transitions[from], to)
}

// Transition returns nil when from -> to is legal, ErrInvalidTransition otherwise.
func (m *Machine[T]) Transition(from, to T) error {
	if m.CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%s: %v -> %v: %w", m.name, from, to, ErrInvalidTransition)
}

// Sources returns every state that may move to the given target.
func (m *Machine[T]) Sources(to T) []T {
	var out []T
	for from, targets := range m.transitions {
		if slices.Contains(targets, to) {
			out = append(out, from)
		}
	}
	return out
}

// IsTerminal reports whether no transition leaves state.
func (m *Machine[T]) IsTerminal(state T) bool {
	return len(m.transitions[state]) == 0
}

// Has reports whether state appears in any declared transition.
func (m *Machine[T]) Has(state T) bool {
	if _, ok := m.transitions[state]; ok {
		return true
	}
	return len(m.Sources(state)) > 0
}
