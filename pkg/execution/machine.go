package execution

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultCooldown is how long a terminal state is shown before re-arming
const DefaultCooldown = 2500 * time.Millisecond

// State is the trade execution state
type State string

const (
	StateIdle       State = "idle"
	StateConfirming State = "confirming"
	StateProcessing State = "processing"
	StateSuccess    State = "success"
	StateError      State = "error"
)

var ErrBusy = errors.New("a trade is already in progress")

// Machine tracks a single trade attempt. success and error return to idle
// after the cooldown.
type Machine struct {
	mu         sync.Mutex
	state      State
	generation uint64
	cooldown   time.Duration
	schedule   func(time.Duration, func())
	listeners  []func(State)
}

// MachineOption configures a Machine
type MachineOption func(*Machine)

func WithCooldown(d time.Duration) MachineOption {
	return func(m *Machine) {
		if d > 0 {
			m.cooldown = d
		}
	}
}

// WithScheduler replaces time.AfterFunc for the re-arm timer
func WithScheduler(fn func(time.Duration, func())) MachineOption {
	return func(m *Machine) {
		if fn != nil {
			m.schedule = fn
		}
	}
}

func NewMachine(opts ...MachineOption) *Machine {
	m := &Machine{
		state:    StateIdle,
		cooldown: DefaultCooldown,
		schedule: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnChange registers a listener called after every transition
func (m *Machine) OnChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Confirm moves idle to confirming
func (m *Machine) Confirm() error {
	return m.transition(StateConfirming, StateIdle)
}

// Process moves confirming to processing
func (m *Machine) Process() error {
	return m.transition(StateProcessing, StateConfirming)
}

// Succeed marks the attempt finalized
func (m *Machine) Succeed() error {
	if err := m.transition(StateSuccess, StateProcessing); err != nil {
		return err
	}
	m.rearm()
	return nil
}

// Fail marks the attempt failed
func (m *Machine) Fail() error {
	if err := m.transition(StateError, StateConfirming, StateProcessing); err != nil {
		return err
	}
	m.rearm()
	return nil
}

// Settle returns to idle directly for a cross-chain order still settling
func (m *Machine) Settle() error {
	return m.transition(StateIdle, StateProcessing)
}

func (m *Machine) transition(to State, from ...State) error {
	m.mu.Lock()
	allowed := false
	for _, f := range from {
		if m.state == f {
			allowed = true
			break
		}
	}
	if !allowed {
		current := m.state
		m.mu.Unlock()
		if to == StateConfirming {
			return ErrBusy
		}
		return fmt.Errorf("invalid transition %s -> %s", current, to)
	}
	m.state = to
	m.generation++
	listeners := append([]func(State){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(to)
	}
	return nil
}

func (m *Machine) rearm() {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()

	m.schedule(m.cooldown, func() {
		m.mu.Lock()
		if m.generation != gen {
			m.mu.Unlock()
			return
		}
		m.state = StateIdle
		m.generation++
		listeners := append([]func(State){}, m.listeners...)
		m.mu.Unlock()

		for _, fn := range listeners {
			fn(StateIdle)
		}
	})
}
