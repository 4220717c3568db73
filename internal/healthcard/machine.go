package healthcard

import (
	"context"
	"sync"
)

// Phase is the machine's position in a session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseReadingCard
	PhaseAlert
)

// State is the observable machine state. Alert is set in PhaseAlert.
type State struct {
	Phase Phase
	Mode  Mode
	Alert *Alert
}

// Delegate carries out navigation intents. The machine never navigates itself.
type Delegate interface {
	Close()
	NavigateToSettings()
	NavigateToCANEntry()
	NavigateToOldPINEntry()
	NavigateToPUKEntry()
}

// Runner executes one card operation.
type Runner interface {
	Run(ctx context.Context, mode Mode) (Response, error)
}

// Machine is the password session state machine:
// idle -> reading card -> alert -> (action) -> idle.
type Machine struct {
	runner   Runner
	delegate Delegate

	mu    sync.Mutex
	state State
}

// NewMachine creates an idle machine.
func NewMachine(runner Runner, delegate Delegate) *Machine {
	return &Machine{runner: runner, delegate: delegate}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReadCard runs one operation and returns the resulting state. A new call
// supersedes whatever state the previous session left behind.
func (m *Machine) ReadCard(ctx context.Context, mode Mode) State {
	m.set(State{Phase: PhaseReadingCard, Mode: mode})

	resp, err := m.runner.Run(ctx, mode)

	next := State{Phase: PhaseIdle}
	if err != nil {
		if alert := AlertForError(err); alert != nil {
			next = State{Phase: PhaseAlert, Mode: mode, Alert: alert}
		}
	} else {
		alert := AlertForResponse(mode, resp)
		next = State{Phase: PhaseAlert, Mode: mode, Alert: &alert}
	}
	m.set(next)
	return next
}

// Choose dismisses the current alert with action, forwards its intent to the
// delegate and returns to idle.
func (m *Machine) Choose(action Action) {
	m.set(State{Phase: PhaseIdle})

	switch action.Intent {
	case IntentNavigateToSettings:
		m.delegate.NavigateToSettings()
	case IntentNavigateToCANEntry:
		m.delegate.NavigateToCANEntry()
	case IntentNavigateToOldPINEntry:
		m.delegate.NavigateToOldPINEntry()
	case IntentNavigateToPUKEntry:
		m.delegate.NavigateToPUKEntry()
	default:
		m.delegate.Close()
	}
}

func (m *Machine) set(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
