// Package healthcard drives PIN and PUK operations on an NFC health card and
// turns their outcome into user-facing alerts. The card transport is supplied by
// the host through a SessionOpener.
package healthcard

// Mode selects the password operation of one card session.
type Mode interface {
	// Name is a stable label used in logs and metrics.
	Name() string
	cardAccessNumber() string
}

// ResetPINCounterWithoutNewSecret unblocks the PIN with the PUK and keeps the old PIN.
type ResetPINCounterWithoutNewSecret struct {
	CAN string
	PUK string
}

// ResetPINCounterWithNewSecret unblocks the PIN with the PUK and sets NewPIN.
type ResetPINCounterWithNewSecret struct {
	CAN    string
	PUK    string
	NewPIN string
}

// ChangePINSecret replaces OldPIN with NewPIN.
type ChangePINSecret struct {
	CAN    string
	OldPIN string
	NewPIN string
}

func (ResetPINCounterWithoutNewSecret) Name() string { return "reset_pin_counter" }
func (ResetPINCounterWithNewSecret) Name() string    { return "reset_pin_counter_new_pin" }
func (ChangePINSecret) Name() string                 { return "change_pin" }

func (m ResetPINCounterWithoutNewSecret) cardAccessNumber() string { return m.CAN }
func (m ResetPINCounterWithNewSecret) cardAccessNumber() string    { return m.CAN }
func (m ChangePINSecret) cardAccessNumber() string                 { return m.CAN }
