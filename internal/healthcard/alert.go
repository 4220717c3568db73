package healthcard

import (
	"errors"
	"fmt"
)

// AlertKind identifies a terminal alert.
type AlertKind string

const (
	AlertCardUnlocked                  AlertKind = "card_unlocked"
	AlertCardUnlockedWithNewPIN        AlertKind = "card_unlocked_with_new_pin"
	AlertPINChanged                    AlertKind = "pin_changed"
	AlertWrongPUK                      AlertKind = "wrong_puk"
	AlertWrongOldPIN                   AlertKind = "wrong_old_pin"
	AlertPUKCounterExhausted           AlertKind = "puk_counter_exhausted"
	AlertPUKCounterExhaustedWithNewPIN AlertKind = "puk_counter_exhausted_with_new_pin"
	AlertPINCounterExhausted           AlertKind = "pin_counter_exhausted"
	AlertPasswordNotFound              AlertKind = "password_not_found"
	AlertSecurityStatusNotSatisfied    AlertKind = "security_status_not_satisfied"
	AlertMemoryFailure                 AlertKind = "memory_failure"
	AlertUnknownFailure                AlertKind = "unknown_failure"
	AlertWrongPasswordLength           AlertKind = "wrong_password_length"
	AlertWrongCAN                      AlertKind = "wrong_can"
	AlertSessionError                  AlertKind = "session_error"
)

// Intent is a navigation request the caller carries out.
type Intent int

const (
	IntentClose Intent = iota
	IntentNavigateToSettings
	IntentNavigateToCANEntry
	IntentNavigateToOldPINEntry
	IntentNavigateToPUKEntry
)

// Action is an alert button.
type Action struct {
	Title  string
	Intent Intent
}

// Alert is what the user sees when a session ends.
type Alert struct {
	Kind        AlertKind
	Title       string
	Message     string
	RetriesLeft int
	Actions     []Action
}

var (
	actionOK       = Action{Title: "OK", Intent: IntentClose}
	actionCancel   = Action{Title: "Cancel", Intent: IntentClose}
	actionSettings = Action{Title: "OK", Intent: IntentNavigateToSettings}
)

// AlertForResponse selects the alert for a classified card answer.
// A wrong secret warning with no retries left is reported as exhausted.
func AlertForResponse(mode Mode, resp Response) Alert {
	switch resp.Kind {
	case ResponseSuccess:
		return successAlert(mode)
	case ResponseWrongSecretWarning:
		if resp.RetriesLeft <= 0 {
			return blockedAlert(mode)
		}
		return wrongSecretAlert(mode, resp.RetriesLeft)
	case ResponseCommandBlocked:
		return blockedAlert(mode)
	case ResponsePasswordNotFound:
		return Alert{Kind: AlertPasswordNotFound, Title: "Password not found",
			Message: "The card does not hold the requested password.", Actions: []Action{actionOK}}
	case ResponseSecurityStatusNotSatisfied:
		return Alert{Kind: AlertSecurityStatusNotSatisfied, Title: "Access denied",
			Message: "The card refused the operation in its current security state.", Actions: []Action{actionOK}}
	case ResponseMemoryFailure:
		return Alert{Kind: AlertMemoryFailure, Title: "Card memory error",
			Message: "The card could not store the change.", Actions: []Action{actionOK}}
	case ResponseWrongPasswordLength:
		return Alert{Kind: AlertWrongPasswordLength, Title: "Invalid length",
			Message: "The entered PIN or PUK has the wrong number of digits.", Actions: []Action{actionOK}}
	default:
		return Alert{Kind: AlertUnknownFailure, Title: "Unknown error",
			Message: "The card returned an unexpected response.", Actions: []Action{actionOK}}
	}
}

func successAlert(mode Mode) Alert {
	switch mode.(type) {
	case ResetPINCounterWithNewSecret:
		return Alert{Kind: AlertCardUnlockedWithNewPIN, Title: "Card unlocked",
			Message: "Your card is unlocked and the new PIN is set.", Actions: []Action{actionSettings}}
	case ChangePINSecret:
		return Alert{Kind: AlertPINChanged, Title: "PIN changed",
			Message: "Your new PIN is set.", Actions: []Action{actionSettings}}
	default:
		return Alert{Kind: AlertCardUnlocked, Title: "Card unlocked",
			Message: "Your card is unlocked. Keep using your previous PIN.", Actions: []Action{actionSettings}}
	}
}

func wrongSecretAlert(mode Mode, retries int) Alert {
	if _, ok := mode.(ChangePINSecret); ok {
		return Alert{
			Kind:        AlertWrongOldPIN,
			Title:       "Wrong PIN",
			Message:     fmt.Sprintf("%d retries left.", retries),
			RetriesLeft: retries,
			Actions: []Action{
				{Title: "Enter PIN", Intent: IntentNavigateToOldPINEntry},
				actionCancel,
			},
		}
	}
	return Alert{
		Kind:        AlertWrongPUK,
		Title:       "Wrong PUK",
		Message:     fmt.Sprintf("%d retries left.", retries),
		RetriesLeft: retries,
		Actions: []Action{
			{Title: "Enter PUK", Intent: IntentNavigateToPUKEntry},
			actionCancel,
		},
	}
}

func blockedAlert(mode Mode) Alert {
	switch mode.(type) {
	case ResetPINCounterWithNewSecret:
		return Alert{Kind: AlertPUKCounterExhaustedWithNewPIN, Title: "PUK blocked",
			Message: "The PUK can no longer be used. The new PIN was not set.", Actions: []Action{actionOK}}
	case ChangePINSecret:
		return Alert{Kind: AlertPINCounterExhausted, Title: "PIN blocked",
			Message: "Unlock the card with your PUK.", Actions: []Action{actionOK}}
	default:
		return Alert{Kind: AlertPUKCounterExhausted, Title: "PUK blocked",
			Message: "The PUK can no longer be used. Contact your health insurer.", Actions: []Action{actionOK}}
	}
}

// AlertForError selects the alert for a session-level failure. A user
// cancellation has no alert.
func AlertForError(err error) *Alert {
	switch {
	case err == nil, errors.Is(err, ErrUserCancelled):
		return nil
	case errors.Is(err, ErrWrongCAN):
		return &Alert{
			Kind:    AlertWrongCAN,
			Title:   "Wrong access number",
			Message: "Check the six-digit access number printed on your card.",
			Actions: []Action{
				{Title: "Enter access number", Intent: IntentNavigateToCANEntry},
				actionCancel,
			},
		}
	default:
		return &Alert{Kind: AlertSessionError, Title: "Card error", Message: err.Error(), Actions: []Action{actionOK}}
	}
}
