package healthcard

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/drfirst/go-erezept/internal/observability/metrics"
)

type scriptedCard struct {
	sw    StatusWord
	err   error
	calls []string
}

func (c *scriptedCard) ResetRetryCounter(_ context.Context, puk, newPIN string) (StatusWord, error) {
	c.calls = append(c.calls, fmt.Sprintf("reset(%s,%s)", puk, newPIN))
	return c.sw, c.err
}

func (c *scriptedCard) ChangeReferenceData(_ context.Context, oldPIN, newPIN string) (StatusWord, error) {
	c.calls = append(c.calls, fmt.Sprintf("change(%s,%s)", oldPIN, newPIN))
	return c.sw, c.err
}

type scriptedSession struct {
	card        *scriptedCard
	invalidated []string
}

func (s *scriptedSession) Card() Card                { return s.card }
func (s *scriptedSession) Invalidate(message string) { s.invalidated = append(s.invalidated, message) }

type scriptedOpener struct {
	session *scriptedSession
	err     error
	can     string
}

func (o *scriptedOpener) Open(_ context.Context, can string) (Session, error) {
	o.can = can
	if o.err != nil {
		return nil, o.err
	}
	return o.session, nil
}

type recordingDelegate struct{ calls []string }

func (d *recordingDelegate) Close()                 { d.calls = append(d.calls, "close") }
func (d *recordingDelegate) NavigateToSettings()    { d.calls = append(d.calls, "settings") }
func (d *recordingDelegate) NavigateToCANEntry()    { d.calls = append(d.calls, "can") }
func (d *recordingDelegate) NavigateToOldPINEntry() { d.calls = append(d.calls, "old_pin") }
func (d *recordingDelegate) NavigateToPUKEntry()    { d.calls = append(d.calls, "puk") }

func TestControllerDispatchesOneCommand(t *testing.T) {
	tests := []struct {
		mode Mode
		call string
	}{
		{resetKeep, "reset(12345678,)"},
		{resetNew, "reset(12345678,654321)"},
		{changePIN, "change(123456,654321)"},
	}

	for _, tt := range tests {
		t.Run(tt.mode.Name(), func(t *testing.T) {
			card := &scriptedCard{sw: SWSuccess}
			session := &scriptedSession{card: card}
			opener := &scriptedOpener{session: session}

			resp, err := NewController(opener, nil, nil).Run(context.Background(), tt.mode)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if resp.Kind != ResponseSuccess {
				t.Errorf("resp = %+v", resp)
			}
			if opener.can != "123123" {
				t.Errorf("opened with CAN %q", opener.can)
			}
			if len(card.calls) != 1 || card.calls[0] != tt.call {
				t.Errorf("card calls = %v, want [%s]", card.calls, tt.call)
			}
			if len(session.invalidated) != 1 || session.invalidated[0] != "" {
				t.Errorf("invalidated = %q", session.invalidated)
			}
		})
	}
}

func TestControllerRecordsMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	card := &scriptedCard{sw: 0x63C1}
	ctrl := NewController(&scriptedOpener{session: &scriptedSession{card: card}}, m, nil)

	if _, err := ctrl.Run(context.Background(), changePIN); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := testutil.ToFloat64(m.CardOperations.WithLabelValues("change_pin", "wrong_secret_warning")); got != 1 {
		t.Errorf("card operations = %v, want 1", got)
	}
}

func TestControllerCardErrorInvalidatesWithMessage(t *testing.T) {
	card := &scriptedCard{err: errors.New("tag connection lost")}
	session := &scriptedSession{card: card}

	_, err := NewController(&scriptedOpener{session: session}, nil, nil).Run(context.Background(), changePIN)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(session.invalidated) != 1 || session.invalidated[0] != "tag connection lost" {
		t.Errorf("invalidated = %q", session.invalidated)
	}
}

func TestMachinePUKResetRetries(t *testing.T) {
	tests := []struct {
		name string
		sw   StatusWord
		want AlertKind
	}{
		{"two retries left", 0x63C2, AlertWrongPUK},
		{"no retries left", 0x63C0, AlertPUKCounterExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener := &scriptedOpener{session: &scriptedSession{card: &scriptedCard{sw: tt.sw}}}
			m := NewMachine(NewController(opener, nil, nil), &recordingDelegate{})

			state := m.ReadCard(context.Background(), resetKeep)
			if state.Phase != PhaseAlert || state.Alert == nil || state.Alert.Kind != tt.want {
				t.Fatalf("state = %+v", state)
			}
		})
	}
}

func TestMachineWrongCANThenRetry(t *testing.T) {
	delegate := &recordingDelegate{}
	opener := &scriptedOpener{err: ErrWrongCAN}
	m := NewMachine(NewController(opener, nil, nil), delegate)

	state := m.ReadCard(context.Background(), changePIN)
	if state.Alert == nil || state.Alert.Kind != AlertWrongCAN {
		t.Fatalf("state = %+v", state)
	}

	m.Choose(state.Alert.Actions[0])
	if got := m.State(); got.Phase != PhaseIdle {
		t.Errorf("phase after choose = %v", got.Phase)
	}
	if len(delegate.calls) != 1 || delegate.calls[0] != "can" {
		t.Errorf("delegate calls = %v", delegate.calls)
	}
}

func TestMachineUserCancelIsSilent(t *testing.T) {
	delegate := &recordingDelegate{}
	m := NewMachine(NewController(&scriptedOpener{err: ErrUserCancelled}, nil, nil), delegate)

	state := m.ReadCard(context.Background(), resetNew)
	if state.Phase != PhaseIdle || state.Alert != nil {
		t.Errorf("state = %+v, want idle without alert", state)
	}
	if len(delegate.calls) != 0 {
		t.Errorf("delegate calls = %v", delegate.calls)
	}
}

func TestMachineSuccessNavigatesToSettings(t *testing.T) {
	delegate := &recordingDelegate{}
	opener := &scriptedOpener{session: &scriptedSession{card: &scriptedCard{sw: SWSuccess}}}
	m := NewMachine(NewController(opener, nil, nil), delegate)

	state := m.ReadCard(context.Background(), changePIN)
	if state.Alert.Kind != AlertPINChanged {
		t.Fatalf("alert = %s", state.Alert.Kind)
	}
	m.Choose(state.Alert.Actions[0])
	if len(delegate.calls) != 1 || delegate.calls[0] != "settings" {
		t.Errorf("delegate calls = %v", delegate.calls)
	}
}
