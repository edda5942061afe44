package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSupervisor_RetriesUntilSuccess(t *testing.T) {
	dialer := &mockDialer{failures: 2}
	s := newTestSession(dialer) // Initial 20ms, Max 500ms

	start := time.Now()
	s.StartReconnect()

	waitFor(t, 2*time.Second, "reconnect", func() bool {
		return s.State() == StateConnected
	})

	if got := dialer.dialCount(); got != 3 {
		t.Errorf("dials = %d, want 3 (two failures then success)", got)
	}

	// Delays 20ms + 40ms + 80ms precede the three attempts.
	if elapsed := time.Since(start); elapsed < 140*time.Millisecond {
		t.Errorf("reconnected after %v, want >= 140ms of backoff", elapsed)
	}

	if got := s.Stats().Reconnects; got != 1 {
		t.Errorf("Stats().Reconnects = %d, want 1", got)
	}
}

func TestSupervisor_CounterResetsAfterSuccess(t *testing.T) {
	dialer := &mockDialer{failures: 3}
	s := newTestSession(dialer)

	s.StartReconnect()
	waitFor(t, 2*time.Second, "first reconnect", func() bool {
		return s.State() == StateConnected
	})

	// Link loss after success: the next loop starts again from the
	// initial delay, not where the last one left off.
	dialer.last().dropLink(errors.New("connection reset"))

	start := time.Now()
	waitFor(t, 2*time.Second, "second reconnect", func() bool {
		return s.State() == StateConnected && dialer.dialCount() == 5
	})

	// Delay(3) onwards would be 160ms+; a reset counter recovers on
	// the 20ms initial delay.
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("second recovery took %v, want initial-delay retry", elapsed)
	}
}

func TestSupervisor_CancelledMidSleep(t *testing.T) {
	dialer := &mockDialer{}
	s := New(Config{
		Zones:             2,
		Sources:           2,
		KeepaliveInterval: -1,
		Backoff:           Backoff{Initial: 5 * time.Second, Max: 60 * time.Second},
	}, dialer.dial, nil)

	s.StartReconnect()
	waitFor(t, time.Second, "loop start", func() bool {
		return s.supervising.Load()
	})

	start := time.Now()
	s.Disconnect()

	waitFor(t, time.Second, "loop exit", func() bool {
		return !s.supervising.Load()
	})

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v, want prompt exit mid-sleep", elapsed)
	}
	if got := dialer.dialCount(); got != 0 {
		t.Errorf("dials = %d, want 0 after cancellation", got)
	}
}

func TestStartReconnect_SecondCallNoOp(t *testing.T) {
	dialer := &mockDialer{}
	s := New(Config{
		Zones:             2,
		Sources:           2,
		KeepaliveInterval: -1,
		Backoff:           Backoff{Initial: 5 * time.Second, Max: 60 * time.Second},
	}, dialer.dial, nil)

	s.StartReconnect()
	waitFor(t, time.Second, "loop start", func() bool {
		return s.supervising.Load()
	})

	s.StartReconnect() // Must not spawn a second loop

	s.Disconnect()
	waitFor(t, time.Second, "loop exit", func() bool {
		return !s.supervising.Load()
	})

	if got := dialer.dialCount(); got != 0 {
		t.Errorf("dials = %d, want 0", got)
	}
}

func TestSupervisor_NotArmedWithoutStartReconnect(t *testing.T) {
	dialer := &mockDialer{}
	s := newTestSession(dialer)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	dialer.last().dropLink(errors.New("connection reset"))

	time.Sleep(100 * time.Millisecond)
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1 (no retry without StartReconnect)", got)
	}
}

func TestStandby(t *testing.T) {
	dialer := &mockDialer{}
	s := newTestSession(dialer)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	s.StartReconnect()

	s.EnterStandby()
	dialer.last().dropLink(errors.New("connection reset"))

	// No retries while in standby.
	time.Sleep(150 * time.Millisecond)
	if got := dialer.dialCount(); got != 1 {
		t.Fatalf("dials = %d, want 1 during standby", got)
	}

	// Waking re-arms: the session is found Disconnected and recovers.
	s.ExitStandby()
	waitFor(t, 2*time.Second, "reconnect after wake", func() bool {
		return s.State() == StateConnected
	})

	if got := dialer.dialCount(); got != 2 {
		t.Errorf("dials = %d, want 2 after wake", got)
	}
}

func TestConnectArmed_DisarmWinsTheRace(t *testing.T) {
	dialer := &mockDialer{}
	s := newTestSession(dialer)

	// A Disconnect landing between the supervisor's backoff sleep and
	// its dial leaves the supervisor disarmed; the re-check under the
	// connect lock must then refuse to dial at all.
	proceed, err := s.connectArmed(context.Background())
	if proceed || err != nil {
		t.Fatalf("connectArmed() = %v, %v, want false, nil while disarmed", proceed, err)
	}
	if got := dialer.dialCount(); got != 0 {
		t.Fatalf("dials = %d, want 0 while disarmed", got)
	}

	// Standby suppresses it the same way.
	s.armed.Store(true)
	s.standby.Store(true)
	proceed, err = s.connectArmed(context.Background())
	if proceed || err != nil {
		t.Fatalf("connectArmed() = %v, %v, want false, nil during standby", proceed, err)
	}
	if got := dialer.dialCount(); got != 0 {
		t.Fatalf("dials = %d, want 0 during standby", got)
	}

	// Armed and awake it behaves like Connect.
	s.standby.Store(false)
	proceed, err = s.connectArmed(context.Background())
	if !proceed || err != nil {
		t.Fatalf("connectArmed() = %v, %v, want true, nil while armed", proceed, err)
	}
	if s.State() != StateConnected {
		t.Errorf("State() = %v, want StateConnected", s.State())
	}
}

func TestStandby_DisarmedByDisconnect(t *testing.T) {
	dialer := &mockDialer{}
	s := newTestSession(dialer)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	s.StartReconnect()
	s.Disconnect()

	// Disconnect disarms: a later link-style event must not retry.
	s.ExitStandby()
	time.Sleep(100 * time.Millisecond)
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1 (supervisor disarmed by Disconnect)", got)
	}
}
