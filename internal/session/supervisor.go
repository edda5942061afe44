package session

import (
	"context"
	"time"
)

// StartReconnect arms the reconnect supervisor.
//
// Once armed, link loss triggers a retry loop with exponential backoff
// until a connect succeeds, Disconnect is called or the host enters
// standby. If the session is already Disconnected the loop starts
// immediately. Arming an armed supervisor is a no-op.
func (s *Session) StartReconnect() {
	s.armed.Store(true)
	s.kickSupervisor()
}

// EnterStandby suspends reconnection for a host power event.
//
// The current link, if any, stays up; only retrying stops. A link that
// drops during standby is left down until ExitStandby.
func (s *Session) EnterStandby() {
	if s.standby.Swap(true) {
		return
	}
	s.stopSupervisorLoop()
	s.logInfo("standby: reconnect supervisor suspended")
}

// ExitStandby resumes reconnection after a host wake.
//
// If the supervisor is armed and the session is found Disconnected,
// retrying restarts from the initial delay.
func (s *Session) ExitStandby() {
	if !s.standby.Swap(false) {
		return
	}
	s.logInfo("standby cleared")
	s.kickSupervisor()
}

// kickSupervisor starts the retry loop when armed, awake and
// disconnected. At most one loop runs per session.
func (s *Session) kickSupervisor() {
	if !s.armed.Load() || s.standby.Load() {
		return
	}
	if s.State() != StateDisconnected {
		return
	}
	if !s.supervising.CompareAndSwap(false, true) {
		return
	}

	s.superMu.Lock()
	stop := make(chan struct{})
	s.superStop = stop
	s.superMu.Unlock()

	go s.supervise(stop)
}

// stopSupervisorLoop cancels a running retry loop, including one
// mid-sleep.
func (s *Session) stopSupervisorLoop() {
	s.superMu.Lock()
	if s.superStop != nil {
		close(s.superStop)
		s.superStop = nil
	}
	s.superMu.Unlock()
}

// supervise retries Connect with backoff until success or cancellation.
//
// The attempt counter is local to the loop, so it resets after every
// successful connect: the next link loss starts again from the initial
// delay. Connect failures are recorded as lastError by Connect itself
// and never propagate from here.
func (s *Session) supervise(stop chan struct{}) {
	defer s.supervising.Store(false)

	for attempt := 0; ; attempt++ {
		delay := s.cfg.Backoff.Delay(attempt)
		s.logInfo("reconnect scheduled", "attempt", attempt+1, "delay", delay.String())

		select {
		case <-stop:
			s.logDebug("reconnect cancelled")
			return
		case <-time.After(delay):
		}

		proceed, err := s.connectArmed(context.Background())
		if !proceed {
			s.logDebug("reconnect abandoned, supervisor disarmed")
			return
		}
		if err != nil {
			s.logWarn("reconnect attempt failed", "attempt", attempt+1, "error", err)
			continue
		}

		s.reconnects.Add(1)
		s.logInfo("reconnected", "attempts", attempt+1)
		return
	}
}

// connectArmed is the supervisor's connect. Arming is re-checked after
// the connect lock is acquired, so a Disconnect that interleaved with
// the backoff sleep wins and the session it tore down stays down.
func (s *Session) connectArmed(ctx context.Context) (bool, error) {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if !s.armed.Load() || s.standby.Load() {
		return false, nil
	}
	return true, s.connectLocked(ctx)
}
