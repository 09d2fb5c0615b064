package process

import (
	"errors"
	"time"
)

// ErrInvalidTransition is returned for a state change the lifecycle
// does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// StateTransition represents a valid state transition.
type StateTransition struct {
	From ProcessState
	To   ProcessState
}

// ValidTransitions defines all valid state transitions.
var ValidTransitions = []StateTransition{
	// exit: Running -> Zombie
	{From: StateRunning, To: StateZombie},
	// slot vacated after the parent's acknowledgement: Zombie -> Reaped
	{From: StateZombie, To: StateReaped},
}

// IsValidTransition checks if a state transition is valid.
func IsValidTransition(from, to ProcessState) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// TransitionTo attempts to transition the process to a new state.
func (p *Process) TransitionTo(to ProcessState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transitionL(to)
}

func (p *Process) transitionL(to ProcessState) error {
	if !IsValidTransition(p.state, to) {
		return ErrInvalidTransition
	}
	p.state = to
	if to == StateZombie {
		p.finishedAt = time.Now()
	}
	return nil
}

// Terminate records the encoded exit status and makes the process a
// zombie.
func (p *Process) Terminate(status int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.transitionL(StateZombie); err != nil {
		return err
	}
	p.status = status
	return nil
}

// Lifetime returns how long the process ran, or has run so far.
func (p *Process) Lifetime() time.Duration {
	if f := p.FinishedAt(); !f.IsZero() {
		return f.Sub(p.CreatedAt)
	}
	return time.Since(p.CreatedAt)
}
