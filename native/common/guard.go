package common

import (
	"errors"
	"fmt"
)

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a native module has been halted by governance or
// an operator circuit breaker.
type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// ActionPauses exposes fine-grained switches for halting individual flows
// within a module while leaving the rest operational.
type ActionPauses struct {
	Deposit   bool
	Withdraw  bool
	Borrow    bool
	Repay     bool
	Liquidate bool
}

// GuardAction combines the module-level pause view with the per-action
// switches. Repayments stay open unless explicitly paused so borrowers can
// always reduce exposure.
func GuardAction(p PauseView, module, action string, pauses ActionPauses) error {
	if err := Guard(p, module); err != nil {
		return err
	}
	var paused bool
	switch action {
	case "deposit":
		paused = pauses.Deposit
	case "withdraw":
		paused = pauses.Withdraw
	case "borrow":
		paused = pauses.Borrow
	case "repay":
		paused = pauses.Repay
	case "liquidate":
		paused = pauses.Liquidate
	}
	if paused {
		return fmt.Errorf("%w: %s.%s", ErrModulePaused, module, action)
	}
	return nil
}
