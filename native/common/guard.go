package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether an operator has paused a named module. Deal
// creation consults it before deploying new instances; in-flight deals are
// never blocked so custody can always resolve.
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
