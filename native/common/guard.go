package common

import "errors"

// ErrModulePaused is returned when an operation is dispatched against a
// module the operator has switched off.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the operator pause switches by module name.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects work for paused modules. A nil view means pausing is not
// wired and everything runs.
func Guard(view PauseView, module string) error {
	if view == nil || module == "" {
		return nil
	}
	if view.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
