// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package stream

import "fmt"

// StartError is a failure while bringing a transport up.
type StartError struct {
	Mode Mode
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s stream: %v", e.Mode, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// StopError is a failure while tearing a transport down.
type StopError struct {
	Mode Mode
	Err  error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("stop %s stream: %v", e.Mode, e.Err)
}

func (e *StopError) Unwrap() error { return e.Err }
