package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrProcessNotStarted = errors.New("process not started")
	ErrProcessTerminal   = errors.New("process already terminated")
)

// UnknownCommandError is returned by a registry lookup of a name nobody registered.
type UnknownCommandError struct {
	Name  string
	Known []string
}

func (e *UnknownCommandError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown command %q", e.Name)
	}
	return fmt.Sprintf("unknown command %q; available commands: %s", e.Name, strings.Join(e.Known, ", "))
}

// DuplicateCommandError is fatal at startup.
type DuplicateCommandError struct {
	Name string
}

func (e *DuplicateCommandError) Error() string {
	return fmt.Sprintf("command %q already registered", e.Name)
}

// InvalidOptionError names the option key which is missing or has a wrong value.
type InvalidOptionError struct {
	Key    string
	Value  string
	Reason string
}

func (e *InvalidOptionError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid option --%s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("invalid option --%s=%s: %s", e.Key, e.Value, e.Reason)
}

type ConfigWriteError struct {
	Path string
	Err  error
}

func (e *ConfigWriteError) Error() string {
	return fmt.Sprintf("writing config %s: %v", e.Path, e.Err)
}

func (e *ConfigWriteError) Unwrap() error {
	return e.Err
}

// SpawnError is returned when the OS refused to start the executable.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

type AddressInUseError struct {
	Address string
	Err     error
}

func (e *AddressInUseError) Error() string {
	return fmt.Sprintf("address %s already in use", e.Address)
}

func (e *AddressInUseError) Unwrap() error {
	return e.Err
}

type ReadinessTimeoutError struct {
	Address string
	Timeout time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("%s not accepting connections after %s", e.Address, e.Timeout)
}

// ForcedTerminationWarning reports a child which ignored the stop signal and
// had to be killed. It is logged, never escalated to a failure.
type ForcedTerminationWarning struct {
	Pid         int
	GracePeriod time.Duration
	Escalated   bool // killed early on a repeated interrupt
}

func (e *ForcedTerminationWarning) Error() string {
	if e.Escalated {
		return fmt.Sprintf("pid %d killed on repeated interrupt", e.Pid)
	}
	return fmt.Sprintf("pid %d did not exit within %s: killed", e.Pid, e.GracePeriod)
}

// IsWarning reports whether err carries only a ForcedTerminationWarning.
func IsWarning(err error) bool {
	var w *ForcedTerminationWarning
	return errors.As(err, &w)
}
