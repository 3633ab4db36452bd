// Package xerrors attaches call-site information to errors so the logger can
// render where an error was created or wrapped.
//
// New/Newf/WithStack/EnsureTrace capture a full stack. Wrap/Wrapf capture a
// single program counter for the wrapping call site.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }

// attach must be called directly from an exported constructor so the
// captured stack starts at that constructor's caller.
func attach(err error) error {
	if err == nil {
		return nil
	}
	pcs := make([]uintptr, maxStackDepth)
	// runtime.Callers, attach, constructor
	n := runtime.Callers(3, pcs)
	return &stacked{err: err, pcs: pcs[:n]}
}

// WithStack records the caller's stack on err.
func WithStack(err error) error { return attach(err) }

// EnsureTrace records a stack on err unless something in its chain already carries one.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	if HasStack(err) {
		return err
	}
	return attach(err)
}

// HasStack reports whether any error in the chain carries a captured stack.
func HasStack(err error) bool {
	type stackCarrier interface{ StackPCs() []uintptr }
	var sc stackCarrier
	return errors.As(err, &sc) && sc != nil && len(sc.StackPCs()) > 0
}

type wrapped struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrapped) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }
func (w *wrapped) PC() uintptr   { return w.pc }

func callerPC() uintptr {
	var pcs [1]uintptr
	// runtime.Callers, callerPC, Wrap/Wrapf
	if runtime.Callers(3, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

// Wrap annotates err with msg and the caller's position. nil stays nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: msg, pc: callerPC()}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC()}
}

func New(msg string) error { return attach(errors.New(msg)) }

func Newf(format string, args ...any) error { return attach(fmt.Errorf(format, args...)) }
