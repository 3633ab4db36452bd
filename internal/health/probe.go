package health

import (
	"context"
	"io/fs"
	"sync/atomic"

	"github.com/keithlinneman/linnemanlabs-edge/internal/xerrors"
)

// Probe is evaluated at request time, nil = pass, non-nil = fail with reason.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed returns a probe that always passes, or always fails with reason.
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes only if every non-nil probe passes and returns the first failure.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// AssetProbe fails while name is not a regular file in fsys. The asset
// directory may be edited at runtime, so the check runs on every call.
func AssetProbe(fsys fs.FS, name string) CheckFunc {
	return func(context.Context) error {
		if fsys == nil {
			return xerrors.New("assets: no asset directory")
		}
		info, err := fs.Stat(fsys, name)
		if err != nil {
			return xerrors.Wrapf(err, "assets: %s", name)
		}
		if !info.Mode().IsRegular() {
			return xerrors.Newf("assets: %s is not a regular file", name)
		}
		return nil
	}
}

// ShutdownGate flips readiness to false during drain and shutdown.
type ShutdownGate struct {
	draining atomic.Bool
	reason   atomic.Value
}

func (g *ShutdownGate) Set(reason string) {
	g.reason.Store(reason)
	g.draining.Store(true)
}

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if !g.draining.Load() {
			return nil
		}
		r, _ := g.reason.Load().(string)
		if r == "" {
			r = "draining"
		}
		return xerrors.New(r)
	}
}
