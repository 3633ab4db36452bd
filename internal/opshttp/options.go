package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-edge/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// OnPanic is called after a recovered panic, typically a prometheus counter
	OnPanic func()
}
