// Package health holds the liveness and readiness probes served on the admin
// listener. Probes are evaluated per request; a nil error means pass.
//
// [ShutdownGate] fails readiness as soon as shutdown starts so load balancers
// stop routing to the instance before the public listener closes.
// [AssetProbe] fails readiness while the index document is missing from the
// asset directory.
package health
