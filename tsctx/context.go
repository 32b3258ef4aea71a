// Package tsctx carries per-call diagnostics flags through context.
package tsctx

import "context"

type ctxIndex int

const (
	ctxIndexVerbose ctxIndex = iota
	ctxIndexDevice
)

// IsVerbose reports whether wire-level dumps were requested for this call.
func IsVerbose(ctx context.Context) bool {
	val, ok := ctx.Value(ctxIndexVerbose).(bool)
	if !ok {
		return false
	}
	return val
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// Device returns the device identity attached by the driver, if any.
func Device(ctx context.Context) string {
	val, _ := ctx.Value(ctxIndexDevice).(string)
	return val
}

func WithDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, ctxIndexDevice, device)
}
