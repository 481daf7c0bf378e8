package wasmnative

import (
	"context"

	"github.com/wippyai/native-bridge/bridge"
)

type envKey struct{}

// WithEnv returns a context carrying env. Host functions called from a
// native export read it back with EnvFrom.
func WithEnv(ctx context.Context, env bridge.Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

// EnvFrom returns the call table of the thread running the native call.
func EnvFrom(ctx context.Context) (bridge.Env, bool) {
	env, ok := ctx.Value(envKey{}).(bridge.Env)
	return env, ok && env != nil
}
