package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/native-bridge/bridge"
	"github.com/wippyai/native-bridge/managed"
	"github.com/wippyai/native-bridge/wasmnative"
)

// nativeTarget is a parsed --call value: "pkg/Class.method(sig)".
type nativeTarget struct {
	class     string
	method    string
	signature string
}

func parseTarget(s string) (nativeTarget, error) {
	paren := strings.IndexByte(s, '(')
	if paren < 0 {
		return nativeTarget{}, fmt.Errorf("call %q: missing signature", s)
	}
	dot := strings.LastIndexByte(s[:paren], '.')
	if dot <= 0 || dot == paren-1 {
		return nativeTarget{}, fmt.Errorf("call %q: want class.method(signature)", s)
	}
	t := nativeTarget{class: s[:dot], method: s[dot+1 : paren], signature: s[paren:]}
	sig, err := bridge.ParseSignature(t.signature)
	if err != nil {
		return nativeTarget{}, err
	}
	if len(sig.Params) != 0 {
		return nativeTarget{}, fmt.Errorf("call %q: only parameterless natives can be called from the command line", s)
	}
	return t, nil
}

// runWasm loads a native library from path and invokes one static native
// from it on the calling thread.
func runWasm(ctx context.Context, b *bridge.Bridge, path, call string) (managed.Value, error) {
	target, err := parseTarget(call)
	if err != nil {
		return managed.Value{}, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied
	if err != nil {
		return managed.Value{}, fmt.Errorf("read file: %w", err)
	}

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	lib, err := wasmnative.Load(ctx, r, name, data)
	if err != nil {
		return managed.Value{}, err
	}

	tc, err := b.Attach(&bridge.AttachArgs{Name: "main"})
	if err != nil {
		return managed.Value{}, err
	}
	defer b.Detach(tc)

	if err := b.LoadLibrary(tc, lib); err != nil {
		return managed.Value{}, err
	}

	cls := b.Heap().DefineClass(target.class, nil)
	m, ok := cls.Method(target.method, target.signature)
	if !ok {
		m = cls.Define(&managed.Method{Name: target.method, Signature: target.signature, Static: true, Native: true})
	}
	v, err := b.Invoke(tc, m, 0)
	if err != nil {
		return managed.Value{}, err
	}
	if tc.ExceptionCheck() {
		msg := "exception pending"
		if obj, ok := b.Heap().Get(tc.Pending()); ok {
			if th, ok := obj.(*managed.Throwable); ok {
				msg = th.Class().Name() + ": " + th.Message
			}
		}
		tc.ExceptionClear()
		return managed.Value{}, fmt.Errorf("%s threw %s", call, msg)
	}
	return v, nil
}
