package main

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/wippyai/native-bridge/bridge"
	"github.com/wippyai/native-bridge/managed"
)

// workload is one scripted exercise of the bridge. step runs once per
// iteration on an attached worker thread inside its own local frame.
type workload struct {
	name  string
	desc  string
	setup func(b *bridge.Bridge) error
	step  func(w *worker) error
}

// worker is the per-thread state a workload may keep between iterations.
type worker struct {
	b       *bridge.Bridge
	tc      *bridge.ThreadContext
	globals []managed.Handle
	arrays  [2]managed.Handle
	id      int
}

// env is re-read every call so a late switch to checked mode is picked up.
func (w *worker) env() bridge.Env { return w.tc.Env() }

var workloads = map[string]workload{
	"locals": {
		name: "locals",
		desc: "push a frame, create five strings, pop with one result",
		step: func(w *worker) error {
			env := w.env()
			if err := env.PushLocalFrame(8); err != nil {
				return err
			}
			var last managed.Handle
			for i := range 5 {
				last = env.NewStringUTF([]byte(fmt.Sprintf("local-%d-%d", w.id, i)))
			}
			kept := env.PopLocalFrame(last)
			env.DeleteLocalRef(kept)
			return nil
		},
	},
	"globals": {
		name: "globals",
		desc: "hold a rolling window of 32 global references per thread",
		step: func(w *worker) error {
			env := w.env()
			s := env.NewStringUTF([]byte("global"))
			g := env.NewGlobalRef(s)
			env.DeleteLocalRef(s)
			if g == 0 {
				return fmt.Errorf("global reference not created")
			}
			w.globals = append(w.globals, g)
			if len(w.globals) > 32 {
				env.DeleteGlobalRef(w.globals[0])
				w.globals = w.globals[1:]
			}
			return nil
		},
	},
	"critical": {
		name: "critical",
		desc: "nest critical views of two int arrays and write through them",
		step: func(w *worker) error {
			if err := w.ensureArrays(); err != nil {
				return err
			}
			env := w.env()
			a := env.GetPrimitiveArrayCritical(w.arrays[0])
			b := env.GetPrimitiveArrayCritical(w.arrays[1])
			if len(a) > 0 && len(b) > 0 {
				a[0]++
				b[0] = a[0]
			}
			env.ReleasePrimitiveArrayCritical(w.arrays[1], b, bridge.ReleaseDefault)
			env.ReleasePrimitiveArrayCritical(w.arrays[0], a, bridge.ReleaseDefault)
			return nil
		},
	},
	"arrays": {
		name: "arrays",
		desc: "element access with every release mode plus region copies",
		step: func(w *worker) error {
			if err := w.ensureArrays(); err != nil {
				return err
			}
			env := w.env()
			arr := w.arrays[0]
			elems, _ := env.GetArrayElements(arr, managed.Int)
			if len(elems) > 0 {
				elems[4]++
				env.ReleaseArrayElements(arr, elems, bridge.ReleaseCommit)
				elems[8]++
			}
			env.ReleaseArrayElements(arr, elems, bridge.ReleaseDefault)

			elems, _ = env.GetArrayElements(arr, managed.Int)
			if len(elems) > 0 {
				elems[0] = 0xff
			}
			env.ReleaseArrayElements(arr, elems, bridge.ReleaseAbort)

			buf := make([]byte, 8*managed.Int.Width())
			env.GetArrayRegion(arr, managed.Int, 0, 8, buf)
			env.SetArrayRegion(w.arrays[1], managed.Int, 8, 8, buf)
			if env.ExceptionCheck() {
				env.ExceptionClear()
				return fmt.Errorf("array region access raised an exception")
			}
			return nil
		},
	},
	"strings": {
		name: "strings",
		desc: "round-trip modified UTF-8 and UTF-16 string access",
		step: func(w *worker) error {
			env := w.env()
			s := env.NewStringUTF([]byte("h\xc3\xa9llo \xe2\x82\xac"))
			if s == 0 {
				env.ExceptionClear()
				return fmt.Errorf("string not created")
			}
			utf := env.GetStringUTFChars(s)
			n := env.GetStringUTFLength(s)
			env.ReleaseStringUTFChars(s, utf)
			chars := env.GetStringChars(s)
			env.ReleaseStringChars(s, chars)
			crit := env.GetStringCritical(s)
			env.ReleaseStringCritical(s, crit)
			if n != len(utf) || env.GetStringLength(s) != len(chars) {
				return fmt.Errorf("string lengths disagree: utf %d/%d chars %d", n, len(utf), len(chars))
			}
			return nil
		},
	},
	"natives": {
		name:  "natives",
		desc:  "invoke a registered native that sums an int array",
		setup: registerWorkloadNatives,
		step: func(w *worker) error {
			if err := w.ensureArrays(); err != nil {
				return err
			}
			cls, _ := w.b.Heap().FindClass(workloadClass)
			m, _ := cls.Method("sum", "([I)I")
			if _, err := w.b.Invoke(w.tc, m, 0, managed.RefValue(w.arrays[0])); err != nil {
				return err
			}
			if w.tc.ExceptionCheck() {
				w.tc.ExceptionClear()
				return fmt.Errorf("native sum raised an exception")
			}
			return nil
		},
	},
	"misuse": {
		name: "misuse",
		desc: "deliberate protocol violations (turns on checked mode)",
		setup: func(b *bridge.Bridge) error {
			b.EnableChecked()
			return nil
		},
		step: func(w *worker) error {
			if err := w.ensureArrays(); err != nil {
				return err
			}
			env := w.env()
			s := env.NewStringUTF([]byte("misuse"))
			g := env.NewGlobalRef(s)
			env.DeleteGlobalRef(g)
			env.DeleteGlobalRef(g)

			elems, _ := env.GetArrayElements(w.arrays[0], managed.Int)
			env.ReleaseArrayElements(w.arrays[0], elems, bridge.ReleaseMode(7))
			env.ReleaseArrayElements(w.arrays[0], elems, bridge.ReleaseAbort)

			crit := env.GetPrimitiveArrayCritical(w.arrays[1])
			env.FindClass(managed.StringClass)
			env.ReleasePrimitiveArrayCritical(w.arrays[1], crit, bridge.ReleaseAbort)
			return nil
		},
	},
}

const workloadClass = "bridgectl/Workload"

func registerWorkloadNatives(b *bridge.Bridge) error {
	cls := b.Heap().DefineClass(workloadClass, nil)
	cls.Define(&managed.Method{Name: "sum", Signature: "([I)I", Static: true, Native: true})
	return b.RegisterNatives(cls, []bridge.NativeMethod{{
		Name:      "sum",
		Signature: "([I)I",
		Fn: func(env bridge.Env, args []uint64) uint64 {
			arr := managed.Handle(args[1])
			raw := env.GetPrimitiveArrayCritical(arr)
			var total int32
			for i := 0; i+4 <= len(raw); i += 4 {
				total += int32(uint32(raw[i]) | uint32(raw[i+1])<<8 | uint32(raw[i+2])<<16 | uint32(raw[i+3])<<24)
			}
			env.ReleasePrimitiveArrayCritical(arr, raw, bridge.ReleaseAbort)
			return uint64(int64(total))
		},
	}})
}

// ensureArrays allocates the worker's two 16-element int arrays once and
// keeps them alive through global references.
func (w *worker) ensureArrays() error {
	if w.arrays[0] != 0 {
		return nil
	}
	env := w.env()
	for i := range w.arrays {
		local := env.NewPrimitiveArray(managed.Int, 16)
		if local == 0 {
			env.ExceptionClear()
			return fmt.Errorf("int array not allocated")
		}
		w.arrays[i] = env.NewGlobalRef(local)
		env.DeleteLocalRef(local)
	}
	return nil
}

func (w *worker) release() {
	env := w.env()
	for _, g := range w.globals {
		env.DeleteGlobalRef(g)
	}
	for _, g := range w.arrays {
		if g != 0 {
			env.DeleteGlobalRef(g)
		}
	}
	w.globals = nil
	w.arrays = [2]managed.Handle{}
}

// workloadNames lists the known workloads in a stable order.
func workloadNames() []string {
	names := make([]string, 0, len(workloads))
	for name := range workloads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// selectWorkloads resolves a comma-separated list. "all" expands to every
// workload except misuse.
func selectWorkloads(list string) ([]workload, error) {
	var out []workload
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		switch name {
		case "":
			continue
		case "all":
			for _, n := range workloadNames() {
				if n != "misuse" {
					out = append(out, workloads[n])
				}
			}
			continue
		}
		wl, ok := workloads[name]
		if !ok {
			return nil, fmt.Errorf("unknown workload %q (have %s)", name, strings.Join(workloadNames(), ", "))
		}
		out = append(out, wl)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no workload selected")
	}
	return out, nil
}

// runConfig describes one run.
type runConfig struct {
	workloads  []workload
	threads    int
	iterations int
}

func (rc runConfig) total() int64 {
	return int64(rc.threads * rc.iterations * len(rc.workloads))
}

// runWorkloads attaches rc.threads workers and runs every workload on each.
// done counts finished steps. The first step error stops the run.
func runWorkloads(ctx context.Context, b *bridge.Bridge, rc runConfig, done *atomic.Int64) error {
	for _, wl := range rc.workloads {
		if wl.setup != nil {
			if err := wl.setup(b); err != nil {
				return fmt.Errorf("%s setup: %w", wl.name, err)
			}
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := range rc.threads {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			tc, err := b.Attach(&bridge.AttachArgs{Name: fmt.Sprintf("worker-%d", id)})
			if err != nil {
				fail(err)
				return
			}
			w := &worker{b: b, tc: tc, id: id}
			defer func() {
				w.release()
				_ = b.Detach(tc)
			}()

			for _, wl := range rc.workloads {
				for range rc.iterations {
					if ctx.Err() != nil {
						return
					}
					if err := runStep(w, wl); err != nil {
						fail(fmt.Errorf("%s on worker-%d: %w", wl.name, id, err))
						return
					}
					done.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()
	return firstErr
}

func runStep(w *worker, wl workload) error {
	env := w.env()
	if err := env.PushLocalFrame(16); err != nil {
		return err
	}
	err := wl.step(w)
	w.env().PopLocalFrame(0)
	return err
}
