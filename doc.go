// Package nativebridge is the core of a bridge between a managed runtime and
// native code.
//
// Native code never holds managed objects directly. It holds handles that
// the bridge tracks in reference tables: local references scoped to a native
// call or an explicit frame, and global references that live until deleted.
// The bridge also tracks critical sections that pin managed storage, binds
// OS threads to per-thread contexts, and brokers every managed-to-native call.
// An optional checked mode validates every bridge call and hands native code
// guarded copies of buffers so overruns are caught on release.
//
// # Architecture Overview
//
//	nativebridge/        Root package with convenience constructors
//	├── bridge/          Bridge context, call and invocation tables, checked mode
//	├── reftable/        Segmented reference table with scoped release
//	├── managed/         Minimal managed heap the bridge runs against
//	├── guard/           Guarded copies for checked buffer access
//	├── mutf8/           Modified UTF-8 validation and conversion
//	├── config/          Options files and live escalation
//	├── wasmnative/      Native libraries as WebAssembly modules
//	├── errors/          Structured error types for debugging
//	└── cmd/bridgectl/   Workload driver and statistics viewer
//
// # Quick Start
//
// Create a bridge, attach the current thread and call into native code:
//
//	b, err := nativebridge.New(bridge.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Shutdown()
//
//	tc, err := b.Attach(&bridge.AttachArgs{Name: "main"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Detach(tc)
//
//	result, err := b.Invoke(tc, method, receiver, managed.IntValue(42))
//
// Load options from a file instead with Open:
//
//	b, err := nativebridge.Open("bridge.hujson")
package nativebridge
