// Package bridge is the native bridge core: the state native code sees when
// it is called from, or calls into, the managed runtime.
//
// # Architecture
//
// The package provides four main types:
//
//	Bridge        - The process-wide context: global references, thread list,
//	                native registry, pin table and the violation policy
//	ThreadContext - Per-thread state created by Attach: local reference
//	                frames, critical depth, held monitors, pending exception
//	Env           - The call table handed to native code, one per thread
//	Invoker       - The invocation table: attach, detach, GetEnv, shutdown
//
// Env and Invoker each have a direct and a checked implementation with the
// same shape. EnableChecked swaps every thread's Env and the bridge's
// Invoker for the validating versions; it cannot be undone.
//
// # Call Flow
//
//  1. Attach locks the goroutine to its OS thread and returns its context
//  2. RegisterNatives binds methods, or LoadLibrary adds a Library that
//     resolves them lazily by mangled name
//  3. Invoke marshals arguments into words using the method's shorty,
//     pushes an implicit local frame and runs the native with the Env
//  4. The frame is popped on return and a reference result is promoted
//  5. Detach, on the same thread, releases monitors, pins and locals
//
// # Violations
//
// Misuse found by the checked layer is reported through one policy point:
// PolicyWarn logs and continues, PolicyAbort takes the fatal path. Global
// table overflow and integrity errors, such as a damaged guarded copy or a
// popped frame that was never pushed, are always fatal. The fatal path dumps
// threads and tables and then calls Options.Abort.
package bridge
