// Package reftable provides the reference table used for native-visible handles.
//
// A Table is a growable array of handles with stacked segments. The bridge
// uses one table per thread for local references and one process-wide table
// for global references:
//
//	locals := reftable.New[managed.Handle]("local", 64, 512)
//
//	seg := locals.PushSegment()     // enter a native frame
//	locals.Add(h1)
//	locals.Add(h2)
//	locals.Remove(locals.Floor(), h2) // O(1), h2 is on top
//	locals.PopSegment(seg)          // release h1 without walking the range
//
// # Removal
//
// Remove scans from the top of the table down to the given floor and deletes
// the most recently added matching entry. Stack-like usage therefore stays
// O(1). Deleting an entry below the top leaves a hole; holes are squeezed out
// lazily by Compact when the current segment becomes fragmented or full.
//
// # Capacity
//
// Add grows the table by doubling up to its maximum. When the maximum is
// reached Add returns a table_full error; the owner decides whether that is
// fatal (global references) or a recoverable allocation failure (locals).
package reftable
