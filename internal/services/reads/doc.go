// Package readsvc serves the reader's I/O requests from the TF-log store.
//
// It subscribes to the three read-request message types on the bus and
// answers each with the matching completion, translating store results into
// the wire result codes (Success, NoStream). Storage failures are fatal to
// the dispatch loop; transient emptiness is an ordinary Success with no
// events, which the reader backs off on by itself.
package readsvc
