// Package writer implements the sequential bag writer.
//
// A SequentialWriter owns the open, write, split, snapshot and close state
// machine of a recording. Messages flow from Write through an optional
// converter pipeline into one of three sinks chosen when the bag is opened:
//
//   - direct: MaxCacheSize is 0, every message is written on the caller goroutine
//   - cached: a streaming cache drained into storage by a background consumer
//   - snapshot: a ring buffer written only by TakeSnapshot
//
// Bagfiles are named <uri>/<basename(uri)>_<N> with N starting at 0. Before
// each message is routed, the split policy is evaluated against the active
// file; a split flushes the sink, closes the file, opens the next one,
// declares every topic on it and notifies split callbacks.
//
// # Metadata
//
// The Aggregator keeps statistics per bagfile and derives the bag totals from
// the closed files:
//
//	MessageCount = sum of Files[i].MessageCount
//	StartingTime = min of Files[i].StartingTime over files with messages
//	Duration     = max of Files[i].End() - StartingTime
//
// The backend is asked to persist a metadata snapshot when the bag is opened,
// twice per split (after the close-out and after the new file is opened) and
// when the bag is closed. The metadata file itself is written once, by Close.
package writer
