// Package publisher runs the periodic publish tick.
// Each tick takes a membership snapshot, resolves the current transform of
// every streamed object from the scene mirror and hands the batch to a
// transport. A tick that fires while the previous one is still sending is
// skipped.
package publisher
