// Package sources contains underlying byte sources feeding [streams.ReadableStream] from
// blocking Go readers.
//
// Reads happen on their own goroutine and hand their results back to the stream's event loop
// through a task queue, so that the stream itself is only ever touched from the loop.
package sources
