// Package binder provides named, durable id to document stores. Every
// operation on a Binder runs on that binder's single worker goroutine, so
// writes to one id are applied in submission order and a read always sees
// the latest completed write. Update runs a read-modify-write as one job,
// which is what projections fold through.
//
// A binder can optionally stream: after every successful put it publishes
// the (id, document) pair to a channel. Streaming is best effort and never
// fails the put.
package binder
