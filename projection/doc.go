// Package projection folds channel events into binder documents. A
// projection names a source channel, a destination binder, a filter, an id
// selector and a fold; the Engine subscribes it through an ordered
// dispatcher and applies every accepted event with Binder.Update, so the
// fold for one id never races another write to the same id.
//
// Delivery is at-least-once. With checkpoints configured a restarted
// projection resumes after the last position it applied; without them it
// replays the channel from the earliest position, so folds should be
// idempotent or the destination rebuilt.
package projection
