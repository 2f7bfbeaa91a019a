// Package inkwell holds the values shared by every layer of the event
// pipeline: the Document type folded into binders and carried by commands,
// and the sentinel errors surfaced by channels, dispatchers, binders,
// projections and commands.
//
// The pipeline itself lives in subpackages. Commands publish to a channel
// sink, a channel source delivers records to a dispatcher, and projections
// fold the dispatched events into binders:
//
//	command.Manager -> channel.Sink -> transport -> channel.Source
//	    -> dispatch.Dispatcher -> projection.Engine -> binder.Store
package inkwell
