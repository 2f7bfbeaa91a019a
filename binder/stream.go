package binder

import (
	"context"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/channel"
	"github.com/ripkitten-co/inkwell/dedupe"
)

// StreamRecord is the payload a streaming binder publishes after each put.
type StreamRecord struct {
	Binder   string           `json:"binder"`
	ID       string           `json:"id"`
	Document inkwell.Document `json:"document"`
}

type StreamOption func(*streamer)

// WithStreamDedupe skips republishing an identical (id, document) pair that
// is still inside the window.
func WithStreamDedupe(w *dedupe.Window) StreamOption {
	return func(s *streamer) { s.window = w }
}

type streamer struct {
	sink    channel.Sink
	channel string
	window  *dedupe.Window
}

// SetStreaming makes every later successful put publish a StreamRecord to
// the named channel. It replaces any previous streaming target.
func (b *Binder) SetStreaming(sink channel.Sink, ch string, opts ...StreamOption) {
	s := &streamer{sink: sink, channel: ch}
	for _, o := range opts {
		o(s)
	}
	b.stream.Store(s)
}

func (b *Binder) ClearStreaming() {
	b.stream.Store(nil)
}

// notify runs on the worker after a successful write. The publish itself is
// asynchronous; a failure is logged and never reaches the writer.
func (b *Binder) notify(id string, doc inkwell.Document) {
	s := b.stream.Load()
	if s == nil {
		return
	}

	payload, err := b.codec.Marshal(StreamRecord{Binder: b.name, ID: id, Document: doc})
	if err != nil {
		b.log.Error("stream marshal", "id", id, "error", err)
		return
	}
	if s.window != nil && s.window.Seen(payload) {
		return
	}

	b.streams.Add(1)
	go func() {
		defer b.streams.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.streamTimeout)
		defer cancel()
		if _, err := s.sink.PublishAsync(ctx, s.channel, payload).Wait(ctx); err != nil {
			b.dropped.Add(1)
			b.log.Warn("stream publish", "channel", s.channel, "id", id, "error", err)
		}
	}()
}
