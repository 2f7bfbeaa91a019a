package channel

import (
	"context"
	"fmt"
	"path"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/future"
)

// Policy decides which channels may be published to or subscribed to.
type Policy interface {
	CanPublishTo(name string) bool
	CanSubscribeTo(name string) bool
}

type allowAll struct{}

func (allowAll) CanPublishTo(string) bool   { return true }
func (allowAll) CanSubscribeTo(string) bool { return true }

// AllowAll permits every channel.
var AllowAll Policy = allowAll{}

// AllowList matches channel names against path.Match patterns. An empty
// pattern list allows everything for that direction.
type AllowList struct {
	Publish   []string
	Subscribe []string
}

func (a AllowList) CanPublishTo(name string) bool   { return matchAny(a.Publish, name) }
func (a AllowList) CanSubscribeTo(name string) bool { return matchAny(a.Subscribe, name) }

func matchAny(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Guard wraps a transport so that every publish and subscribe is checked
// against policy before any I/O happens.
func Guard(t Transport, policy Policy) Transport {
	if policy == nil {
		policy = AllowAll
	}
	return &guarded{inner: t, policy: policy}
}

type guarded struct {
	inner  Transport
	policy Policy
}

func (g *guarded) Subscribe(ctx context.Context, name string, after Position, fn RecordFunc) (Subscription, error) {
	if !g.policy.CanSubscribeTo(name) {
		return nil, fmt.Errorf("channel %s: subscribe: %w", name, inkwell.ErrChannelDenied)
	}
	return g.inner.Subscribe(ctx, name, after, fn)
}

func (g *guarded) PublishSync(ctx context.Context, name string, payload []byte) (Position, error) {
	if !g.policy.CanPublishTo(name) {
		return 0, fmt.Errorf("channel %s: publish: %w", name, inkwell.ErrChannelDenied)
	}
	return g.inner.PublishSync(ctx, name, payload)
}

func (g *guarded) PublishAsync(ctx context.Context, name string, payload []byte) *future.Future[Position] {
	if !g.policy.CanPublishTo(name) {
		return future.Failed[Position](fmt.Errorf("channel %s: publish: %w", name, inkwell.ErrChannelDenied))
	}
	return g.inner.PublishAsync(ctx, name, payload)
}

func (g *guarded) Close() error {
	return g.inner.Close()
}
