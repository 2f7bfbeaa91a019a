package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/channel"
)

// Event is a channel event with its payload decoded as a document. Body is
// nil when the payload is not a JSON object.
type Event struct {
	channel.Event
	Body inkwell.Document
}

// FilterFunc reports whether a projection handles evt.
type FilterFunc func(evt Event) bool

// KeyFunc selects the destination document id for evt.
type KeyFunc func(evt Event) (string, error)

// FoldFunc folds evt into prev, which is nil for an absent document. A nil
// result deletes the document.
type FoldFunc func(ctx context.Context, prev inkwell.Document, evt Event) (inkwell.Document, error)

// Definition describes one projection.
type Definition struct {
	Name    string
	Channel string
	Binder  string
	Filter  FilterFunc
	Key     KeyFunc
	Fold    FoldFunc
}

func (d Definition) validate() error {
	var missing []string
	if d.Name == "" {
		missing = append(missing, "name")
	}
	if d.Channel == "" {
		missing = append(missing, "channel")
	}
	if d.Binder == "" {
		missing = append(missing, "binder")
	}
	if d.Key == nil {
		missing = append(missing, "key")
	}
	if d.Fold == nil {
		missing = append(missing, "fold")
	}
	if len(missing) > 0 {
		return fmt.Errorf("projection %s: missing %v: %w", d.Name, missing, inkwell.ErrProjectionSetupFailed)
	}
	return nil
}

// Builder assembles a Definition.
//
//	projection.New("totals").
//		From("purchases").
//		Into("totals").
//		Key(projection.Field("product")).
//		Fold(fold).
//		Create(ctx, engine)
type Builder struct {
	def Definition
}

func New(name string) *Builder {
	return &Builder{def: Definition{Name: name}}
}

func (b *Builder) From(ch string) *Builder {
	b.def.Channel = ch
	return b
}

func (b *Builder) Into(binder string) *Builder {
	b.def.Binder = binder
	return b
}

func (b *Builder) Where(fn FilterFunc) *Builder {
	b.def.Filter = fn
	return b
}

func (b *Builder) Key(fn KeyFunc) *Builder {
	b.def.Key = fn
	return b
}

func (b *Builder) Fold(fn FoldFunc) *Builder {
	b.def.Fold = fn
	return b
}

func (b *Builder) Definition() Definition {
	return b.def
}

// Create registers and starts the projection on e.
func (b *Builder) Create(ctx context.Context, e *Engine) error {
	return e.Create(ctx, b.def)
}

var errNoField = errors.New("field missing")

// Field selects the id from a string field of the event body.
func Field(name string) KeyFunc {
	return func(evt Event) (string, error) {
		id, ok := evt.Body.String(name)
		if !ok || id == "" {
			return "", fmt.Errorf("%w: %s", errNoField, name)
		}
		return id, nil
	}
}

// FieldEquals accepts events whose body has field name equal to value.
func FieldEquals(name, value string) FilterFunc {
	return func(evt Event) bool {
		v, ok := evt.Body.String(name)
		return ok && v == value
	}
}
