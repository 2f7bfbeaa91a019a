// Package command is the write side: a command turns parameters into an
// event body and publishes it to its channel. Commands never touch binders;
// the read side sees their effects through projections.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/channel"
	"github.com/ripkitten-co/inkwell/future"
	"github.com/ripkitten-co/inkwell/internal/codecs"
)

// HandlerFunc builds the event body for one execution.
type HandlerFunc func(ctx context.Context, params inkwell.Document) (inkwell.Document, error)

type Command struct {
	Name    string
	Channel string
	Handler HandlerFunc
}

type Builder struct {
	cmd Command
}

func New(name string) *Builder {
	return &Builder{cmd: Command{Name: name}}
}

func (b *Builder) Channel(ch string) *Builder {
	b.cmd.Channel = ch
	return b
}

func (b *Builder) Handler(fn HandlerFunc) *Builder {
	b.cmd.Handler = fn
	return b
}

// Create registers the command on m, replacing any command of the same
// name.
func (b *Builder) Create(m *Manager) error {
	return m.Register(b.cmd)
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithCodec sets the event body codec. Defaults to json-iterator.
func WithCodec(c codecs.Codec) Option {
	return func(m *Manager) { m.codec = c }
}

// Manager holds the registered commands and the sink they publish to.
type Manager struct {
	sink  channel.Sink
	codec codecs.Codec
	log   *slog.Logger

	mu       sync.RWMutex
	commands map[string]Command
}

func NewManager(sink channel.Sink, opts ...Option) *Manager {
	m := &Manager{
		sink:     sink,
		codec:    codecs.Default(),
		log:      slog.Default(),
		commands: make(map[string]Command),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Register(cmd Command) error {
	if cmd.Name == "" || cmd.Channel == "" || cmd.Handler == nil {
		return fmt.Errorf("command %q: name, channel and handler are required", cmd.Name)
	}
	m.mu.Lock()
	m.commands[cmd.Name] = cmd
	m.mu.Unlock()
	return nil
}

func (m *Manager) IsCommand(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.commands[name]
	return ok
}

func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.commands))
	for name := range m.commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Execute runs the named command's handler synchronously, then publishes
// the resulting body. The returned future resolves with the body once the
// sink acknowledges the publish, or fails with the handler, encoding or
// publish error.
func (m *Manager) Execute(ctx context.Context, name string, params inkwell.Document) *future.Future[inkwell.Document] {
	m.mu.RLock()
	cmd, ok := m.commands[name]
	m.mu.RUnlock()
	if !ok {
		return future.Failed[inkwell.Document](fmt.Errorf("command %s: %w", name, inkwell.ErrUnknownCommand))
	}

	log := m.log.With("command", name, "execution", uuid.NewString())

	body, err := cmd.Handler(ctx, params)
	if err != nil {
		log.Warn("command handler failed", "error", err)
		return future.Failed[inkwell.Document](fmt.Errorf("command %s: handle: %w", name, err))
	}

	payload, err := m.codec.Marshal(body)
	if err != nil {
		return future.Failed[inkwell.Document](fmt.Errorf("command %s: marshal: %w", name, err))
	}

	published := m.sink.PublishAsync(ctx, cmd.Channel, payload)
	return future.Then(published, func(pos channel.Position) (inkwell.Document, error) {
		log.Debug("command published", "channel", cmd.Channel, "position", pos)
		return body, nil
	})
}
