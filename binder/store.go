package binder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/internal/codecs"
	"github.com/ripkitten-co/inkwell/schema"
	"github.com/ripkitten-co/inkwell/storage"
)

type Option func(*storeConfig)

type storeConfig struct {
	codec         codecs.Codec
	logger        *slog.Logger
	streamTimeout time.Duration
}

// WithCodec sets the document codec. Defaults to json-iterator.
func WithCodec(c codecs.Codec) Option {
	return func(cfg *storeConfig) { cfg.codec = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(cfg *storeConfig) { cfg.logger = l }
}

// WithStreamTimeout bounds each streaming publish. Default 5s.
func WithStreamTimeout(d time.Duration) Option {
	return func(cfg *storeConfig) { cfg.streamTimeout = d }
}

// Store is the registry of open binders over one storage backend.
type Store struct {
	backend storage.Backend
	cfg     *storeConfig

	mu      sync.Mutex
	binders map[string]*Binder
	closed  bool
}

// NewStore opens every binder that already exists in backend.
func NewStore(ctx context.Context, backend storage.Backend, opts ...Option) (*Store, error) {
	cfg := &storeConfig{
		codec:         codecs.Default(),
		logger:        slog.Default(),
		streamTimeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(cfg)
	}

	s := &Store{
		backend: backend,
		cfg:     cfg,
		binders: make(map[string]*Binder),
	}

	names, err := backend.Buckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("binder store: enumerate: %w", err)
	}
	for _, name := range names {
		if _, err := s.Open(ctx, name); err != nil {
			for _, b := range s.binders {
				b.Close()
			}
			return nil, err
		}
	}
	return s, nil
}

// Open returns the named binder, creating it if needed. Repeated calls
// return the same Binder.
func (s *Store) Open(ctx context.Context, name string) (*Binder, error) {
	if err := schema.ValidateName(name); err != nil {
		return nil, fmt.Errorf("binder store: open %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("binder store: open %s: %w", name, inkwell.ErrClosed)
	}
	if b, ok := s.binders[name]; ok {
		return b, nil
	}

	bucket, err := s.backend.OpenBucket(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("binder store: open %s: %w", name, err)
	}
	b := newBinder(bucket, s.cfg)
	s.binders[name] = b
	return b, nil
}

// Get returns an already open binder.
func (s *Store) Get(name string) (*Binder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.binders[name]
	return b, ok
}

// Binders returns the open binders ordered by name.
func (s *Store) Binders() []*Binder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Binder, 0, len(s.binders))
	for _, b := range s.binders {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b *Binder) int { return strings.Compare(a.name, b.name) })
	return out
}

func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.binders))
	for name := range s.binders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Drop stops the binder and irreversibly removes its contents.
func (s *Store) Drop(ctx context.Context, name string) error {
	s.mu.Lock()
	b, ok := s.binders[name]
	delete(s.binders, name)
	s.mu.Unlock()

	if ok {
		b.Close()
	}
	if err := s.backend.DropBucket(ctx, name); err != nil {
		return fmt.Errorf("binder store: drop %s: %w", name, err)
	}
	return nil
}

// Close stops every binder worker and then closes the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	binders := s.binders
	s.binders = make(map[string]*Binder)
	s.mu.Unlock()

	var g errgroup.Group
	for _, b := range binders {
		g.Go(b.Close)
	}
	errs := []error{g.Wait()}

	if err := s.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("binder store: close: %w", err))
	}
	return errors.Join(errs...)
}
