package eventbus

import (
	"context"
	"fmt"

	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
)

// TypedHandler handles one message type. A fresh instance is built for
// every dispatch from the factory given to Register.
type TypedHandler[M domain.Message] interface {
	Handle(ctx context.Context, msg M) error
}

// HandlerFunc adapts a function to TypedHandler.
type HandlerFunc[M domain.Message] func(ctx context.Context, msg M) error

func (f HandlerFunc[M]) Handle(ctx context.Context, msg M) error { return f(ctx, msg) }

type invokeFn func(ctx context.Context, uow *UnitOfWork, msg domain.Message) error

type kind struct {
	name   string
	invoke invokeFn
}

// Builder collects handler kinds before the bus starts.
type Builder struct {
	kinds map[string][]kind
	built bool
}

func NewBuilder() *Builder {
	return &Builder{kinds: make(map[string][]kind)}
}

// Register appends a handler kind for message type M. Kinds for the same
// message run in registration order. M must be a value type.
//
// Register panics if called after Build.
func Register[M domain.Message](b *Builder, name string, factory func(uow *UnitOfWork) TypedHandler[M]) {
	if b.built {
		panic("eventbus: Register called after Build")
	}

	var zero M
	messageType := zero.MessageType()

	b.kinds[messageType] = append(b.kinds[messageType], kind{
		name: name,
		invoke: func(ctx context.Context, uow *UnitOfWork, msg domain.Message) error {
			m, ok := msg.(M)
			if !ok {
				return fmt.Errorf("handler %s: unexpected message %T", name, msg)
			}
			return factory(uow).Handle(ctx, m)
		},
	})
}

// Build freezes the registrations.
func (b *Builder) Build() *Registry {
	b.built = true

	kinds := make(map[string][]kind, len(b.kinds))
	for t, ks := range b.kinds {
		kinds[t] = append([]kind(nil), ks...)
	}
	return &Registry{kinds: kinds}
}

// Registry is the immutable message type to handler kinds table.
type Registry struct {
	kinds map[string][]kind
}

func (r *Registry) lookup(messageType string) []kind {
	return r.kinds[messageType]
}

// Handlers returns the kind names registered for a message type, in order.
func (r *Registry) Handlers(messageType string) []string {
	ks := r.kinds[messageType]
	names := make([]string, len(ks))
	for i, k := range ks {
		names[i] = k.name
	}
	return names
}
