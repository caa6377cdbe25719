package eventbus

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
	"github.com/Auros/VRAtlas.API-sub000/internal/store"
)

// Publisher enqueues messages for dispatch.
type Publisher interface {
	Publish(ctx context.Context, msg domain.Message) error
}

// UnitOfWork is the scope of one dispatch or one fired trigger: a scoped
// store session, a logger tagged with the work id, and a publisher for
// follow-up messages. It is never shared between goroutines.
type UnitOfWork struct {
	ID        uuid.UUID
	Store     store.Store
	Logger    zerolog.Logger
	Publisher Publisher

	session store.Session
}

// OpenUnitOfWork opens a fresh session for one unit of work.
func OpenUnitOfWork(ctx context.Context, opener store.Opener, logger zerolog.Logger, pub Publisher) (*UnitOfWork, error) {
	session, err := opener.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	id := uuid.New()
	return &UnitOfWork{
		ID:        id,
		Store:     session,
		Logger:    logger.With().Str("uow", id.String()).Logger(),
		Publisher: pub,
		session:   session,
	}, nil
}

// Close releases the session.
func (u *UnitOfWork) Close() error {
	if u.session == nil {
		return nil
	}
	return u.session.Close()
}
