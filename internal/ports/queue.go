package ports

import (
	"context"

	"github.com/ghalamif/SenseFlow/internal/domain"
)

// RequestQueue carries requests from the dispatcher to the manager.
type RequestQueue interface {
	Put(ctx context.Context, r domain.Request) error
	TryGet() (domain.Request, bool)
	Len() int
}

// CommandQueue carries commands from the manager to the dispatcher.
type CommandQueue interface {
	Put(ctx context.Context, c domain.Command) error
	TryGet() (domain.Command, bool)
	Len() int
}
