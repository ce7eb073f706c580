package unitofwork

import "context"

// RepositoryFactory hands out a unit of work bound to one request context.
type RepositoryFactory interface {
	NewUnitOfWork(ctx context.Context) UnitOfWork
}
