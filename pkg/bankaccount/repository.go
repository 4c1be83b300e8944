package bankaccount

import (
	"github.com/plaenen/bankledger/pkg/domain"
	"github.com/plaenen/bankledger/pkg/store"
)

// NewRepository builds the aggregate repository for accounts, wiring
// store.NewRepository's generic factory/applier hooks to newAccount and
// ApplyEvent. Exported because callers outside this package
// (cmd/bankledgerd, the package's external tests) build one per event
// store and hand it to NewCommandHandlers.
func NewRepository(eventStore store.EventStore) store.Repository[*Account] {
	return store.NewRepository[*Account](
		eventStore,
		AggregateType,
		func(id string) *Account { return newAccount(id) },
		func(a *Account, event *domain.Event) error { return a.ApplyEvent(event) },
	)
}
