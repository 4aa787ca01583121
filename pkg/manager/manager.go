package manager

import (
	"errors"

	"github.com/ebb-cloud/ebb/pkg/compute"
	"github.com/ebb-cloud/ebb/pkg/events"
	"github.com/ebb-cloud/ebb/pkg/storage"
)

// DefaultLeaseDays is the lease granted when a request does not say
// otherwise, and the unit of every extension.
const DefaultLeaseDays = 3

var (
	// ErrNotOwner is returned when someone other than the creator tries to
	// delete or extend a resource.
	ErrNotOwner = errors.New("resource belongs to another user")

	// ErrInvalidName is returned for names the provider would reject.
	ErrInvalidName = errors.New("invalid resource name")

	// ErrInvalidSubdomain is returned for DNS labels that are not valid
	// hostnames.
	ErrInvalidSubdomain = errors.New("invalid subdomain")
)

// Manager owns the lifecycle of leased resources: it is the only component
// that both calls the provider and writes the store, so the two stay
// consistent. Everything it does ends with an event on the broker.
type Manager struct {
	store     storage.Store
	api       compute.API
	publisher events.Publisher
}

// New creates a Manager.
func New(store storage.Store, api compute.API, publisher events.Publisher) *Manager {
	return &Manager{
		store:     store,
		api:       api,
		publisher: publisher,
	}
}
