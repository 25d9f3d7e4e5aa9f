package luarunner

import (
	"github.com/boristopalov/slicewise/pkg/algostore"
	"github.com/boristopalov/slicewise/pkg/policy"
)

// SourceStore is the slice of the algorithm store the resolver needs.
type SourceStore interface {
	Source(id string) (algostore.Record, []byte, error)
}

// Resolver loads uploaded algorithms on demand. Every Resolve call compiles
// the module fresh; nothing is cached across requests.
type Resolver struct {
	store SourceStore
}

func NewResolver(store SourceStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the record's display name plus a bound decision function.
// Errors pass through core.ErrNotFound / core.ErrLoad / core.ErrEntryMissing.
func (r *Resolver) Resolve(id string) (string, policy.DecisionFunc, error) {
	rec, src, err := r.store.Source(id)
	if err != nil {
		return "", nil, err
	}
	fn, err := Compile(src, rec.Entry)
	if err != nil {
		return "", nil, err
	}
	return rec.Name, fn, nil
}
