package store

import (
	"errors"
	"fmt"

	"github.com/ydydsnyd/mono-sub004/internal/algorithm"
	"github.com/ydydsnyd/mono-sub004/internal/model"
)

// ErrConcurrentModification matches any *ConcurrentModificationError via errors.Is
var ErrConcurrentModification = errors.New("concurrent modification")

// ConcurrentModificationError is returned by Flush when another writer has
// advanced the client view record since it was loaded. Nothing was written;
// the caller is expected to reload and recompute.
type ConcurrentModificationError struct {
	GroupID         string
	ExpectedVersion model.CVRVersion
	ActualVersion   model.CVRVersion
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification of client group %s: expected version %s, found %s",
		e.GroupID,
		algorithm.VersionString(e.ExpectedVersion),
		algorithm.VersionString(e.ActualVersion))
}

// Is makes errors.Is(err, ErrConcurrentModification) hold
func (e *ConcurrentModificationError) Is(target error) bool {
	return target == ErrConcurrentModification
}
