package dedup

import (
	"errors"
	"fmt"

	"github.com/Techinsane-official/scrapper/models"
)

var (
	// ErrCatalogUnavailable is wrapped by PartialBatchFailure.
	ErrCatalogUnavailable = errors.New("dedup: catalog unavailable")
	// ErrAmbiguousMatch marks a candidate held for manual review.
	ErrAmbiguousMatch = errors.New("dedup: ambiguous match")
)

// PartialBatchFailure is returned when the catalog could not be read part way
// through a pass. Decisions made before the failure are provisional and the
// whole batch can be retried.
type PartialBatchFailure struct {
	Decided int
	Pending []*models.Product
	Err     error
}

func (e *PartialBatchFailure) Error() string {
	return fmt.Sprintf("dedup: partial batch failure after %d decisions, %d pending: %v", e.Decided, len(e.Pending), e.Err)
}

func (e *PartialBatchFailure) Unwrap() []error {
	return []error{ErrCatalogUnavailable, e.Err}
}
