package stages

import (
	"fmt"

	"github.com/go-lasr/lasr/internal/stage"
)

// errStageMergeType reports a Merge call that received a worker clone of
// the wrong concrete type, which would only happen from a bug in the
// engine's clone/merge bookkeeping.
func errStageMergeType(name string, got stage.Stage) error {
	return fmt.Errorf("%s: Merge received an unexpected clone type %T", name, got)
}
