package structure

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/modeltree/model"
)

// ErrPartialAdd marks a live add whose re-link phase failed after the node
// was already attached.
var ErrPartialAdd = errors.New("model attached but not fully wired")

// PartialAddError reports which live phase failed for an attached node.
// Nodes in the subtree processed before the failure stay linked and
// connected; nothing is rolled back.
type PartialAddError struct {
	Node  *model.Node
	Phase string
	Err   error
}

func (e *PartialAddError) Error() string {
	return fmt.Sprintf("%v: %s during %s: %v", ErrPartialAdd, e.Node.FullPath(), e.Phase, e.Err)
}

// Is matches ErrPartialAdd.
func (e *PartialAddError) Is(target error) bool { return target == ErrPartialAdd }

func (e *PartialAddError) Unwrap() error { return e.Err }
