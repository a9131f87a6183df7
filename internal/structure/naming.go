package structure

import (
	"fmt"
	"strconv"

	"github.com/signalsfoundry/modeltree/model"
)

const maxNameAttempts = 10000

// EnsureUnique renames n so that no sibling shares its name. Suffixes are
// always appended to the original name (Foo, Foo1, Foo2), never to an
// already suffixed one, and siblings are re-checked after every attempt.
func EnsureUnique(n *model.Node) error {
	base := n.Name
	name := base
	for attempt := 0; model.FindSibling(n, name) != nil; attempt++ {
		if attempt >= maxNameAttempts {
			return fmt.Errorf("%w for model %s", model.ErrNameExhausted, base)
		}
		name = base + strconv.Itoa(attempt+1)
	}
	n.Name = name
	return nil
}
