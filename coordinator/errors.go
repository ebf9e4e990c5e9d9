package coordinator

import (
	"fmt"

	"github.com/hazyhaar/domveil/wire"
)

// ErrNoRoute is logged when an envelope targets an address with no
// registered channel. Delivery is at-most-once; the envelope is
// dropped, not queued.
type ErrNoRoute struct {
	Target wire.Address
}

func (e *ErrNoRoute) Error() string {
	return fmt.Sprintf("coordinator: no channel registered for %s", e.Target)
}
