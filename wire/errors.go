package wire

import "fmt"

// ErrBadAddress is returned when a wire string is not a canonical
// logical address.
type ErrBadAddress struct {
	Raw string
}

func (e *ErrBadAddress) Error() string {
	return fmt.Sprintf("wire: bad logical address: %q", e.Raw)
}

// ErrUnknownType is returned when an inbound envelope carries a type
// tag outside the known message set. Callers log and drop.
type ErrUnknownType struct {
	Type string
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("wire: unknown message type: %q", e.Type)
}
