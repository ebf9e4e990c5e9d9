package panel

// ErrNoDomain means no page has announced a domain yet; rule operations
// have nothing to key on.
type ErrNoDomain struct{}

func (e *ErrNoDomain) Error() string {
	return "panel: no domain tracked yet"
}

// ErrNoActiveTab means no tab activation has been observed; agent
// commands have no addressable target.
type ErrNoActiveTab struct{}

func (e *ErrNoActiveTab) Error() string {
	return "panel: no active tab tracked yet"
}
