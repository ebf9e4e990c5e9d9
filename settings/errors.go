package settings

import "fmt"

// ErrInvalidDomain is returned when a storage key fails the hostname
// shape validation.
type ErrInvalidDomain struct {
	Domain string
	Reason string
}

func (e *ErrInvalidDomain) Error() string {
	return fmt.Sprintf("settings: invalid domain %q: %s", e.Domain, e.Reason)
}

// ErrInvalidRuleSet is returned when a rule set fails shape validation.
type ErrInvalidRuleSet struct {
	Domain string
	Reason string
	Index  int
}

func (e *ErrInvalidRuleSet) Error() string {
	return fmt.Sprintf("settings: invalid rule set for %q (element %d): %s", e.Domain, e.Index, e.Reason)
}
