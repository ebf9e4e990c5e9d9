// Package settings stores per-domain hidden-element rule sets.
//
// The unit of partitioning is the domain (hostname). A rule set is the
// ordered list of element records hidden on that domain plus an enabled
// flag; insertion order is hide order. Reads are forgiving, unknown or
// invalid stored data degrades to the default rule set, while writes
// are strict: a set with an invalid domain or shape fails whole, with
// no partial write.
package settings

import (
	"context"
	"regexp"

	"github.com/hazyhaar/domveil/elemid"
)

// RuleSet is the persisted state for one domain.
type RuleSet struct {
	HiddenElements []elemid.Record `json:"hiddenElements"`
	Enabled        bool            `json:"enabled"`
}

// Default returns the rule set used for unknown or invalid domains.
func Default() RuleSet {
	return RuleSet{Enabled: true}
}

// ContainsPath reports whether the set already holds a rule with the
// given structural path (path equality is rule identity).
func (rs RuleSet) ContainsPath(domPath string) bool {
	for _, rec := range rs.HiddenElements {
		if rec.DOMPath == domPath {
			return true
		}
	}
	return false
}

// Store is the per-domain settings storage consumed by the panel
// session and the page agent's rule-load path.
type Store interface {
	// Get returns the rule set for a domain, or the default when the
	// domain is unknown or the stored value fails validation.
	Get(ctx context.Context, domain string) RuleSet

	// Set validates and persists a rule set. Invalid input fails whole;
	// storage is left untouched.
	Set(ctx context.Context, domain string, rs RuleSet) error

	// Remove deletes a domain's rule set.
	Remove(ctx context.Context, domain string) error

	// ClearAll deletes every stored rule set.
	ClearAll(ctx context.Context) error

	// ListAll returns all valid stored rule sets keyed by domain,
	// silently filtering entries that fail validation.
	ListAll(ctx context.Context) (map[string]RuleSet, error)
}

// domainRe enforces the hostname shape: alphanumeric, hyphen,
// underscore, and dot, with an alphanumeric first and last character.
var domainRe = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9_.-]*[A-Za-z0-9])?$`)

const maxDomainLen = 255

// ValidateDomain checks the hostname shape used as a storage key.
func ValidateDomain(domain string) error {
	switch {
	case domain == "":
		return &ErrInvalidDomain{Domain: domain, Reason: "empty"}
	case len(domain) > maxDomainLen:
		return &ErrInvalidDomain{Domain: domain, Reason: "longer than 255 characters"}
	case !domainRe.MatchString(domain):
		return &ErrInvalidDomain{Domain: domain, Reason: "not a hostname"}
	}
	return nil
}

// ValidateRuleSet checks the stored shape: every element must carry a
// tag name and a structural path.
func ValidateRuleSet(domain string, rs RuleSet) error {
	for i, rec := range rs.HiddenElements {
		if rec.TagName == "" || rec.DOMPath == "" {
			return &ErrInvalidRuleSet{Domain: domain, Reason: "element missing tagName or domPath", Index: i}
		}
	}
	return nil
}
