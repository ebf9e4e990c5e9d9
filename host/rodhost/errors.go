package rodhost

import "fmt"

// ErrNotConnected means Connect has not succeeded yet.
type ErrNotConnected struct{}

func (e *ErrNotConnected) Error() string {
	return "rodhost: not connected to a browser"
}

// ErrNoPages means the browser has no open pages to report on.
type ErrNoPages struct{}

func (e *ErrNoPages) Error() string {
	return "rodhost: browser has no open pages"
}

// ErrNoInjector means Inject was called without a bootstrap callback.
type ErrNoInjector struct{}

func (e *ErrNoInjector) Error() string {
	return "rodhost: no injector configured"
}

// ErrUnknownTab means a tab id has no backing CDP target.
type ErrUnknownTab struct {
	TabID int
}

func (e *ErrUnknownTab) Error() string {
	return fmt.Sprintf("rodhost: unknown tab %d", e.TabID)
}
