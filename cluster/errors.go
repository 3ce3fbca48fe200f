package cluster

import "fmt"

// PortCountMismatchError means a pinned-port list did not line up 1:1 with
// the members the selector matched. Truncating or padding silently would hide
// a caller bug, so the mismatch is fatal at configuration time.
type PortCountMismatchError struct {
	Selector string
	Matched  int
	Supplied int
}

func (e *PortCountMismatchError) Error() string {
	return fmt.Sprintf("found %d members matching %q but %d ports were supplied; they must be the same",
		e.Matched, e.Selector, e.Supplied)
}

// ResourceReadError means a configuration resource (classpath directory,
// cache XML file, ...) could not be located or read. Raised at configuration
// time rather than deferred to startup.
type ResourceReadError struct {
	Resource string
	Err      error
}

func (e *ResourceReadError) Error() string {
	return fmt.Sprintf("unable to read resource %s: %v", e.Resource, e.Err)
}

func (e *ResourceReadError) Unwrap() error { return e.Err }
