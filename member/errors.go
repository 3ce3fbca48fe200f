package member

import (
	"fmt"
	"time"
)

// StartupTimeoutError means a member's readiness marker never appeared within
// its timeout. It is fatal for the cluster start and never retried: a wedged
// member (missing license acceptance, port conflict, bad configuration) does
// not self-heal. The captured log tail rides along for diagnosis.
type StartupTimeoutError struct {
	Member  string
	Timeout time.Duration
	LogTail string
}

func (e *StartupTimeoutError) Error() string {
	return fmt.Sprintf("member %s did not start within %s", e.Member, e.Timeout)
}
