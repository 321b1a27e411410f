package worker

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time. The default is UTC wall clock; tests
// substitute a fixed clock.
type Clock func() time.Time

// UTCNow is the production Clock.
func UTCNow() time.Time {
	return time.Now().UTC()
}

// NewWorkerID builds a process-unique worker identifier of the form
// host-pid-suffix. It is recorded as lease_owner on every claimed unit.
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
