package fetch

// Counters are updated atomically but not consistently with each other,
// i.e. it is possible to observe Submitted=1 Done=0 mid-flight.

import (
	"expvar"
	"fmt"
)

type Stat struct {
	Submitted expvar.Int
	Rejected  expvar.Int
	Done      expvar.Int
	Errors    expvar.Int
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"submitted":%d,"rejected":%d,"done":%d,"errors":%d}`,
		s.Submitted.Value(), s.Rejected.Value(), s.Done.Value(), s.Errors.Value())
}
