package fetch

import (
	"fmt"
	"net/http"
	"time"

	atomic_clock "github.com/temoto/atomic_clock"
)

// Error taxonomy. Check with errors.Cause(err) == fetch.ErrX.
// HTTP status outside 2xx is not an error here, it is delivered as data.
var (
	ErrQueueFull = fmt.Errorf("queue full")
	ErrConnect   = fmt.Errorf("connect failed")
	ErrTimeout   = fmt.Errorf("timeout")
	ErrTLS       = fmt.Errorf("tls failed")
	ErrClosing   = fmt.Errorf("closing")
)

// Callback receives the job outcome, always exactly once, always on a
// worker goroutine. status=0 when transport failed before a response.
type Callback func(err error, status int, body []byte)

// Job describes one network operation. The queue owns it from Submit
// until a worker pops it; the worker owns it until Done fires.
type Job struct {
	Method  string // http.MethodGet or http.MethodPost
	URL     string
	Payload []byte
	Header  http.Header
	Timeout time.Duration // overall, 0 = dispatcher default
	MaxBody int           // response cap in bytes, 0 = dispatcher default
	Done    Callback

	enqueued atomic_clock.Clock
	finished bool
}

// Age is time since Submit.
func (j *Job) Age() time.Duration { return atomic_clock.Since(&j.enqueued) }

func (j *Job) finish(err error, status int, body []byte) {
	if j.finished {
		panic(fmt.Sprintf("code error job finished twice method=%s url=%s", j.Method, j.URL))
	}
	j.finished = true
	if j.Done != nil {
		j.Done(err, status, body)
	}
}
