// Package fetch decouples request issuance from blocking HTTP(S) I/O.
//
// Dispatcher contract:
// - Submit never blocks: a full queue rejects synchronously with ErrQueueFull
// - every submitted job gets exactly one callback, on a worker goroutine
// - FIFO admission to workers; no completion order across workers;
//   strictly sequential within one worker
// - response bodies are read incrementally under an idle timeout and a
//   hard byte cap; excess is discarded, the capped body is still delivered
// - no retries here, retry policy belongs to the caller's schedule
package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	stderrors "errors"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/gridgame/boardlink/helpers"
	"github.com/gridgame/boardlink/log2"
)

const (
	DefaultWorkers     = 1
	DefaultQueueSize   = 8
	DefaultTimeout     = 7 * time.Second
	DefaultIdleTimeout = 2 * time.Second
	DefaultMaxBody     = 4 << 10
)

type Config struct { //nolint:maligned
	Workers       int `hcl:"workers"`
	QueueSize     int `hcl:"queue_size"`
	TimeoutSec    int `hcl:"timeout_sec"`
	IdleTimeoutMs int `hcl:"idle_timeout_ms"`
	MaxBody       int `hcl:"max_body"`

	TLSCaFile string `hcl:"tls_ca_file"`
	// AllowInvalidTLS disables certificate verification. Explicit opt-in
	// for lab servers with self-signed certificates. Never the default.
	AllowInvalidTLS bool `hcl:"allow_invalid_tls"`

	// Transport overrides the per-worker HTTP transport. Tests only.
	Transport http.RoundTripper `hcl:"-"`
}

type Dispatcher struct {
	alive     *alive.Alive
	log       *log2.Log
	cfg       Config
	tlsConfig *tls.Config
	queue     chan *Job
	startOnce sync.Once
	// admitMu orders Submit admission against Close's stop+drain: a job
	// enqueued under the lock is guaranteed to be visible to the drain.
	admitMu sync.Mutex
	stat    Stat
}

func NewDispatcher(log *log2.Log, cfg Config) (*Dispatcher, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = DefaultMaxBody
	}
	d := &Dispatcher{
		alive: alive.NewAlive(),
		log:   log,
		cfg:   cfg,
		queue: make(chan *Job, cfg.QueueSize),
	}
	tc := &tls.Config{InsecureSkipVerify: cfg.AllowInvalidTLS} //nolint:gosec
	if cfg.TLSCaFile != "" {
		pem, err := ioutil.ReadFile(cfg.TLSCaFile)
		if err != nil {
			return nil, errors.Annotatef(err, "fetch tls_ca_file=%s", cfg.TLSCaFile)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("fetch tls_ca_file=%s no certificates found", cfg.TLSCaFile)
		}
		tc.RootCAs = pool
	}
	d.tlsConfig = tc
	if cfg.AllowInvalidTLS {
		log.Errorf("fetch allow_invalid_tls=true certificate verification is OFF")
	}
	return d, nil
}

// Submit enqueues a job. Worker pool starts lazily on first use.
// Rejection paths (queue full, closing) invoke the callback synchronously
// on the submitting goroutine.
func (d *Dispatcher) Submit(j *Job) {
	d.startOnce.Do(d.start)
	j.enqueued.SetNow()
	d.stat.Submitted.Add(1)
	var reject error
	d.admitMu.Lock()
	if !d.alive.IsRunning() {
		reject = ErrClosing
	} else {
		select {
		case d.queue <- j:
		default:
			reject = ErrQueueFull
		}
	}
	d.admitMu.Unlock()
	if reject != nil {
		d.stat.Rejected.Add(1)
		j.finish(errors.Annotatef(reject, "%s %s", j.Method, j.URL), 0, nil)
	}
}

// QueueLen reports current queue backlog. Tests and stats only.
func (d *Dispatcher) QueueLen() int { return len(d.queue) }

func (d *Dispatcher) Stat() *Stat { return &d.stat }

// Close stops accepting jobs, waits for workers, then fails whatever is
// left in the queue with ErrClosing. Every job still gets its callback.
func (d *Dispatcher) Close() {
	d.startOnce.Do(d.start)
	d.admitMu.Lock()
	d.alive.Stop()
	d.admitMu.Unlock()
	d.alive.Wait()
	for {
		select {
		case j := <-d.queue:
			d.stat.Errors.Add(1)
			j.finish(errors.Annotatef(ErrClosing, "%s %s", j.Method, j.URL), 0, nil)
		default:
			return
		}
	}
}

func (d *Dispatcher) start() {
	d.log.Debugf("fetch start workers=%d queue=%d", d.cfg.Workers, d.cfg.QueueSize)
	for i := 0; i < d.cfg.Workers; i++ {
		if d.alive.Add(1) {
			go d.worker(i)
		}
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.alive.Done()
	w := workerState{d: d, id: id}
	stopch := d.alive.StopChan()
	for {
		select {
		case <-stopch:
			return
		case j := <-d.queue:
			w.exec(j)
		}
	}
}

// workerState is exclusively owned by one worker goroutine.
type workerState struct {
	d      *Dispatcher
	id     int
	origin string
	client *http.Client
}

func (w *workerState) exec(j *Job) {
	d := w.d
	origin, err := originOf(j.URL)
	if err != nil {
		d.stat.Errors.Add(1)
		j.finish(errors.Annotatef(ErrConnect, "%s %s: %v", j.Method, j.URL, err), 0, nil)
		return
	}
	// Origin is only a connection-reuse key, never load-bearing.
	if w.client == nil || origin != w.origin {
		if w.client != nil {
			w.client.CloseIdleConnections()
		}
		w.client = w.d.newClient()
		w.origin = origin
	}

	timeout := j.Timeout
	if timeout == 0 {
		timeout = d.timeout()
	}
	maxBody := j.MaxBody
	if maxBody == 0 {
		maxBody = d.cfg.MaxBody
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var payload io.Reader
	if len(j.Payload) > 0 {
		payload = bytes.NewReader(j.Payload)
	}
	req, err := http.NewRequestWithContext(ctx, j.Method, j.URL, payload)
	if err != nil {
		d.stat.Errors.Add(1)
		j.finish(errors.Annotatef(ErrConnect, "%s %s: %v", j.Method, j.URL, err), 0, nil)
		return
	}
	for k, vs := range j.Header {
		req.Header[k] = vs
	}

	d.log.Debugf("fetch worker=%d %s %s payload=%d age=%s", w.id, j.Method, j.URL, len(j.Payload), j.Age())
	resp, err := w.client.Do(req)
	if err != nil {
		d.stat.Errors.Add(1)
		j.finish(errors.Annotatef(classify(err), "%s %s: %v", j.Method, j.URL, err), 0, nil)
		return
	}
	body, truncated, err := readBody(resp.Body, maxBody, d.idleTimeout())
	_ = resp.Body.Close()
	if err != nil {
		d.stat.Errors.Add(1)
		j.finish(errors.Annotatef(classify(err), "%s %s body: %v", j.Method, j.URL, err), 0, nil)
		return
	}
	if truncated {
		d.log.Debugf("fetch worker=%d %s %s body truncated at %d", w.id, j.Method, j.URL, maxBody)
	}
	d.stat.Done.Add(1)
	j.finish(nil, resp.StatusCode, body)
}

func (d *Dispatcher) newClient() *http.Client {
	if d.cfg.Transport != nil {
		return &http.Client{Transport: d.cfg.Transport}
	}
	t := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: d.timeout()}).DialContext,
		TLSClientConfig:       d.tlsConfig.Clone(),
		TLSHandshakeTimeout:   d.timeout(),
		ResponseHeaderTimeout: d.timeout(),
		MaxIdleConnsPerHost:   1,
	}
	return &http.Client{Transport: t}
}

func (d *Dispatcher) timeout() time.Duration {
	return helpers.IntSecondDefault(d.cfg.TimeoutSec, DefaultTimeout)
}

func (d *Dispatcher) idleTimeout() time.Duration {
	return helpers.IntMillisecondDefault(d.cfg.IdleTimeoutMs, DefaultIdleTimeout)
}

// originOf reduces an URL to its (scheme, host, port) connection key.
func originOf(rawurl string) (string, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return "", errors.Errorf("scheme=%s not supported", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return "", errors.Errorf("empty host")
	}
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return u.Scheme + "://" + host + ":" + port, nil
}

// readBody reads incrementally: no bytes for idle duration aborts, body
// longer than max is discarded past the cap but the capped prefix is
// still delivered.
func readBody(rc io.ReadCloser, max int, idle time.Duration) (body []byte, truncated bool, err error) {
	var timedOut int32
	timer := time.AfterFunc(idle, func() {
		atomic.StoreInt32(&timedOut, 1)
		_ = rc.Close()
	})
	defer timer.Stop()

	buf := make([]byte, 0, 512)
	chunk := make([]byte, 1024)
	for {
		n, rerr := rc.Read(chunk)
		if n > 0 {
			timer.Reset(idle)
			if room := max - len(buf); room > 0 {
				if n <= room {
					buf = append(buf, chunk[:n]...)
				} else {
					buf = append(buf, chunk[:room]...)
					truncated = true
				}
			} else {
				truncated = true
			}
		}
		if rerr == io.EOF {
			return buf, truncated, nil
		}
		if rerr != nil {
			if atomic.LoadInt32(&timedOut) != 0 {
				return nil, truncated, errors.Annotatef(ErrTimeout, "idle=%s", idle)
			}
			return nil, truncated, rerr
		}
	}
}

func classify(e error) error {
	cause := e
	for {
		switch typed := cause.(type) {
		case *url.Error:
			cause = typed.Err
			continue
		}
		break
	}
	if cause == context.DeadlineExceeded {
		return ErrTimeout
	}
	if errors.Cause(cause) == ErrTimeout {
		return ErrTimeout
	}
	if ne, ok := cause.(net.Error); ok && ne.Timeout() {
		return ErrTimeout
	}
	if isTLSError(cause) {
		return ErrTLS
	}
	return ErrConnect
}

// isTLSError matches handshake and certificate verification failures in
// both their legacy value shapes and the current wrapped forms.
func isTLSError(e error) bool {
	var (
		rh tls.RecordHeaderError
		ua x509.UnknownAuthorityError
		ci x509.CertificateInvalidError
		hn x509.HostnameError
	)
	return stderrors.As(e, &rh) || stderrors.As(e, &ua) ||
		stderrors.As(e, &ci) || stderrors.As(e, &hn)
}
