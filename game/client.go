// Package game implements the board-side protocol client of the energy
// game server: login, registration, coefficient polling, power
// submission and connected-device reports, all issued through the fetch
// dispatcher so the caller's control loop never blocks.
package game

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"

	"github.com/gridgame/boardlink/fetch"
	"github.com/gridgame/boardlink/helpers"
	"github.com/gridgame/boardlink/log2"
	"github.com/gridgame/boardlink/wire"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultUpdateInterval = 3 * time.Second
	DefaultRequestTimeout = 7 * time.Second

	epLogin         = "/login"
	epRegister      = "/register"
	epPostVals      = "/post_vals"
	epPollBinary    = "/poll_binary"
	epProdConnected = "/prod_connected"
	epConsConnected = "/cons_connected"
	epProdVals      = "/prod_vals"
	epConsVals      = "/cons_vals"
)

// Auth precondition errors, rejected before any network I/O.
var (
	ErrNotLoggedIn   = fmt.Errorf("not logged in")
	ErrNotRegistered = fmt.Errorf("not registered")
)

// HTTPError is a response with status outside 2xx. Transport worked,
// the server said no. Success for this protocol is exactly 200.
type HTTPError struct {
	Status int
	Body   []byte
}

func (e HTTPError) Error() string {
	return fmt.Sprintf("http status=%d body=%q", e.Status, e.Body)
}

type Config struct { //nolint:maligned
	BaseURL           string `hcl:"base_url"`
	Username          string `hcl:"username"`
	Password          string `hcl:"password"` // secret
	PollIntervalMs    int    `hcl:"poll_interval_ms"`
	UpdateIntervalMs  int    `hcl:"update_interval_ms"`
	RequestTimeoutSec int    `hcl:"request_timeout_sec"`
}

// Callbacks supply current values at each update tick. They run
// synchronously inside Update() and must be fast and non-blocking.
// Nil members skip the corresponding report.
type Callbacks struct {
	Production  func() float64 // watts, NaN = absent
	Consumption func() float64
	Plants      func() []wire.Plant
	Consumers   func() []uint32
}

type Client struct {
	log     *log2.Log
	fetcher *fetch.Dispatcher
	cfg     Config
	cb      Callbacks
	req     requestTracker

	// test hook, default time.Now
	now func() time.Time

	// unix nanos, sync/atomic access
	lastPollNs   int64
	lastSubmitNs int64

	mu         sync.Mutex // guards fields below against worker callbacks
	token      string
	loggedIn   bool
	registered bool
	coeffs     CoeffSet
	changed    bool
}

func NewClient(log *log2.Log, fetcher *fetch.Dispatcher, cfg Config, cb Callbacks) *Client {
	return &Client{
		log:     log,
		fetcher: fetcher,
		cfg:     cfg,
		cb:      cb,
		now:     time.Now,
		coeffs:  newCoeffSet(),
	}
}

func (c *Client) LoggedIn() bool   { l, _ := c.session(); return l }
func (c *Client) Registered() bool { _, r := c.session(); return r }

func (c *Client) session() (loggedIn, registered bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn, c.registered
}

// Coefficients returns a snapshot copy of the current set.
func (c *Client) Coefficients() CoeffSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coeffs.clone()
}

func (c *Client) GameActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coeffs.GameActive
}

// RequestState exposes the blocking-call tracker, mostly for diagnostics.
func (c *Client) RequestState() RequestState { return c.req.current() }

// Login authenticates via the JSON endpoint and stores the bearer token.
// Blocking convenience: awaits the dispatcher callback up to the request
// timeout.
func (c *Client) Login(user, pass string) error {
	if err := c.req.begin(); err != nil {
		return err
	}
	f := helpers.NewFuture()
	c.loginSubmit(user, pass, func(e error) { f.Complete(e) })
	c.req.sent()
	res, ok := f.WaitTimeout(c.requestTimeout())
	if !ok {
		// forced Error transition, late callback is ignored by the future
		c.req.end(fetch.ErrTimeout)
		return errors.Annotatef(fetch.ErrTimeout, "login wait=%s", c.requestTimeout())
	}
	err, _ := res.(error)
	c.req.end(err)
	return err
}

// LoginAsync is the non-blocking variant; done runs on a worker goroutine.
func (c *Client) LoginAsync(user, pass string, done func(error)) {
	c.loginSubmit(user, pass, done)
}

func (c *Client) loginSubmit(user, pass string, done func(error)) {
	body, err := json.Marshal(struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{Username: user, Password: pass})
	if err != nil {
		finishErr(done, errors.Annotate(err, "login encode"))
		return
	}
	c.fetcher.Submit(&fetch.Job{
		Method:  http.MethodPost,
		URL:     c.cfg.BaseURL + epLogin,
		Payload: body,
		Header:  http.Header{"Content-Type": []string{"application/json"}},
		Timeout: c.requestTimeout(),
		Done: func(err error, status int, body []byte) {
			if err != nil {
				finishErr(done, errors.Annotate(err, "login"))
				return
			}
			if status != 200 {
				finishErr(done, HTTPError{Status: status, Body: body})
				return
			}
			var resp struct {
				Token string `json:"token"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				finishErr(done, errors.Annotate(err, "login decode"))
				return
			}
			if resp.Token == "" {
				finishErr(done, errors.Errorf("login response without token"))
				return
			}
			c.mu.Lock()
			c.token = resp.Token
			c.loggedIn = true
			c.mu.Unlock()
			c.log.Debugf("game login ok user=%s", user)
			finishErr(done, nil)
		},
	})
}

// Register announces the board. Blocking convenience like Login.
func (c *Client) Register() error {
	if err := c.req.begin(); err != nil {
		return err
	}
	f := helpers.NewFuture()
	c.RegisterAsync(func(e error) { f.Complete(e) })
	c.req.sent()
	res, ok := f.WaitTimeout(c.requestTimeout())
	if !ok {
		c.req.end(fetch.ErrTimeout)
		return errors.Annotatef(fetch.ErrTimeout, "register wait=%s", c.requestTimeout())
	}
	err, _ := res.(error)
	c.req.end(err)
	return err
}

func (c *Client) RegisterAsync(done func(error)) {
	hdr, err := c.authHeader()
	if err != nil {
		finishErr(done, err)
		return
	}
	c.fetcher.Submit(&fetch.Job{
		Method:  http.MethodPost,
		URL:     c.cfg.BaseURL + epRegister,
		Header:  hdr,
		Timeout: c.requestTimeout(),
		Done: func(err error, status int, body []byte) {
			if err != nil {
				finishErr(done, errors.Annotate(err, "register"))
				return
			}
			if status != 200 {
				finishErr(done, HTTPError{Status: status, Body: body})
				return
			}
			r, err := wire.RegisterResultUnmarshal(body)
			if err != nil {
				finishErr(done, errors.Annotate(err, "register decode"))
				return
			}
			if !r.Success {
				finishErr(done, errors.New(r.Message))
				return
			}
			helpers.WithLock(&c.mu, func() { c.registered = true })
			c.log.Debugf("game register ok")
			finishErr(done, nil)
		},
	})
}

// Poll fetches current coefficients. Empty body means game inactive and
// clears the set. A malformed body never modifies the cached set.
func (c *Client) Poll(done func(error)) {
	hdr, err := c.gameAuthHeader()
	if err != nil {
		finishErr(done, err)
		return
	}
	c.fetcher.Submit(&fetch.Job{
		Method:  http.MethodGet,
		URL:     c.cfg.BaseURL + epPollBinary,
		Header:  hdr,
		Timeout: c.requestTimeout(),
		Done: func(err error, status int, body []byte) {
			if err != nil {
				finishErr(done, errors.Annotate(err, "poll"))
				return
			}
			if status != 200 {
				finishErr(done, HTTPError{Status: status, Body: body})
				return
			}
			if len(body) == 0 {
				c.install(newCoeffSet())
				finishErr(done, nil)
				return
			}
			prod, cons, err := wire.PollUnmarshal(body)
			if err != nil {
				// fail-safe: keep previous good set
				finishErr(done, errors.Annotate(err, "poll decode"))
				return
			}
			next := newCoeffSet()
			next.GameActive = true
			for _, p := range prod {
				next.Production[p.ID] = wire.Watts(p.Value)
			}
			for _, co := range cons {
				next.Consumption[co.ID] = wire.Watts(co.Value)
			}
			c.install(next)
			finishErr(done, nil)
		},
	})
}

// install replaces the whole set, never merges.
func (c *Client) install(next CoeffSet) {
	helpers.WithLock(&c.mu, func() {
		if !c.coeffs.equal(next) {
			c.changed = true
		}
		c.coeffs = next
	})
}

// SubmitPower posts current production/consumption watts.
func (c *Client) SubmitPower(production, consumption float64, done func(error)) {
	hdr, err := c.gameAuthHeader()
	if err != nil {
		finishErr(done, err)
		return
	}
	pd := wire.PowerData{
		Production:  wire.Milliwatts(production),
		Consumption: wire.Milliwatts(consumption),
	}
	c.fetcher.Submit(&fetch.Job{
		Method:  http.MethodPost,
		URL:     c.cfg.BaseURL + epPostVals,
		Payload: pd.Marshal(),
		Header:  hdr,
		Timeout: c.requestTimeout(),
		Done:    c.expect200("post_vals", done),
	})
}

// ReportPlants posts the connected power plant list.
func (c *Client) ReportPlants(plants []wire.Plant, done func(error)) {
	hdr, err := c.gameAuthHeader()
	if err != nil {
		finishErr(done, err)
		return
	}
	payload, err := wire.PlantsMarshal(plants)
	if err != nil {
		finishErr(done, errors.Annotate(err, "prod_connected encode"))
		return
	}
	c.fetcher.Submit(&fetch.Job{
		Method:  http.MethodPost,
		URL:     c.cfg.BaseURL + epProdConnected,
		Payload: payload,
		Header:  hdr,
		Timeout: c.requestTimeout(),
		Done:    c.expect200("prod_connected", done),
	})
}

// ReportConsumers posts the connected consumer list.
func (c *Client) ReportConsumers(consumers []uint32, done func(error)) {
	hdr, err := c.gameAuthHeader()
	if err != nil {
		finishErr(done, err)
		return
	}
	payload, err := wire.ConsumersMarshal(consumers)
	if err != nil {
		finishErr(done, errors.Annotate(err, "cons_connected encode"))
		return
	}
	c.fetcher.Submit(&fetch.Job{
		Method:  http.MethodPost,
		URL:     c.cfg.BaseURL + epConsConnected,
		Payload: payload,
		Header:  hdr,
		Timeout: c.requestTimeout(),
		Done:    c.expect200("cons_connected", done),
	})
}

// GetProductionValues fetches the production half standalone and
// replaces only that half of the set.
func (c *Client) GetProductionValues(done func(error)) {
	c.getValues(epProdVals, true, done)
}

// GetConsumptionValues fetches the consumption half standalone.
func (c *Client) GetConsumptionValues(done func(error)) {
	c.getValues(epConsVals, false, done)
}

func (c *Client) getValues(endpoint string, production bool, done func(error)) {
	hdr, err := c.gameAuthHeader()
	if err != nil {
		finishErr(done, err)
		return
	}
	c.fetcher.Submit(&fetch.Job{
		Method:  http.MethodGet,
		URL:     c.cfg.BaseURL + endpoint,
		Header:  hdr,
		Timeout: c.requestTimeout(),
		Done: func(err error, status int, body []byte) {
			if err != nil {
				finishErr(done, errors.Annotatef(err, "get %s", endpoint))
				return
			}
			if status != 200 {
				finishErr(done, HTTPError{Status: status, Body: body})
				return
			}
			cs, err := wire.CoefficientsUnmarshal(body)
			if err != nil {
				finishErr(done, errors.Annotatef(err, "decode %s", endpoint))
				return
			}
			half := make(map[uint8]float64, len(cs))
			for _, entry := range cs {
				half[entry.ID] = wire.Watts(entry.Value)
			}
			c.mu.Lock()
			next := c.coeffs.clone()
			if production {
				next.Production = half
			} else {
				next.Consumption = half
			}
			if !c.coeffs.equal(next) {
				c.changed = true
			}
			c.coeffs = next
			c.mu.Unlock()
			finishErr(done, nil)
		},
	})
}

// Update is the only call the control loop needs. Never blocks. Issues
// at most one poll per due interval regardless of how late the caller
// is, and when the game is active, reports devices and submits power at
// the update interval. Returns whether coefficients changed since the
// previous Update, consumed once.
func (c *Client) Update() bool {
	c.mu.Lock()
	loggedIn, registered := c.loggedIn, c.registered
	active := c.coeffs.GameActive
	changed := c.changed
	c.changed = false
	c.mu.Unlock()

	if !loggedIn || !registered {
		return changed
	}

	nowNs := c.now().UnixNano()
	if nowNs-atomic.LoadInt64(&c.lastPollNs) >= int64(c.pollInterval()) {
		atomic.StoreInt64(&c.lastPollNs, nowNs)
		c.Poll(func(e error) {
			if e != nil {
				c.log.Errorf("game poll: %v", e)
			}
		})
	}
	if active && nowNs-atomic.LoadInt64(&c.lastSubmitNs) >= int64(c.updateInterval()) {
		atomic.StoreInt64(&c.lastSubmitNs, nowNs)
		c.submitTick()
	}
	return changed
}

func (c *Client) submitTick() {
	logErr := func(op string) func(error) {
		return func(e error) {
			if e != nil {
				c.log.Errorf("game %s: %v", op, e)
			}
		}
	}
	if c.cb.Plants != nil {
		c.ReportPlants(c.cb.Plants(), logErr("prod_connected"))
	}
	if c.cb.Consumers != nil {
		c.ReportConsumers(c.cb.Consumers(), logErr("cons_connected"))
	}
	if c.cb.Production != nil && c.cb.Consumption != nil {
		c.SubmitPower(c.cb.Production(), c.cb.Consumption(), logErr("post_vals"))
	}
}

func (c *Client) expect200(op string, done func(error)) fetch.Callback {
	return func(err error, status int, body []byte) {
		if err != nil {
			finishErr(done, errors.Annotate(err, op))
			return
		}
		if status != 200 {
			finishErr(done, HTTPError{Status: status, Body: body})
			return
		}
		finishErr(done, nil)
	}
}

// authHeader requires login only (register itself).
func (c *Client) authHeader() (http.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loggedIn {
		return nil, ErrNotLoggedIn
	}
	return http.Header{
		"Authorization": []string{"Bearer " + c.token},
		"Content-Type":  []string{"application/octet-stream"},
	}, nil
}

// gameAuthHeader requires login and registration.
func (c *Client) gameAuthHeader() (http.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loggedIn {
		return nil, ErrNotLoggedIn
	}
	if !c.registered {
		return nil, ErrNotRegistered
	}
	return http.Header{
		"Authorization": []string{"Bearer " + c.token},
		"Content-Type":  []string{"application/octet-stream"},
	}, nil
}

func (c *Client) pollInterval() time.Duration {
	return helpers.IntMillisecondDefault(c.cfg.PollIntervalMs, DefaultPollInterval)
}

func (c *Client) updateInterval() time.Duration {
	return helpers.IntMillisecondDefault(c.cfg.UpdateIntervalMs, DefaultUpdateInterval)
}

func (c *Client) requestTimeout() time.Duration {
	return helpers.IntSecondDefault(c.cfg.RequestTimeoutSec, DefaultRequestTimeout)
}

func finishErr(done func(error), err error) {
	if done != nil {
		done(err)
	}
}
