package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/drivers"
	"github.com/pulsegrid/fusion/internal/metrics"
	"github.com/pulsegrid/fusion/internal/model"
)

type controlOp int

const opReconnect controlOp = iota

// worker owns one connector's upstream session: it connects, pumps
// frames through the parser into the sink, and reconnects with backoff.
// Session state is confined to the worker goroutine; the mutex only
// guards the externally read status fields.
type worker struct {
	conn   data.Connector
	ref    drivers.ConnectorRef
	driver drivers.Driver
	creds  CredentialStore
	sink   Sink
	cfg    Config
	logger *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	ctrl   chan controlOp
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       model.SessionState
	lastError   string
	connectedAt *time.Time

	// firstOutcome reports the first connect result so Enable can block
	// until the session is up or definitively failed.
	firstOutcome chan error
	outcomeOnce  sync.Once
}

func newWorker(conn data.Connector, driver drivers.Driver, creds CredentialStore, sink Sink, cfg Config, logger *logrus.Logger) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{
		conn:   conn,
		ref:    drivers.ConnectorRef{ID: conn.ID, OrganizationID: conn.OrganizationID, Name: conn.Name},
		driver: driver,
		creds:  creds,
		sink:   sink,
		cfg:    cfg,
		logger: logger.WithFields(logrus.Fields{
			"connector_id": conn.ID,
			"org_id":       conn.OrganizationID,
			"category":     conn.Category,
		}),
		ctx:          ctx,
		cancel:       cancel,
		ctrl:         make(chan controlOp, 4),
		state:        model.SessionConnecting,
		firstOutcome: make(chan error, 1),
	}
}

func (w *worker) start() {
	w.wg.Add(1)
	go w.run()
}

// stop tears the worker down and waits for the goroutine to drain.
func (w *worker) stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *worker) status() (model.SessionState, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state, w.lastError
}

func (w *worker) setState(s model.SessionState, errMsg string) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.lastError = errMsg
	if s == model.SessionConnected {
		now := time.Now().UTC()
		w.connectedAt = &now
	} else {
		w.connectedAt = nil
	}
	w.mu.Unlock()

	if s == model.SessionConnected && prev != model.SessionConnected {
		metrics.SessionsConnected.Inc()
	}
	if prev == model.SessionConnected && s != model.SessionConnected {
		metrics.SessionsConnected.Dec()
	}
}

func (w *worker) reportFirstOutcome(err error) {
	w.outcomeOnce.Do(func() { w.firstOutcome <- err })
}

func (w *worker) run() {
	defer w.wg.Done()
	defer w.setState(model.SessionDisabled, "")

	attempt := 0
	for {
		if w.ctx.Err() != nil {
			return
		}

		w.setState(model.SessionConnecting, "")
		sess, err := w.connectOnce()
		switch {
		case err == nil:
			// connected below
		case errors.Is(err, context.Canceled):
			w.reportFirstOutcome(err)
			return
		case errors.Is(err, drivers.ErrAuth):
			// Refresh already happened inside connectOnce; a second
			// rejection means operator intervention is needed.
			w.logger.WithError(err).Error("session failed: credentials rejected")
			w.setState(model.SessionFailed, err.Error())
			w.reportFirstOutcome(err)
			if !w.park() {
				return
			}
			attempt = 0
			continue
		default:
			attempt++
			delay := backoffDelay(attempt, w.cfg.BackoffBase, w.cfg.BackoffMax)
			w.logger.WithError(err).WithFields(logrus.Fields{
				"attempt":  attempt,
				"retry_in": delay.Round(time.Millisecond).String(),
			}).Warn("session connect failed, backing off")
			w.setState(model.SessionReconnecting, err.Error())
			w.reportFirstOutcome(err)
			metrics.SessionReconnects.WithLabelValues(string(w.conn.Category)).Inc()
			if !w.sleep(delay) {
				return
			}
			continue
		}

		attempt = 0
		w.setState(model.SessionConnected, "")
		w.reportFirstOutcome(nil)
		w.logger.Info("session connected")

		again, requested := w.pump(sess)
		sess.Close()
		if !again {
			return
		}
		if !requested {
			// A dead transport counts as the first failed attempt:
			// reconnecting instantly would hammer a broker that just
			// dropped us.
			attempt = 1
			delay := backoffDelay(attempt, w.cfg.BackoffBase, w.cfg.BackoffMax)
			w.logger.WithField("retry_in", delay.Round(time.Millisecond).String()).
				Warn("transport lost, backing off before reconnect")
			metrics.SessionReconnects.WithLabelValues(string(w.conn.Category)).Inc()
			if !w.sleep(delay) {
				return
			}
		}
	}
}

// connectOnce refreshes credentials and dials. On an auth rejection it
// forces one refresh and retries; a second rejection surfaces ErrAuth.
func (w *worker) connectOnce() (drivers.Session, error) {
	cfg, err := w.creds.EnsureFresh(w.ctx, w.conn.ID)
	if err != nil {
		return nil, err
	}

	sess, err := w.dial(cfg)
	if err == nil || !errors.Is(err, drivers.ErrAuth) {
		return sess, err
	}

	w.logger.WithError(err).Warn("session rejected, forcing credential refresh")
	cfg, rerr := w.creds.ForceRefresh(w.ctx, w.conn.ID)
	if rerr != nil {
		return nil, rerr
	}
	return w.dial(cfg)
}

func (w *worker) dial(cfg drivers.Config) (drivers.Session, error) {
	ctx, cancel := context.WithTimeout(w.ctx, w.cfg.ConnectTimeout)
	defer cancel()
	return w.driver.Connect(ctx, w.ref, cfg)
}

// pump moves frames from the live session into the sink until the
// transport dies or the worker is told to stop. again is true when the
// run loop should reconnect; requested distinguishes an operator
// reconnect (immediate) from a transport drop (backed off).
func (w *worker) pump(sess drivers.Session) (again, requested bool) {
	for {
		select {
		case <-w.ctx.Done():
			return false, false

		case <-w.ctrl:
			w.logger.Info("reconnect requested")
			return true, true

		case err := <-sess.Err():
			w.logger.WithError(err).Warn("session transport failed")
			w.setState(model.SessionReconnecting, err.Error())
			return true, false

		case frame, ok := <-sess.Frames():
			if !ok {
				w.logger.Warn("session frame stream closed")
				w.setState(model.SessionReconnecting, "transport closed")
				return true, false
			}
			w.handleFrame(frame)
		}
	}
}

// handleFrame parses synchronously on the worker goroutine, preserving
// per-connector event ordering into the pipeline.
func (w *worker) handleFrame(frame drivers.Frame) {
	events, err := w.driver.Parse(w.ref, frame)
	if err != nil {
		metrics.ParseFailures.WithLabelValues(string(w.conn.Category)).Inc()
		w.logger.WithError(err).Warn("dropping unparseable frame")
		return
	}
	if len(events) == 0 {
		return
	}
	w.sink.Submit(&w.conn, events)
}

// park idles a FAILED worker until a control message or shutdown.
// Returns true when the worker should try connecting again.
func (w *worker) park() bool {
	for {
		select {
		case <-w.ctx.Done():
			return false
		case <-w.ctrl:
			return true
		}
	}
}

// sleep waits out a backoff delay, aborting early on control traffic.
func (w *worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return false
		case <-w.ctrl:
			return true
		case <-timer.C:
			return true
		}
	}
}
