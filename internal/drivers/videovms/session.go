package videovms

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsegrid/fusion/internal/drivers"
)

const (
	handshakeTimeout = 15 * time.Second
	readLimit        = 1 << 20 // event frames are small; 1MiB is generous
	readDeadline     = 60 * time.Second
	pingInterval     = 54 * time.Second
	writeTimeout     = 5 * time.Second
	frameBuffer      = 256
)

// session is one WebSocket to the VMS event stream. A read pump delivers
// frames; a ping ticker keeps intermediaries from idling the connection.
type session struct {
	conn      *websocket.Conn
	frames    chan drivers.Frame
	errs      chan error
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (d *Driver) Connect(ctx context.Context, ref drivers.ConnectorRef, cfg drivers.Config) (drivers.Session, error) {
	c, err := asConfig(cfg)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := http.Header{"Authorization": {"Bearer " + c.APIKey}}

	conn, resp, err := dialer.DialContext(ctx, c.wsURL(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("video-vms connect: %w: status %d", drivers.ErrAuth, resp.StatusCode)
		}
		return nil, fmt.Errorf("video-vms connect %s: %w", c.wsURL(), err)
	}

	s := &session{
		conn:   conn,
		frames: make(chan drivers.Frame, frameBuffer),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	s.wg.Add(2)
	go s.readPump()
	go s.pingLoop()

	return s, nil
}

func (s *session) readPump() {
	defer s.wg.Done()
	defer close(s.frames)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.reportError(fmt.Errorf("video-vms read: %w", err))
			}
			return
		}
		frame := drivers.Frame{Data: data, ReceivedAt: time.Now().UTC()}
		select {
		case s.frames <- frame:
		default:
			// Reader saturated; the pipeline inlet is the accounted
			// backpressure point, this buffer just absorbs bursts.
		}
	}
}

func (s *session) pingLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.reportError(fmt.Errorf("video-vms ping: %w", err))
				return
			}
		}
	}
}

func (s *session) Frames() <-chan drivers.Frame { return s.frames }

func (s *session) Err() <-chan error { return s.errs }

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		deadline := time.Now().Add(writeTimeout)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.conn.Close()
	})
	s.wg.Wait()
	return nil
}

func (s *session) reportError(err error) {
	select {
	case s.errs <- err:
	default:
	}
}
