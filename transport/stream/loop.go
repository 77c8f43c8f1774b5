package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/pithecene-io/chatlink/iox"
	"github.com/pithecene-io/chatlink/transport"
	"github.com/pithecene-io/chatlink/types"
)

type command interface{ isCommand() }

type subscribeCmd struct {
	sub   *Subscription
	reply chan error
}

type cancelCmd struct {
	id string
}

func (subscribeCmd) isCommand() {}
func (cancelCmd) isCommand()    {}

// connEvent is produced by the dial and read goroutines of connection gen.
// Exactly one of conn, frame or err is meaningful.
type connEvent struct {
	gen   uint64
	conn  *websocket.Conn
	frame *types.Frame
	err   error
}

// machine is the loop-owned state. Only run and its callees touch it.
type machine struct {
	t *Transport

	state State
	subs  map[string]*Subscription
	order []string

	gen        uint64
	conn       *websocket.Conn
	dialCancel context.CancelFunc
	bo         *backoff.ExponentialBackOff

	handshake *time.Timer
	keepalive *time.Timer
	retry     *time.Timer
}

func newMachine(t *Transport) *machine {
	return &machine{
		t:    t,
		subs: make(map[string]*Subscription),
		bo:   t.config.Reconnect.backoff(),
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *machine) run() {
	defer close(m.t.done)
	for {
		select {
		case <-m.t.quit:
			m.shutdown()
			return
		case cmd := <-m.t.cmds:
			switch c := cmd.(type) {
			case subscribeCmd:
				m.register(c.sub)
				c.reply <- nil
			case cancelCmd:
				m.deregister(c.id)
			}
		case ev := <-m.t.events:
			m.handleConnEvent(ev)
		case <-timerC(m.handshake):
			m.handshake = nil
			m.t.metrics.IncConnectTimeout()
			m.lost(transport.Wrap("handshake", errors.New("connection_ack not received in time")))
		case <-timerC(m.keepalive):
			m.keepalive = nil
			m.lost(transport.Wrap("keepalive", errors.New("no frame received in time")))
		case <-timerC(m.retry):
			m.retry = nil
			if m.state == StateReconnecting {
				m.dial()
			}
		}
	}
}

func (m *machine) setState(s State) {
	if s == m.state {
		return
	}
	from := m.state
	m.state = s
	m.t.state.Store(int32(s))
	m.t.logger.Debug("state change", map[string]any{
		"from": from.String(),
		"to":   s.String(),
	})
	if m.t.config.OnStateChange != nil {
		m.t.config.OnStateChange(s)
	}
}

func (m *machine) register(sub *Subscription) {
	m.subs[sub.id] = sub
	m.order = append(m.order, sub.id)
	m.t.metrics.IncSubscriptionStarted()

	switch m.state {
	case StateClosed:
		m.bo.Reset()
		m.setState(StateConnecting)
		m.dial()
	case StateOpen:
		if err := m.sendStart(sub); err != nil {
			m.lost(err)
		}
	}
}

func (m *machine) deregister(id string) {
	if !m.forget(id) {
		return
	}
	if m.state == StateOpen {
		if err := m.write(types.Frame{ID: id, Type: types.FrameStop}); err != nil {
			m.lost(err)
			return
		}
	}
	if len(m.subs) == 0 {
		m.terminate()
	}
}

// forget drops a registration. Returns false if id was unknown.
func (m *machine) forget(id string) bool {
	if _, ok := m.subs[id]; !ok {
		return false
	}
	delete(m.subs, id)
	m.order = slices.DeleteFunc(m.order, func(s string) bool { return s == id })
	m.t.metrics.IncSubscriptionStopped()
	return true
}

// dial starts a connection attempt for a new generation.
func (m *machine) dial() {
	m.teardown()
	m.gen++
	gen := m.gen

	ctx, cancel := context.WithTimeout(context.Background(), m.t.config.ConnectTimeout)
	m.dialCancel = cancel
	m.handshake = time.NewTimer(m.t.config.ConnectTimeout)
	m.t.metrics.IncConnectAttempt()

	go func() {
		conn, resp, err := m.t.dialer.DialContext(ctx, m.t.config.URL, m.t.config.Header)
		if resp != nil && resp.Body != nil {
			iox.DiscardClose(resp.Body)
		}
		if !m.t.emit(connEvent{gen: gen, conn: conn, err: err}) && conn != nil {
			iox.DiscardClose(conn)
		}
	}()
}

func (m *machine) read(gen uint64, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.t.emit(connEvent{gen: gen, err: err})
			return
		}
		var f types.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			m.t.logger.Warn("dropping malformed frame", map[string]any{"error": err.Error()})
			continue
		}
		if !m.t.emit(connEvent{gen: gen, frame: &f}) {
			return
		}
	}
}

func (m *machine) handleConnEvent(ev connEvent) {
	if ev.gen != m.gen {
		if ev.conn != nil {
			iox.DiscardClose(ev.conn)
		}
		return
	}
	switch {
	case ev.conn != nil:
		m.connected(ev.conn)
	case ev.frame != nil:
		m.handleFrame(ev.frame)
	case ev.err != nil:
		op := "read"
		if m.conn == nil {
			op = "dial"
		}
		m.lost(transport.Wrap(op, ev.err))
	}
}

func (m *machine) connected(conn *websocket.Conn) {
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.conn = conn
	go m.read(m.gen, conn)

	params := map[string]any{}
	if m.t.config.ConnectionParams != nil {
		if p := m.t.config.ConnectionParams(); p != nil {
			params = p
		}
	}
	payload, err := json.Marshal(params)
	if err != nil {
		m.lost(transport.Wrap("connection_init", err))
		return
	}
	if err := m.write(types.Frame{Type: types.FrameConnectionInit, Payload: payload}); err != nil {
		m.lost(err)
	}
}

func (m *machine) handleFrame(f *types.Frame) {
	m.armKeepAlive()

	switch f.Type {
	case types.FrameConnectionAck:
		m.acknowledged()
	case types.FrameConnectionError:
		m.lost(transport.Wrap("connection_error", errors.New(errorMessages(f.Payload)[0].Message)))
	case types.FrameKeepAlive:
	case types.FrameData:
		sub, ok := m.subs[f.ID]
		if !ok {
			m.drop(f)
			return
		}
		var env types.Envelope
		if err := json.Unmarshal(f.Payload, &env); err != nil {
			m.t.logger.Warn("dropping undecodable payload", map[string]any{
				"subscription_id": f.ID,
				"error":           err.Error(),
			})
			m.t.metrics.IncPushDropped()
			return
		}
		if sub.push(&env) {
			m.t.metrics.IncPushDelivered()
		} else {
			m.t.metrics.IncPushDropped()
		}
	case types.FrameError, types.FrameComplete:
		sub, ok := m.subs[f.ID]
		if !ok {
			m.drop(f)
			return
		}
		var err error
		if f.Type == types.FrameError {
			err = &types.ApplicationError{Errors: errorMessages(f.Payload)}
		}
		sub.end(err)
		m.forget(f.ID)
		if len(m.subs) == 0 {
			m.terminate()
		}
	default:
		m.t.logger.Debug("ignoring frame", map[string]any{"type": string(f.Type)})
	}
}

func (m *machine) drop(f *types.Frame) {
	m.t.metrics.IncPushDropped()
	m.t.logger.Debug("dropping frame for unknown subscription", map[string]any{
		"subscription_id": f.ID,
		"type":            string(f.Type),
	})
}

func (m *machine) acknowledged() {
	if m.state == StateOpen {
		return
	}
	stopTimer(&m.handshake)
	reconnected := m.state == StateReconnecting
	m.bo.Reset()
	m.setState(StateOpen)
	m.t.metrics.IncConnect()
	if reconnected {
		m.t.metrics.IncReconnect()
	}
	m.t.logger.Info("stream connected", map[string]any{
		"subscriptions": len(m.order),
		"reconnect":     reconnected,
	})

	for _, id := range m.order {
		if err := m.sendStart(m.subs[id]); err != nil {
			m.lost(err)
			return
		}
	}
}

func (m *machine) armKeepAlive() {
	if m.t.config.KeepAliveTimeout <= 0 {
		return
	}
	stopTimer(&m.keepalive)
	m.keepalive = time.NewTimer(m.t.config.KeepAliveTimeout)
}

// lost handles any connection failure. Registrations are kept and a
// reconnect is scheduled per the backoff policy.
func (m *machine) lost(err error) {
	if m.state == StateClosed {
		return
	}
	m.teardown()
	if len(m.subs) == 0 {
		m.setState(StateClosed)
		return
	}

	m.setState(StateReconnecting)
	next := m.bo.NextBackOff()
	if next == backoff.Stop {
		m.t.logger.Error("reconnect attempts exhausted", map[string]any{"error": err.Error()})
		m.endAll(ErrReconnectExhausted)
		m.setState(StateClosed)
		return
	}
	m.t.logger.Warn("stream connection lost", map[string]any{
		"error":    err.Error(),
		"retry_ms": next.Milliseconds(),
	})
	m.retry = time.NewTimer(next)
}

// terminate gracefully closes the connection after the last subscription.
func (m *machine) terminate() {
	if m.conn != nil {
		_ = m.write(types.Frame{Type: types.FrameConnectionTerminate})
	}
	m.teardown()
	m.setState(StateClosed)
}

func (m *machine) shutdown() {
	m.terminate()
	m.endAll(ErrClosed)
}

func (m *machine) endAll(err error) {
	for _, id := range m.order {
		m.subs[id].end(err)
		m.t.metrics.IncSubscriptionStopped()
	}
	clear(m.subs)
	m.order = nil
}

// teardown releases the current connection and timers and invalidates
// events from the current generation.
func (m *machine) teardown() {
	m.gen++
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	stopTimer(&m.handshake)
	stopTimer(&m.keepalive)
	stopTimer(&m.retry)
	if m.conn != nil {
		iox.DiscardClose(m.conn)
		m.conn = nil
	}
}

func (m *machine) sendStart(sub *Subscription) error {
	payload, err := json.Marshal(sub.op.StartPayload())
	if err != nil {
		return transport.Wrap("start", err)
	}
	return m.write(types.Frame{ID: sub.id, Type: types.FrameStart, Payload: payload})
}

func (m *machine) write(f types.Frame) error {
	if m.conn == nil {
		return nil
	}
	if err := m.conn.SetWriteDeadline(time.Now().Add(m.t.config.WriteTimeout)); err != nil {
		return transport.Wrap("write", err)
	}
	if err := m.conn.WriteJSON(f); err != nil {
		return transport.Wrap("write", fmt.Errorf("%s frame: %w", f.Type, err))
	}
	return nil
}

// errorMessages extracts GraphQL errors from an error or connection_error
// payload, which servers send as a list or a single object.
func errorMessages(payload json.RawMessage) []types.GraphQLError {
	var list []types.GraphQLError
	if err := json.Unmarshal(payload, &list); err == nil && len(list) > 0 {
		return list
	}
	var one types.GraphQLError
	if err := json.Unmarshal(payload, &one); err == nil && one.Message != "" {
		return []types.GraphQLError{one}
	}
	return []types.GraphQLError{{Message: "unspecified server error"}}
}
