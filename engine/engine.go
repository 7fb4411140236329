package engine

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrEngineOffline is returned by Send after the engine has been closed.
var ErrEngineOffline = errors.New("engine offline")

// Engine is the cloneable front door to the connection actor. All methods
// are safe for concurrent use; the actor processes commands strictly FIFO.
type Engine struct {
	commands chan Command
	quit     chan struct{}
	quitOnce *sync.Once
	sink     *eventSink
}

// New starts the engine actor. commandBuffer sizes the command queue,
// eventBuffer the bounded event queue.
func New(commandBuffer, eventBuffer int) *Engine {
	e := &Engine{
		commands: make(chan Command, commandBuffer),
		quit:     make(chan struct{}),
		quitOnce: &sync.Once{},
		sink:     newEventSink(eventBuffer),
	}
	go e.run()
	return e
}

// Events returns the event queue. Exactly one consumer should read it.
func (e *Engine) Events() <-chan Event {
	return e.sink.ch
}

// Send enqueues a command for the actor. It fails only once the engine has
// been closed.
func (e *Engine) Send(cmd Command) error {
	select {
	case <-e.quit:
		return ErrEngineOffline
	default:
	}
	select {
	case e.commands <- cmd:
		return nil
	case <-e.quit:
		return ErrEngineOffline
	}
}

// Close terminates the actor. Any active connection is torn down and the
// event queue stops receiving events.
func (e *Engine) Close() {
	e.quitOnce.Do(func() { close(e.quit) })
}

// run is the actor: the sole owner of the connection slot. It never exits
// on a command failure, only when the engine is closed.
func (e *Engine) run() {
	var conn *activeConnection
	for {
		select {
		case <-e.quit:
			if conn != nil {
				conn.shutdown()
			}
			e.sink.close()
			logrus.WithField("function", "Engine.run").Debug("engine actor stopped")
			return
		case cmd := <-e.commands:
			conn = e.handle(conn, cmd)
		}
	}
}

func (e *Engine) handle(conn *activeConnection, cmd Command) *activeConnection {
	switch cmd := cmd.(type) {
	case Connect:
		if conn != nil {
			e.sink.publish(ErrorEvent{Detail: "already connected"})
			return conn
		}
		next, err := connect(cmd.Profile, e.sink)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.handle",
				"error":    err.Error(),
			}).Error("connect failed")
			e.sink.publish(ErrorEvent{Detail: err.Error()})
			return nil
		}
		return next
	case Disconnect:
		if conn != nil {
			conn.shutdown()
			e.sink.publish(Disconnected{Reason: "disconnected"})
		}
		return nil
	case Join:
		e.withConnection(conn, func(c *activeConnection) error {
			return c.sendJoin(cmd.ChannelID, cmd.Members, cmd.Relay)
		})
		return conn
	case SendMessage:
		e.withConnection(conn, func(c *activeConnection) error {
			return c.sendMessage(cmd.ChannelID, cmd.Body)
		})
		return conn
	case Leave:
		e.withConnection(conn, func(c *activeConnection) error {
			return c.sendLeave(cmd.ChannelID)
		})
		return conn
	case Presence:
		e.withConnection(conn, func(c *activeConnection) error {
			return c.sendPresence(cmd.State)
		})
		return conn
	default:
		e.sink.publish(ErrorEvent{Detail: "unknown command"})
		return conn
	}
}

// withConnection runs a send against the active connection, reporting usage
// and transmit failures as error events.
func (e *Engine) withConnection(conn *activeConnection, send func(*activeConnection) error) {
	if conn == nil {
		e.sink.publish(ErrorEvent{Detail: "no active connection"})
		return
	}
	if err := send(conn); err != nil {
		e.sink.publish(ErrorEvent{Detail: err.Error()})
	}
}
