package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/log"
	"github.com/stardustapp/skychat-sub000/projection"
)

const sendBufferSize = 64

type conn struct {
	server *Server
	ws     *websocket.Conn
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	send   chan []byte

	mu   sync.Mutex
	subs map[string]*stream

	handlers sync.WaitGroup
}

// stream pumps one subscription's queue into the connection.
type stream struct {
	sub   *entry.Subscription
	queue *projection.Queue
}

func newConn(s *Server, ws *websocket.Conn, remote string) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		server: s,
		ws:     ws,
		logger: s.logger.Named(remote),
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, sendBufferSize),
		subs:   make(map[string]*stream),
	}
}

func (c *conn) close() {
	c.cancel()
}

func (c *conn) serve() {
	defer c.ws.Close()
	defer c.cancel()

	c.logger.Debug("connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer c.cancel()
		writePump(c.ctx, c.ws, c.send, c.server.settings, c.logger)
		// Wait for the close echo only briefly.
		c.ws.SetReadDeadline(time.Now().Add(c.server.settings.WriteTimeout))
	}()

	c.readLoop()
	c.cancel()

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*stream)
	c.mu.Unlock()
	for _, st := range subs {
		st.sub.Stop()
	}

	c.handlers.Wait()
	<-writerDone
	c.logger.Debug("disconnected with %d live subscriptions", len(subs))
}

func (c *conn) readLoop() {
	settings := c.server.settings

	keepAlive(c.ws, settings)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read error = %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Debug("ignoring message type %d", messageType)
			continue
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			c.reply(failure("", fmt.Errorf("%w: malformed request: %v", data.ErrInvalid, err)))
			continue
		}
		if req.ID == "" {
			c.reply(failure("", fmt.Errorf("%w: request without id", data.ErrInvalid)))
			continue
		}

		c.handlers.Add(1)
		go func() {
			defer c.handlers.Done()
			c.handle(&req)
		}()
	}
}

// handle answers one request. A protocol bug raised while serving it fails
// only this request.
func (c *conn) handle(req *Request) {
	defer func() {
		if r := recover(); r != nil {
			bug, ok := data.AsProtocolBug(r)
			if !ok {
				panic(r)
			}
			c.logger.Error("protocol bug serving %s '%s': %v", req.Op, req.Path, bug)
			c.reply(failure(req.ID, bug))
		}
	}()

	ns := c.server.ns
	resp := &Message{ID: req.ID, OK: true}
	var err error

	switch req.Op {
	case OpGet:
		resp.Entry, err = ns.Get(c.ctx, req.Path)
	case OpPut:
		err = ns.Put(c.ctx, req.Path, req.Input)
	case OpEnumerate:
		resp.Entries, err = ns.Enumerate(c.ctx, req.Path, req.Depth)
		if err == nil && resp.Entries == nil {
			resp.Entries = []*data.Entry{}
		}
	case OpInvoke:
		resp.Entry, err = ns.Invoke(c.ctx, req.Path, req.Input)
	case OpCapabilities:
		resp.Capabilities, err = ns.Capabilities(c.ctx, req.Path)
	case OpSubscribe:
		c.subscribe(req)
		return
	case OpUnsubscribe:
		err = c.unsubscribe(req.Sub)
	default:
		err = fmt.Errorf("%w: unknown op %q", data.ErrInvalid, req.Op)
	}

	if err != nil {
		c.reply(failure(req.ID, err))
		return
	}
	c.reply(resp)
}

func (c *conn) subscribe(req *Request) {
	settings := c.server.settings
	queue := projection.NewQueue(settings.QueueSize, settings.BroadcastTimeout)

	sub, err := c.server.ns.Subscribe(c.ctx, req.Path, req.Depth, queue)
	if err != nil {
		c.reply(failure(req.ID, err))
		return
	}

	c.mu.Lock()
	c.subs[sub.ID()] = &stream{sub: sub, queue: queue}
	c.mu.Unlock()

	// The response is queued before the first frame.
	c.reply(&Message{ID: req.ID, OK: true, Sub: sub.ID()})

	c.handlers.Add(1)
	go func() {
		defer c.handlers.Done()
		c.pump(sub.ID(), queue)
	}()
}

func (c *conn) pump(id string, queue *projection.Queue) {
	defer func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}()

	for ev := range queue.Events() {
		switch {
		case ev.Notification != nil:
			c.reply(&Message{Sub: id, Notification: ev.Notification})
		case ev.Err != nil:
			c.reply(&Message{Sub: id, Error: ev.Err.Error(), Code: ErrorCode(ev.Err)})
			return
		case ev.Done:
			c.reply(&Message{Sub: id, Done: true})
			return
		}
	}
}

func (c *conn) unsubscribe(id string) error {
	c.mu.Lock()
	st, ok := c.subs[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no subscription %q", data.ErrInvalid, id)
	}

	st.sub.Stop()
	st.queue.Stop()
	return nil
}

// reply queues msg for the writer. It is dropped once the connection is
// shutting down.
func (c *conn) reply(msg *Message) {
	message, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to encode message: %v", err)
		if msg.ID == "" {
			return
		}
		message, _ = json.Marshal(failure(msg.ID, err))
	}

	select {
	case c.send <- message:
	case <-c.ctx.Done():
	}
}
