package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/log"
	"github.com/stardustapp/skychat-sub000/projection"
)

var ErrConnectionLost = errors.New("skylink: transport connection lost")

const streamBufferSize = 256

// Client speaks to a Server over one websocket connection. Its methods
// mirror Namespace; subscriptions are rebuilt locally from the relayed
// notifications.
type Client struct {
	url      string
	ws       *websocket.Conn
	settings *Settings
	logger   *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	send   chan []byte

	mu      sync.Mutex
	pending map[string]*call
	streams map[string]*clientStream
	err     error

	loops sync.WaitGroup
}

type call struct {
	reply chan *Message
	// stream is registered under the returned subscription id before any
	// frame of it is read.
	stream *clientStream
}

type clientStream struct {
	frames chan *Message
	ready  chan struct{}
	sub    *entry.Subscription

	mu    sync.Mutex
	ended bool
}

func Dial(ctx context.Context, url string, logger *log.Logger, settings *Settings) (*Client, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if settings == nil {
		settings = DefaultSettings()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: settings.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial '%s': %w", url, err)
	}

	clientCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:      url,
		ws:       ws,
		settings: settings,
		logger:   logger,
		ctx:      clientCtx,
		cancel:   cancel,
		send:     make(chan []byte, sendBufferSize),
		pending:  make(map[string]*call),
		streams:  make(map[string]*clientStream),
	}

	keepAlive(ws, settings)
	c.loops.Add(2)
	go func() {
		defer c.loops.Done()
		defer c.cancel()
		writePump(c.ctx, ws, c.send, settings, logger)
		ws.SetReadDeadline(time.Now().Add(settings.WriteTimeout))
	}()
	go func() {
		defer c.loops.Done()
		c.readLoop()
	}()

	logger.Debug("connected to %s", url)
	return c, nil
}

// Close ends the connection. Pending calls fail and live subscriptions
// crash with ErrConnectionLost.
func (c *Client) Close() error {
	c.cancel()
	c.loops.Wait()
	return c.ws.Close()
}

// Err reports why the connection ended, nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	defer c.fail(ErrConnectionLost)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read error = %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg := &Message{}
		if err := json.Unmarshal(message, msg); err != nil {
			c.logger.Warn("dropping malformed message: %v", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.ID != "" {
		pc, ok := c.pending[msg.ID]
		if !ok {
			return
		}
		delete(c.pending, msg.ID)
		if pc.stream != nil && msg.OK && msg.Sub != "" {
			c.streams[msg.Sub] = pc.stream
		}
		pc.reply <- msg
		return
	}

	st, ok := c.streams[msg.Sub]
	if !ok {
		return
	}
	if msg.Terminal() {
		delete(c.streams, msg.Sub)
	}
	select {
	case st.frames <- msg:
	default:
		delete(c.streams, msg.Sub)
		st.end()
		go st.crash(data.ErrSlowConsumer)
	}
}

func (c *Client) fail(err error) {
	c.cancel()

	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	pending := c.pending
	streams := c.streams
	c.pending = make(map[string]*call)
	c.streams = make(map[string]*clientStream)
	c.mu.Unlock()

	for _, pc := range pending {
		pc.reply <- &Message{}
	}
	for _, st := range streams {
		st.end()
		go st.crash(err)
	}
}

func (c *Client) call(ctx context.Context, req *Request, stream *clientStream) (*Message, error) {
	if c.settings.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.settings.RequestTimeout)
		defer cancel()
	}

	req.ID = uuid.Must(uuid.NewV7()).String()
	message, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	pc := &call{reply: make(chan *Message, 1), stream: stream}
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[req.ID] = pc
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}

	select {
	case c.send <- message:
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-c.ctx.Done():
		forget()
		return nil, ErrConnectionLost
	}

	select {
	case resp := <-pc.reply:
		if resp.ID == "" {
			return nil, c.Err()
		}
		if err := resp.Err(); err != nil {
			return nil, err
		}
		return resp, nil
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

func (c *Client) Get(ctx context.Context, path string) (*data.Entry, error) {
	resp, err := c.call(ctx, &Request{Op: OpGet, Path: path}, nil)
	if err != nil {
		return nil, err
	}
	return resp.Entry, nil
}

func (c *Client) Put(ctx context.Context, path string, value *data.Entry) error {
	_, err := c.call(ctx, &Request{Op: OpPut, Path: path, Input: value}, nil)
	return err
}

func (c *Client) Enumerate(ctx context.Context, path string, depth int) ([]*data.Entry, error) {
	resp, err := c.call(ctx, &Request{Op: OpEnumerate, Path: path, Depth: depth}, nil)
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Client) Invoke(ctx context.Context, path string, input *data.Entry) (*data.Entry, error) {
	resp, err := c.call(ctx, &Request{Op: OpInvoke, Path: path, Input: input}, nil)
	if err != nil {
		return nil, err
	}
	return resp.Entry, nil
}

func (c *Client) Capabilities(ctx context.Context, path string) ([]entry.Capability, error) {
	resp, err := c.call(ctx, &Request{Op: OpCapabilities, Path: path}, nil)
	if err != nil {
		return nil, err
	}
	return resp.Capabilities, nil
}

// Subscribe opens a remote subscription and replays its notifications into
// ch through a local projection, so duplicates collapse and ch sees the
// usual contract.
func (c *Client) Subscribe(ctx context.Context, path string, depth int, ch projection.Channel) (*entry.Subscription, error) {
	st := &clientStream{
		frames: make(chan *Message, streamBufferSize),
		ready:  make(chan struct{}),
	}
	resp, err := c.call(ctx, &Request{Op: OpSubscribe, Path: path, Depth: depth}, st)
	if err != nil {
		return nil, err
	}
	id := resp.Sub

	state := projection.NewState(ch, projection.WithLogger(c.logger))
	st.sub = entry.NewSubscription(ctx, ch, state, func() {
		c.mu.Lock()
		delete(c.streams, id)
		c.mu.Unlock()
		if st.end() {
			go c.unsubscribe(id)
		}
	})
	close(st.ready)

	go st.run()
	return st.sub, nil
}

func (c *Client) unsubscribe(id string) {
	ctx, cancel := context.WithTimeout(c.ctx, c.settings.WriteTimeout)
	defer cancel()
	if _, err := c.call(ctx, &Request{Op: OpUnsubscribe, Sub: id}, nil); err != nil {
		c.logger.Debug("unsubscribe %s: %v", id, err)
	}
}

// end marks the remote side as finished and reports whether it was still
// live.
func (st *clientStream) end() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	live := !st.ended
	st.ended = true
	return live
}

func (st *clientStream) crash(err error) {
	<-st.ready
	st.sub.Crash(err)
}

func (st *clientStream) run() {
	sub := st.sub
	state := sub.State()

	for {
		select {
		case <-sub.Done():
			return
		case msg := <-st.frames:
			switch {
			case msg.Error != "" || msg.Code != "":
				st.end()
				sub.Crash(msg.Err())
				return
			case msg.Done:
				st.end()
				sub.Stop()
				return
			case msg.Notification != nil:
				n := msg.Notification
				sub.Guard(func() {
					switch n.Type {
					case data.NotifyAdded, data.NotifyChanged:
						state.OfferPath(n.Path, n.Entry)
					case data.NotifyRemoved:
						state.RemovePath(n.Path)
					case data.NotifyReady:
						state.MarkReady()
					}
				})
			}
		}
	}
}
