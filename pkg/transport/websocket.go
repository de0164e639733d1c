package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

// WebSocketChannel carries every chunk of a session over one connection to
// /ws/analyze. The connection is dialled on first send, reused, and dialled
// again on the next send after the server drops it.
type WebSocketChannel struct {
	url    string
	opts   Options
	log    logrus.FieldLogger
	dialer *websocket.Dialer

	results    chan models.AnalysisResult
	deliveries *deliveryLog
	done       chan struct{}
	wg         sync.WaitGroup

	// mu guards conn and serializes writes.
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	closeOnce   sync.Once
	dials       atomic.Int64
	recordingID atomic.Int64
}

func NewWebSocketChannel(opts Options) (*WebSocketChannel, error) {
	opts.setDefaults()
	wsURL, err := endpointURL(opts.ServerURL, "/ws/analyze", true)
	if err != nil {
		return nil, err
	}

	return &WebSocketChannel{
		url:        wsURL,
		opts:       opts,
		log:        opts.Log.WithField("transport", "ws"),
		dialer:     &websocket.Dialer{HandshakeTimeout: opts.WriteTimeout},
		results:    make(chan models.AnalysisResult, 64),
		deliveries: newDeliveryLog(),
		done:       make(chan struct{}),
	}, nil
}

func (c *WebSocketChannel) Results() <-chan models.AnalysisResult {
	return c.results
}

// RecordingID is the server row announced for this connection, or zero.
func (c *WebSocketChannel) RecordingID() int64 {
	return c.recordingID.Load()
}

func (c *WebSocketChannel) Send(ctx context.Context, chunk *models.Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: nil chunk", ErrTransport)
	}
	msg := EncodeChunk(chunk)

	log := c.log.WithFields(logrus.Fields{"chunk_id": chunk.ID, "media_type": chunk.Kind})
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("retry_in", wait).Warn("Chunk send failed, retrying")
	}

	err := deliver(ctx, c.deliveries, chunk.ID, c.opts.InitialBackoff, c.opts.MaxRetries, notify, func() error {
		return c.write(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("%w: send chunk %s: %v", ErrTransport, chunk.ID, err)
	}

	log.WithField("size", chunk.Size()).Debug("Chunk sent")
	return nil
}

func (c *WebSocketChannel) write(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return permanent(ErrClosed)
	}

	conn, err := c.connectLocked(ctx)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)

	if err := conn.WriteJSON(msg); err != nil {
		c.dropLocked(conn)
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

func (c *WebSocketChannel) connectLocked(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}
	c.conn = conn
	c.dials.Add(1)

	c.wg.Add(1)
	go c.readLoop(conn)

	c.log.WithField("url", c.url).Info("Connected to analysis server")
	return conn, nil
}

// dropLocked forgets conn so the next send dials again.
func (c *WebSocketChannel) dropLocked(conn *websocket.Conn) {
	if c.conn == conn {
		c.conn = nil
	}
	_ = conn.Close()
}

func (c *WebSocketChannel) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *WebSocketChannel) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.dropLocked(conn)
			c.mu.Unlock()

			select {
			case <-c.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.log.WithError(err).Warn("Connection to analysis server lost")
				}
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.log.WithError(err).Debug("Ignoring malformed server message")
			continue
		}

		switch msg.Type {
		case MessageAnalysis:
			c.emit(msg.Result())
		case MessageError:
			if msg.ChunkID == "" {
				c.log.WithField("error", msg.Error).Warn("Server reported an error")
				continue
			}
			c.emit(msg.Result())
		case MessageSession:
			c.recordingID.Store(msg.RecordingID)
			c.log.WithField("recording_id", msg.RecordingID).Debug("Server session opened")
		case MessageAck:
			c.log.WithField("chunk_id", msg.ChunkID).Debug("Chunk acknowledged")
		case MessagePing:
			c.mu.Lock()
			if c.conn == conn {
				_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
				_ = conn.WriteJSON(Message{Type: MessagePong})
			}
			c.mu.Unlock()
		}
	}
}

// emit forwards a result exactly once, in arrival order.
func (c *WebSocketChannel) emit(result models.AnalysisResult) {
	select {
	case c.results <- result:
	case <-c.done:
	}
}

// Close ends the connection and closes Results once the reader has exited.
func (c *WebSocketChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.conn = nil
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}
		c.mu.Unlock()

		c.wg.Wait()
		close(c.results)
	})
	return nil
}
