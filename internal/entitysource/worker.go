package entitysource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/raaihank/llm-anonymizer/internal/logger"
)

const (
	// DefaultDetectTimeout bounds every detect request.
	DefaultDetectTimeout = 10 * time.Second
	// Time allowed to write a message to the worker
	writeWait = 10 * time.Second
	// Maximum message size accepted from the worker
	maxMessageSize = 8 << 20
)

// Worker protocol message types.
const (
	msgInit         = "init"
	msgProgress     = "progress"
	msgInitDone     = "init-done"
	msgInitError    = "init-error"
	msgDetect       = "detect"
	msgDetectResult = "detect-result"
	msgDetectError  = "detect-error"
)

type workerMessage struct {
	Type     string            `json:"type"`
	ID       string            `json:"id,omitempty"`
	Text     string            `json:"text,omitempty"`
	Message  string            `json:"message,omitempty"`
	Progress float64           `json:"progress,omitempty"`
	Error    string            `json:"error,omitempty"`
	Entities []json.RawMessage `json:"entities,omitempty"`
}

type detectResponse struct {
	entities []RawEntity
	err      error
}

// WorkerConfig configures a WorkerClient.
type WorkerConfig struct {
	URL           string
	DetectTimeout time.Duration
	Dialer        *websocket.Dialer
}

// WorkerClient talks to a remote NER worker over a websocket connection.
type WorkerClient struct {
	config WorkerConfig
	logger *logger.Logger

	initMu sync.Mutex
	ready  atomic.Bool

	mu         sync.Mutex
	conn       *websocket.Conn
	pending    map[string]chan detectResponse
	initResult chan error
	onProgress ProgressFunc
	done       chan struct{}
	closed     bool

	writeMu sync.Mutex
}

// NewWorkerClient creates a client; no connection is made until Initialize.
func NewWorkerClient(config WorkerConfig, log *logger.Logger) *WorkerClient {
	if config.DetectTimeout <= 0 {
		config.DetectTimeout = DefaultDetectTimeout
	}
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &WorkerClient{
		config:  config,
		logger:  log.WithComponent("entity-worker"),
		pending: make(map[string]chan detectResponse),
	}
}

// Initialize connects to the worker, requests model setup and waits for
// init-done or init-error. Calling it on a ready client is a no-op.
func (c *WorkerClient) Initialize(ctx context.Context, onProgress ProgressFunc) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.ready.Load() {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	conn, _, err := c.config.Dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to entity worker: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	result := make(chan error, 1)
	c.mu.Lock()
	c.conn = conn
	c.initResult = result
	c.onProgress = onProgress
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.readLoop(conn, done)

	c.logger.Info("Requesting entity worker initialization", zap.String("url", c.config.URL))
	if err := c.write(workerMessage{Type: msgInit}); err != nil {
		c.disconnect()
		return fmt.Errorf("failed to send init request: %w", err)
	}

	select {
	case err := <-result:
		if err != nil {
			c.disconnect()
			return err
		}
		c.logger.Info("Entity worker ready")
		return nil
	case <-ctx.Done():
		c.disconnect()
		return fmt.Errorf("entity worker initialization: %w", ctx.Err())
	}
}

// Ready reports whether the worker finished initialization.
func (c *WorkerClient) Ready() bool {
	return c.ready.Load()
}

// DetectEntities sends text to the worker and waits for its entities. It
// returns nothing when the worker is not ready, and ErrDetectTimeout with an
// empty result when the worker does not answer within the detect timeout.
func (c *WorkerClient) DetectEntities(ctx context.Context, text string) ([]RawEntity, error) {
	if !c.ready.Load() {
		return nil, nil
	}

	id := uuid.NewString()
	ch := make(chan detectResponse, 1)

	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(workerMessage{Type: msgDetect, ID: id, Text: text}); err != nil {
		return nil, fmt.Errorf("failed to send detect request: %w", err)
	}

	timer := time.NewTimer(c.config.DetectTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp.entities, resp.err
	case <-timer.C:
		c.logger.Warn("Entity worker detect timed out",
			zap.String("request_id", id),
			zap.Duration("timeout", c.config.DetectTimeout),
		)
		return nil, ErrDetectTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close disconnects from the worker and fails all pending requests.
func (c *WorkerClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.disconnect()
	return nil
}

func (c *WorkerClient) disconnect() {
	c.ready.Store(false)

	c.mu.Lock()
	conn, done := c.conn, c.done
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()

	_ = conn.Close()
	if done != nil {
		<-done
	}
}

func (c *WorkerClient) write(msg workerMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// readLoop dispatches worker messages until the connection fails.
func (c *WorkerClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		var msg workerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.logger.Warn("Dropping malformed worker message", zap.Error(err))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("Entity worker connection lost", zap.Error(err))
			}
			c.failAll(fmt.Errorf("entity worker connection lost: %w", err))
			return
		}

		switch msg.Type {
		case msgProgress:
			c.mu.Lock()
			onProgress := c.onProgress
			c.mu.Unlock()
			if onProgress != nil {
				onProgress(Progress{Message: msg.Message, Percent: msg.Progress})
			}

		case msgInitDone:
			c.ready.Store(true)
			c.finishInit(nil)

		case msgInitError:
			c.finishInit(fmt.Errorf("%w: %s", ErrInitFailed, msg.Error))

		case msgDetectResult:
			c.deliver(msg.ID, detectResponse{entities: decodeEntities(msg.Entities, c.logger)})

		case msgDetectError:
			c.deliver(msg.ID, detectResponse{err: fmt.Errorf("entity worker detect failed: %s", msg.Error)})

		default:
			c.logger.Debug("Ignoring unknown worker message", zap.String("type", msg.Type))
		}
	}
}

func (c *WorkerClient) finishInit(err error) {
	c.mu.Lock()
	result := c.initResult
	c.initResult = nil
	c.mu.Unlock()

	if result != nil {
		result <- err
	}
}

func (c *WorkerClient) deliver(id string, resp detectResponse) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("Dropping response for unknown request", zap.String("request_id", id))
		return
	}
	ch <- resp
}

func (c *WorkerClient) failAll(err error) {
	c.ready.Store(false)
	c.finishInit(err)

	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan detectResponse)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- detectResponse{err: err}
	}
}

// decodeEntities decodes each entity independently so one malformed entity
// does not discard the rest.
func decodeEntities(raw []json.RawMessage, log *logger.Logger) []RawEntity {
	entities := make([]RawEntity, 0, len(raw))
	dropped := 0
	for _, r := range raw {
		var ent RawEntity
		if err := json.Unmarshal(r, &ent); err != nil {
			dropped++
			continue
		}
		entities = append(entities, ent)
	}
	if dropped > 0 {
		log.Warn("Dropped malformed entities from worker", zap.Int("dropped", dropped))
	}
	return entities
}
