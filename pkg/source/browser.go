package source

import (
	"bytes"
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-wayfinder/pkg/protocol"
)

const (
	clientSendBuffer = 16
	clientWriteWait  = 5 * time.Second
)

// browserClient is one connected phone or laptop camera page. Outbound
// messages go through out and are written by writePump.
type browserClient struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time

	out  chan []byte
	done chan struct{}
}

func newBrowserClient(conn *websocket.Conn) *browserClient {
	return &browserClient{
		ID:        uuid.NewString(),
		Conn:      conn,
		Connected: time.Now(),
		out:       make(chan []byte, clientSendBuffer),
		done:      make(chan struct{}),
	}
}

// enqueue queues data for the client. It never blocks; false means the
// client is gone or too slow and the message was dropped.
func (b *browserClient) enqueue(data []byte) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.out <- data:
		return true
	default:
		return false
	}
}

func (b *browserClient) send(msg *protocol.Message) bool {
	data, err := msg.Bytes()
	if err != nil {
		return false
	}
	return b.enqueue(data)
}

// writePump writes queued messages until done is closed or a write fails.
// A failed write closes the connection so the read loop ends too.
func (b *browserClient) writePump() {
	for {
		select {
		case <-b.done:
			return
		case data := <-b.out:
			_ = b.Conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if err := b.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = b.Conn.Close()
				return
			}
		}
	}
}

// Browser receives frames pushed by browser clients over a WebSocket. Only
// the newest frame is kept; frames arriving while the pipeline is busy
// replace the pending one.
type Browser struct {
	box    *mailbox
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*browserClient

	messagesReceived atomic.Uint64
	framesReceived   atomic.Uint64
	framesReplaced   atomic.Uint64
	badPayloads      atomic.Uint64
	pushesDropped    atomic.Uint64
}

// NewBrowser creates a browser ingest source. Mount it with RegisterRoutes.
func NewBrowser(logger *slog.Logger) *Browser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Browser{
		box:     newMailbox(),
		logger:  logger.With("component", "source.browser"),
		clients: make(map[string]*browserClient),
	}
}

// RegisterRoutes registers the ingest endpoint at /ws/camera.
func (b *Browser) RegisterRoutes(app *fiber.App) {
	app.Use("/ws/camera", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/camera", websocket.New(b.handleClient))
}

func (b *Browser) handleClient(c *websocket.Conn) {
	client := newBrowserClient(c)
	b.attach(client)
	defer b.detach(client)
	go client.writePump()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			b.logger.Debug("camera client read ended", "client", client.ID, "error", err)
			return
		}

		b.messagesReceived.Add(1)
		b.handlePayload(client, data)
	}
}

func (b *Browser) attach(client *browserClient) {
	b.mu.Lock()
	b.clients[client.ID] = client
	count := len(b.clients)
	b.mu.Unlock()
	b.logger.Info("camera client connected", "client", client.ID, "total", count)
}

func (b *Browser) detach(client *browserClient) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	count := len(b.clients)
	b.mu.Unlock()
	close(client.done)
	b.logger.Info("camera client disconnected", "client", client.ID, "total", count)
}

func (b *Browser) handlePayload(client *browserClient, data []byte) {
	if msg, err := protocol.ParseMessage(data); err == nil && msg.Type == protocol.TypePing {
		ping, _ := msg.GetPingData()
		id := ""
		if ping != nil {
			id = ping.ID
		}
		pong, err := protocol.NewPongMessage(id, msg.Timestamp, time.Now().UnixMilli())
		if err == nil && !client.send(pong) {
			b.pushesDropped.Add(1)
		}
		return
	}
	b.Ingest(data)
}

// Ingest decodes one client payload and offers it as the newest frame. It
// returns false when the payload is not an image.
func (b *Browser) Ingest(payload []byte) bool {
	img, fd, err := protocol.ParseFramePayload(payload)
	if err != nil || len(img) == 0 {
		b.badPayloads.Add(1)
		b.logger.Debug("dropping non-frame payload", "error", err)
		return false
	}

	f := Frame{JPEG: img, CapturedAt: time.Now()}
	if fd != nil && fd.Width > 0 && fd.Height > 0 {
		f.Width, f.Height = fd.Width, fd.Height
	} else if cfg, _, err := image.DecodeConfig(bytes.NewReader(img)); err == nil {
		f.Width, f.Height = cfg.Width, cfg.Height
	}

	b.framesReceived.Add(1)
	if b.box.put(f) {
		b.framesReplaced.Add(1)
	}
	return true
}

// Notify pushes a narration to every connected client so the page can show
// or speak it. It never blocks: a client whose buffer is full misses the
// message.
func (b *Browser) Notify(id, text string, urgent bool) {
	msg, err := protocol.NewNarrationMessage(id, text, urgent)
	if err != nil {
		return
	}
	b.mu.RLock()
	clients := make([]*browserClient, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if !c.send(msg) {
			b.pushesDropped.Add(1)
			b.logger.Debug("narration push dropped", "client", c.ID)
		}
	}
}

// ClientCount returns the number of connected camera clients.
func (b *Browser) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// BrowserStats contains ingest counters.
type BrowserStats struct {
	Clients          int    `json:"clients"`
	MessagesReceived uint64 `json:"messages_received"`
	FramesReceived   uint64 `json:"frames_received"`
	FramesReplaced   uint64 `json:"frames_replaced"`
	BadPayloads      uint64 `json:"bad_payloads"`
	PushesDropped    uint64 `json:"pushes_dropped"`
}

// Stats returns ingest counters.
func (b *Browser) Stats() BrowserStats {
	return BrowserStats{
		Clients:          b.ClientCount(),
		MessagesReceived: b.messagesReceived.Load(),
		FramesReceived:   b.framesReceived.Load(),
		FramesReplaced:   b.framesReplaced.Load(),
		BadPayloads:      b.badPayloads.Load(),
		PushesDropped:    b.pushesDropped.Load(),
	}
}

// Next implements Source. It waits for the next client frame.
func (b *Browser) Next(ctx context.Context) (Frame, error) {
	return b.box.next(ctx)
}

// Close implements Source.
func (b *Browser) Close() error {
	b.box.close()
	return nil
}

var _ Source = (*Browser)(nil)
