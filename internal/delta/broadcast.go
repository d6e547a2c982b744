package delta

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// protocolVersion is sent in the Hello message on every new subscription.
const protocolVersion = 1

// subscriberBufferSize bounds how many undelivered deltas a slow client can
// queue before it is considered lagged and disconnected; roughly ten
// minutes of mainnet blocks at one delta per block.
const subscriberBufferSize = 64

// lagCloseCode is the WebSocket close code sent to a client that fell
// behind the broadcast buffer; the client is expected to reconnect and
// re-sync via the tiered range-delta file rather than resume mid-stream.
const lagCloseCode = 4000

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type subscriber struct {
	ch chan BucketDelta
}

// Hub fans out bucket deltas to every subscribed WebSocket connection. A
// subscriber that can't keep up with the buffer is dropped and told to
// reconnect rather than be allowed to back-pressure the producer.
type Hub struct {
	mu           sync.Mutex
	subscribers  map[*subscriber]struct{}
	currentBlock uint64
}

// NewHub creates an empty broadcast hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[*subscriber]struct{})}
}

// Broadcast delivers delta to every current subscriber. A subscriber whose
// buffer is full is evicted immediately; its connection goroutine observes
// the closed channel and closes the socket with the lag close code.
func (h *Hub) Broadcast(d BucketDelta) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentBlock = d.BlockNumber

	delivered := 0
	for s := range h.subscribers {
		select {
		case s.ch <- d:
			delivered++
		default:
			close(s.ch)
			delete(h.subscribers, s)
		}
	}
	return delivered
}

// SubscriberCount reports how many clients are currently subscribed.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) subscribe() *subscriber {
	s := &subscriber{ch: make(chan BucketDelta, subscriberBufferSize)}
	h.mu.Lock()
	h.subscribers[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[s]; ok {
		delete(h.subscribers, s)
	}
}

// wsHello is the JSON handshake message sent immediately after upgrade.
type wsHello struct {
	Version     int    `json:"version"`
	BlockNumber uint64 `json:"block_number"`
}

// ServeSubscription upgrades r to a WebSocket and streams bucket deltas to
// it: a Hello handshake first, then a binary BucketDelta message per block,
// until the client disconnects or falls behind and is closed with code
// 4000 so it knows to resync from the range-delta file.
func (h *Hub) ServeSubscription(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	h.mu.Lock()
	current := h.currentBlock
	h.mu.Unlock()

	hello := wsHello{Version: protocolVersion, BlockNumber: current}
	helloJSON, err := json.Marshal(hello)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, helloJSON); err != nil {
		return
	}

	sub := h.subscribe()
	defer h.unsubscribe(sub)

	closed := make(chan struct{})
	go h.readLoop(conn, closed)

	var lastBlock uint64 = current
	for {
		select {
		case d, ok := <-sub.ch:
			if !ok {
				reason := "lagged"
				if lastBlock != 0 {
					reason = "lagged:" + itoa(lastBlock)
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(lagCloseCode, reason),
					time.Now().Add(time.Second))
				return
			}
			lastBlock = d.BlockNumber
			if err := conn.WriteMessage(websocket.BinaryMessage, d.ToBytes()); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// readLoop drains incoming control frames (ping/close) so the connection's
// read deadline keeps advancing; gorilla's Upgrade handler answers pings
// with pongs automatically, this goroutine just needs to keep reading.
func (h *Hub) readLoop(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.Printf("delta: subscriber read error: %v", err)
			return
		}
	}
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
