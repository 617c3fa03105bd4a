// Package radiosim stands in for the physical LoRa link when no SX127x
// hardware is attached: a small WebSocket relay shared by exactly two
// peers (the "ed" and "as" roles) per channel, plus a Radio implementation
// that dials it. It is test/demo infrastructure only — the real radio
// driver remains an opaque external collaborator per the radio package.
package radiosim

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Relay is a software half-duplex medium: a channel id maps to exactly two
// peer connections, and a message transmitted by one peer is forwarded to
// the other.
type Relay struct {
	logger   *logrus.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	channels map[string]*channel
}

type channel struct {
	mu    sync.Mutex
	peers map[string]*websocket.Conn // role ("ed"/"as") -> connection
	turn  string                     // role holding the transmit token; "ed" starts, since the ED always initiates
}

// NewRelay builds a relay that logs with the given logger (or a default
// one if nil).
func NewRelay(logger *logrus.Logger) *Relay {
	if logger == nil {
		logger = logrus.New()
	}
	return &Relay{
		logger:   logger,
		channels: make(map[string]*channel),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router wires the relay's single WebSocket endpoint into a gorilla/mux
// router the caller can serve standalone or mount alongside other routes.
func (r *Relay) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/radio/{channel}/{role}", r.handleConn)
	return router
}

func (r *Relay) handleConn(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	channelID, role := vars["channel"], vars["role"]
	if role != "ed" && role != "as" {
		http.Error(w, "role must be ed or as", http.StatusBadRequest)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.WithError(err).Error("radiosim: upgrade failed")
		return
	}
	defer conn.Close()

	ch := r.channelFor(channelID)
	ch.mu.Lock()
	if _, taken := ch.peers[role]; taken {
		ch.mu.Unlock()
		r.logger.WithFields(logrus.Fields{"channel": channelID, "role": role}).Warn("radiosim: role already connected")
		return
	}
	ch.peers[role] = conn
	ch.mu.Unlock()

	r.logger.WithFields(logrus.Fields{"channel": channelID, "role": role}).Info("radiosim: peer connected")

	defer func() {
		ch.mu.Lock()
		delete(ch.peers, role)
		ch.mu.Unlock()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		r.forward(ch, role, data)
	}
}

// forward enforces half-duplex turn-taking: a peer may only transmit while
// it holds the channel's token, and the token passes to the other peer
// after every forwarded message.
func (r *Relay) forward(ch *channel, from string, data []byte) {
	ch.mu.Lock()
	if ch.turn != from {
		ch.mu.Unlock()
		r.logger.WithField("from", from).Warn("radiosim: dropped frame sent out of turn")
		return
	}
	other := peerOf(from)
	peerConn, ok := ch.peers[other]
	ch.turn = other
	ch.mu.Unlock()
	if !ok {
		return
	}
	if err := peerConn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		r.logger.WithError(err).Warn("radiosim: forward failed")
	}
}

func (r *Relay) channelFor(id string) *channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	if !ok {
		ch = &channel{peers: make(map[string]*websocket.Conn), turn: "ed"}
		r.channels[id] = ch
	}
	return ch
}

func peerOf(role string) string {
	if role == "ed" {
		return "as"
	}
	return "ed"
}

// Addr formats the relay's WebSocket URL for a given channel/role, for
// callers building the dial target.
func Addr(host, channelID, role string) string {
	return fmt.Sprintf("ws://%s/radio/%s/%s", host, channelID, role)
}
