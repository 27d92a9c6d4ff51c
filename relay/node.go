// node.go - HTTP relay node.
//
// Each operator runs one node. Nodes know each other through a static peer
// directory and exchange envelopes over a single POST endpoint; handlers are
// registered per message type. Delivery is best effort: a failed send is the
// sender's problem and a node never retries on behalf of a peer.

package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const sendTimeout = 5 * time.Second

// Handler processes one decoded envelope. Handlers run on the HTTP serving
// goroutine and must not block.
type Handler func(n *Node, msg Message)

// Node is one relay participant.
type Node struct {
	ID      string
	Address string
	Peers   map[string]string // peer ID to address

	server    *http.Server
	waitGroup *sync.WaitGroup
	log       zerolog.Logger

	handlerMutex sync.Mutex
	handlers     map[string]Handler

	healthMutex sync.Mutex
	health      map[string]bool
}

// NewNode creates a node with the given static peer directory.
func NewNode(id, address string, peers map[string]string, wg *sync.WaitGroup, log zerolog.Logger) *Node {
	n := &Node{
		ID:        id,
		Address:   address,
		Peers:     peers,
		waitGroup: wg,
		log:       log.With().Str("component", "relay").Str("node", id).Logger(),
		handlers:  make(map[string]Handler),
		health:    make(map[string]bool),
	}
	n.RegisterHandler(TypePing, handlePing)
	n.RegisterHandler(TypePong, handlePong)
	return n
}

// RegisterHandler installs the handler for a message type, replacing any
// previous one.
func (n *Node) RegisterHandler(messageType string, h Handler) {
	n.handlerMutex.Lock()
	defer n.handlerMutex.Unlock()
	n.handlers[messageType] = h
}

func (n *Node) messageHandler(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		n.log.Warn().Err(err).Msg("bad envelope")
		return
	}

	n.handlerMutex.Lock()
	h, ok := n.handlers[msg.Type]
	n.handlerMutex.Unlock()
	if !ok {
		n.log.Warn().Str("type", msg.Type).Str("sender", msg.SenderID).Msg("unknown message type")
		w.WriteHeader(http.StatusOK)
		return
	}

	n.log.Debug().Str("type", msg.Type).Str("sender", msg.SenderID).Msg("message received")
	h(n, msg)
	w.WriteHeader(http.StatusOK)
}

// StartServer starts the node's HTTP server in a new goroutine and signals
// on ready once the listener is accepting.
func (n *Node) StartServer(ready chan<- struct{}) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/message", n.messageHandler)

	n.server = &http.Server{
		Addr:    n.Address,
		Handler: mux,
	}

	listener, err := net.Listen("tcp", n.Address)
	if err != nil {
		return fmt.Errorf("relay: listen on %s: %w", n.Address, err)
	}

	n.waitGroup.Add(1)
	go func() {
		defer n.waitGroup.Done()
		n.log.Info().Str("address", n.Address).Msg("relay listening")
		ready <- struct{}{}
		if err := n.server.Serve(listener); err != http.ErrServerClosed {
			n.log.Error().Err(err).Msg("relay server failed")
		}
	}()
	return nil
}

// Close shuts the node's server down.
func (n *Node) Close() error {
	if n.server == nil {
		return nil
	}
	return n.server.Close()
}

// SendMessage sends one envelope to a named peer. The payload can be any
// JSON-marshallable value.
func (n *Node) SendMessage(targetID, messageType string, payload interface{}) error {
	targetAddress, ok := n.Peers[targetID]
	if !ok {
		return fmt.Errorf("relay: peer %q not in directory", targetID)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("relay: marshal payload: %w", err)
	}
	messageBytes, err := json.Marshal(Message{
		Type:     messageType,
		Payload:  payloadBytes,
		SenderID: n.ID,
	})
	if err != nil {
		return fmt.Errorf("relay: marshal envelope: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, "http://"+targetAddress+"/message", bytes.NewReader(messageBytes))
	if err != nil {
		return fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: sendTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("relay: send to %s: %w", targetID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay: peer %s returned %s", targetID, resp.Status)
	}
	return nil
}

// Broadcast sends one envelope to every peer except the node itself. Send
// failures are logged, not returned.
func (n *Node) Broadcast(messageType string, payload interface{}) {
	for id := range n.Peers {
		if id == n.ID {
			continue
		}
		go func(target string) {
			if err := n.SendMessage(target, messageType, payload); err != nil {
				n.log.Warn().Str("peer", target).Err(err).Msg("broadcast send failed")
			}
		}(id)
	}
}

// HealthCheck pings every peer. Health state is updated asynchronously as
// pongs come back.
func (n *Node) HealthCheck() {
	n.healthMutex.Lock()
	for id := range n.Peers {
		if id != n.ID {
			n.health[id] = false
		}
	}
	n.healthMutex.Unlock()
	n.Broadcast(TypePing, PingPayload{Nonce: uint64(time.Now().UnixNano())})
}

// PeerHealthy reports the last known health of a peer.
func (n *Node) PeerHealthy(id string) bool {
	n.healthMutex.Lock()
	defer n.healthMutex.Unlock()
	return n.health[id]
}

func handlePing(n *Node, msg Message) {
	var p PingPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		n.log.Warn().Err(err).Msg("bad ping payload")
		return
	}
	go func() {
		if err := n.SendMessage(msg.SenderID, TypePong, p); err != nil {
			n.log.Warn().Str("peer", msg.SenderID).Err(err).Msg("pong send failed")
		}
	}()
}

func handlePong(n *Node, msg Message) {
	n.healthMutex.Lock()
	n.health[msg.SenderID] = true
	n.healthMutex.Unlock()
}
