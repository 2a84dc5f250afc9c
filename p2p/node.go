package p2p

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"veilcash/internal/currency"
)

// HandlerFunc processes one received message on a node.
type HandlerFunc func(n *Node, msg Message)

// Node is one participant in the gossip network. Every node holds a full
// replica of the ledger; transfers, accepts, and height announcements flood
// through the network and each replica applies them independently. The
// ledger's own rejection rules (duplicate transfers, finalized transfers,
// non-advancing heights) are what stop a flood from circulating forever.
type Node struct {
	ID        string
	Address   string
	Peers     map[string]string // Map of Node ID to its address
	Ledger    *currency.Ledger
	server    *http.Server
	waitGroup *sync.WaitGroup

	handlerMutex sync.Mutex
	handlers     map[string]HandlerFunc

	healthMutex sync.Mutex
	health      map[string]bool
}

// NewNode creates and initializes a new Node over a ledger replica.
func NewNode(id, address string, peers map[string]string, ledger *currency.Ledger, wg *sync.WaitGroup) *Node {
	return &Node{
		ID:        id,
		Address:   address,
		Peers:     peers,
		Ledger:    ledger,
		waitGroup: wg,
		handlers:  make(map[string]HandlerFunc),
		health:    make(map[string]bool),
	}
}

// RegisterHandler installs a handler for a message type, replacing any
// previous one. Registered handlers run after the built-in protocol
// handling for that type.
func (n *Node) RegisterHandler(messageType string, h HandlerFunc) {
	n.handlerMutex.Lock()
	defer n.handlerMutex.Unlock()
	n.handlers[messageType] = h
}

// messageHandler is the HTTP handler for receiving messages.
// It decodes the message envelope and then processes the payload based on its type.
func (n *Node) messageHandler(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		log.Printf("[%s] Received a bad request: %v", n.ID, err)
		return
	}

	log.Printf("[%s] Received message of type '%s'", n.ID, msg.Type)

	switch msg.Type {
	case TypeTransfer:
		var payload TransferAnnouncement
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Printf("[%s] Error unmarshalling TransferAnnouncement: %v", n.ID, err)
			break
		}
		n.handleTransfer(payload)

	case TypeAccept:
		var payload AcceptAnnouncement
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Printf("[%s] Error unmarshalling AcceptAnnouncement: %v", n.ID, err)
			break
		}
		n.handleAccept(payload)

	case TypeHeight:
		var payload HeightAnnouncement
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Printf("[%s] Error unmarshalling HeightAnnouncement: %v", n.ID, err)
			break
		}
		n.handleHeight(payload)

	case TypePing:
		var payload PingPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Printf("[%s] Error unmarshalling PingPayload: %v", n.ID, err)
			break
		}
		go func() {
			if err := n.SendMessage(payload.SenderID, TypePong, PingPayload{SenderID: n.ID}); err != nil {
				log.Printf("[%s] Error sending pong to %s: %v", n.ID, payload.SenderID, err)
			}
		}()

	case TypePong:
		var payload PingPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Printf("[%s] Error unmarshalling PingPayload: %v", n.ID, err)
			break
		}
		n.healthMutex.Lock()
		n.health[payload.SenderID] = true
		n.healthMutex.Unlock()
	}

	n.handlerMutex.Lock()
	handler, ok := n.handlers[msg.Type]
	n.handlerMutex.Unlock()
	if ok {
		handler(n, msg)
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Message received")
}

// handleTransfer applies an announced transfer to the local replica and
// re-floods it if it was new.
func (n *Node) handleTransfer(payload TransferAnnouncement) {
	if n.Ledger == nil || payload.Transfer == nil {
		return
	}
	id, err := n.Ledger.SubmitTransfer(payload.Transfer)
	if err != nil {
		if !errors.Is(err, currency.ErrDuplicateTransfer) {
			log.Printf("[%s] Rejected transfer from %s: %v", n.ID, payload.SenderID, err)
		}
		return
	}
	log.Printf("[%s] Committed transfer %s as pending", n.ID, id)
	n.Broadcast(TypeTransfer, TransferAnnouncement{SenderID: n.ID, Transfer: payload.Transfer})
}

// handleAccept applies an announced accept and re-floods it if it changed
// local state.
func (n *Node) handleAccept(payload AcceptAnnouncement) {
	if n.Ledger == nil || payload.Accept == nil {
		return
	}
	if err := n.Ledger.SubmitAccept(payload.Accept); err != nil {
		if !errors.Is(err, currency.ErrAlreadyFinalized) {
			log.Printf("[%s] Rejected accept from %s: %v", n.ID, payload.SenderID, err)
		}
		return
	}
	log.Printf("[%s] Accepted transfer %s", n.ID, payload.Accept.TransferID)
	n.Broadcast(TypeAccept, AcceptAnnouncement{SenderID: n.ID, Accept: payload.Accept})
}

// handleHeight advances the local chain clock and re-floods the height if
// it moved, sweeping timed-out transfers into refunds as a side effect.
func (n *Node) handleHeight(payload HeightAnnouncement) {
	if n.Ledger == nil {
		return
	}
	if payload.Height <= n.Ledger.CurrentHeight() {
		return
	}
	refunded := n.Ledger.OnHeightAdvance(payload.Height)
	for _, id := range refunded {
		log.Printf("[%s] Refunded transfer %s at height %d", n.ID, id, payload.Height)
	}
	n.Broadcast(TypeHeight, HeightAnnouncement{SenderID: n.ID, Height: payload.Height})
}

// AnnounceTransfer submits a transfer locally and floods it to all peers.
func (n *Node) AnnounceTransfer(t *currency.Transfer) (currency.TransferID, error) {
	id, err := n.Ledger.SubmitTransfer(t)
	if err != nil {
		return currency.TransferID{}, err
	}
	n.Broadcast(TypeTransfer, TransferAnnouncement{SenderID: n.ID, Transfer: t})
	return id, nil
}

// AnnounceAccept submits an accept locally and floods it to all peers.
func (n *Node) AnnounceAccept(a *currency.Accept) error {
	if err := n.Ledger.SubmitAccept(a); err != nil {
		return err
	}
	n.Broadcast(TypeAccept, AcceptAnnouncement{SenderID: n.ID, Accept: a})
	return nil
}

// AnnounceHeight advances the local clock and floods the new height.
func (n *Node) AnnounceHeight(height uint64) []currency.TransferID {
	refunded := n.Ledger.OnHeightAdvance(height)
	n.Broadcast(TypeHeight, HeightAnnouncement{SenderID: n.ID, Height: height})
	return refunded
}

// Broadcast sends a message to every known peer. Delivery is best-effort;
// failures are logged and skipped.
func (n *Node) Broadcast(messageType string, payload interface{}) {
	for peerID := range n.Peers {
		if peerID == n.ID {
			continue
		}
		go func(id string) {
			if err := n.SendMessage(id, messageType, payload); err != nil {
				log.Printf("[%s] Broadcast of '%s' to %s failed: %v", n.ID, messageType, id, err)
			}
		}(peerID)
	}
}

// HealthCheck pings every peer; pong responses mark the peer healthy in
// the node's health map.
func (n *Node) HealthCheck() {
	n.healthMutex.Lock()
	for peerID := range n.Peers {
		if peerID != n.ID {
			n.health[peerID] = false
		}
	}
	n.healthMutex.Unlock()

	n.Broadcast(TypePing, PingPayload{SenderID: n.ID})
}

// PeerHealthy reports the result of the last HealthCheck for a peer.
func (n *Node) PeerHealthy(peerID string) bool {
	n.healthMutex.Lock()
	defer n.healthMutex.Unlock()
	return n.health[peerID]
}

// StartServer starts the node's HTTP server in a new goroutine.
// It signals on the 'ready' channel once the server is actively listening.
func (n *Node) StartServer(ready chan<- struct{}) {
	mux := http.NewServeMux()
	mux.HandleFunc("/message", n.messageHandler)

	n.server = &http.Server{
		Addr:    n.Address,
		Handler: mux,
	}

	listener, err := net.Listen("tcp", n.Address)
	if err != nil {
		log.Fatalf("[%s] failed to listen: %v", n.ID, err)
	}

	n.waitGroup.Add(1)
	go func() {
		defer n.waitGroup.Done()
		log.Printf("[%s] Server starting on %s", n.ID, n.Address)

		// Signal that the server is up and ready
		ready <- struct{}{}

		if err := n.server.Serve(listener); err != http.ErrServerClosed {
			log.Fatalf("[%s] Server failed: %v", n.ID, err)
		}
		log.Printf("[%s] Server stopped.", n.ID)
	}()
}

// Close shuts down the node's HTTP server.
func (n *Node) Close() error {
	if n.server == nil {
		return nil
	}
	return n.server.Close()
}

// SendMessage sends a message to another node in the network.
// The payload can be any struct that is marshallable to JSON.
func (n *Node) SendMessage(targetID, messageType string, payload interface{}) error {
	targetAddress, ok := n.Peers[targetID]
	if !ok {
		return fmt.Errorf("peer '%s' not found in directory", targetID)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %v", err)
	}

	msg := Message{
		Type:     messageType,
		Payload:  payloadBytes,
		SenderID: n.ID,
	}

	messageBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message envelope: %v", err)
	}

	req, err := http.NewRequest("POST", "http://"+targetAddress+"/message", bytes.NewBuffer(messageBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer returned non-OK status: %s", resp.Status)
	}

	return nil
}
