package p2p

import (
	"encoding/json"

	"veilcash/internal/currency"
)

// Message is the generic envelope for any message sent over the network.
// The payload stays raw until the type-specific handler decodes it.
type Message struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId"`
}

// Built-in message types. Commitments and proofs inside the payloads carry
// their own base64 JSON encoding, so the announcements embed the protocol
// types directly.
const (
	// TypeTransfer announces a transfer for inclusion in every peer's
	// ledger.
	TypeTransfer = "transfer"
	// TypeAccept announces a receiver's accept.
	TypeAccept = "accept"
	// TypeHeight announces a new chain height, triggering refund sweeps.
	TypeHeight = "height"
	// TypePing and TypePong implement the liveness check.
	TypePing = "ping"
	TypePong = "pong"
)

// TransferAnnouncement carries a signed transfer.
type TransferAnnouncement struct {
	SenderID string             `json:"senderId"`
	Transfer *currency.Transfer `json:"transfer"`
}

// AcceptAnnouncement carries a signed accept.
type AcceptAnnouncement struct {
	SenderID string           `json:"senderId"`
	Accept   *currency.Accept `json:"accept"`
}

// HeightAnnouncement carries a chain height observation.
type HeightAnnouncement struct {
	SenderID string `json:"senderId"`
	Height   uint64 `json:"height"`
}

// PingPayload is sent by HealthCheck; peers answer with a pong.
type PingPayload struct {
	SenderID string `json:"senderId"`
}
