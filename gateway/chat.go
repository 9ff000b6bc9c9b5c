package gateway

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	EventChatSend    = "chat:send"
	EventChatSent    = "chat:sent"
	EventChatReceive = "chat:receive"
)

type chatSendPayload struct {
	ReceiverID string          `json:"receiver_id"`
	Message    json.RawMessage `json:"message"`
}

type chatDelivery struct {
	SenderID string          `json:"sender_id"`
	Message  json.RawMessage `json:"message"`
}

// RegisterChatHandlers wires direct messaging onto a chat gateway. The
// receiver gets the message on every live connection, wherever it is served;
// an offline receiver gets nothing and the sender is still acked.
func RegisterChatHandlers(g *Gateway) {
	g.Handle(EventChatSend, handleChatSend)
}

func handleChatSend(ctx context.Context, g *Gateway, connID, userID string, msg ClientMessage) error {
	var payload chatSendPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		g.sendAck(connID, EventError, false, "malformed chat payload")
		return nil
	}
	if payload.ReceiverID == "" {
		g.sendAck(connID, EventError, false, "receiver_id is required")
		return nil
	}

	delivery, err := json.Marshal(chatDelivery{
		SenderID: userID,
		Message:  payload.Message,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal chat delivery: %w", err)
	}

	if err := g.fanout.Send(ctx, payload.ReceiverID, EventChatReceive, delivery); err != nil {
		g.sendAck(connID, EventChatSent, false, "delivery failed")
		return nil
	}

	g.sendAck(connID, EventChatSent, true, "")
	return nil
}
