package game

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/scythe504/roulette-backend/internal"
)

// =============================================================================
// WEBSOCKET CONNECTION HANDLING
// =============================================================================

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn bounds every write with a deadline so one stalled client cannot
// hold up a broadcast.
type wsConn struct {
	*websocket.Conn
}

func (c wsConn) WriteJSON(v any) error {
	if err := c.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.Conn.WriteJSON(v)
}

// HandleWebSocket upgrades the request and serves the connection until it
// closes.
func (e *Engine) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[HandleWebSocket] upgrade failed:", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := e.presence.Attach(wsConn{conn})
	go e.handleMessages(client, conn)
}

// handleMessages reads frames until the connection drops, then detaches the
// client. The user's session survives for reconnects.
func (e *Engine) handleMessages(client *internal.Client, conn *websocket.Conn) {
	defer func() {
		conn.Close()
		e.presence.OnDisconnect(client.Id)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[handleMessages] connection %s: read error: %v", client.Id, err)
			}
			return
		}
		e.HandleMessage(context.Background(), client, raw)
	}
}

// HandleMessage routes one inbound frame from client.
func (e *Engine) HandleMessage(ctx context.Context, client *internal.Client, raw []byte) {
	var base internal.Message[json.RawMessage]
	if err := json.Unmarshal(raw, &base); err != nil {
		log.Printf("[HandleMessage] connection %s: malformed message: %v", client.Id, err)
		return
	}

	switch base.Type {
	case internal.EventIdentifyUser:
		var data internal.IdentifyUserData
		if err := json.Unmarshal(base.Data, &data); err != nil {
			log.Printf("[HandleMessage] connection %s: bad identify_user payload: %v", client.Id, err)
			return
		}
		if err := e.Identify(ctx, client, data.UserID, data.Username); err != nil {
			log.Printf("[HandleMessage] connection %s: identify failed: %v", client.Id, err)
			writeTo(client, internal.EventBetFailed, internal.ErrorData{Message: err.Error()})
		}

	case internal.EventPlaceBet:
		var data internal.PlaceBetData
		if err := json.Unmarshal(base.Data, &data); err != nil {
			writeTo(client, internal.EventBetFailed, internal.ErrorData{Message: "invalid bet payload"})
			return
		}
		userID, _ := e.presence.UserOf(client.Id)
		bet, balance, err := e.PlaceBet(ctx, userID, data.Type, string(data.Value), data.Amount)
		if err != nil {
			writeTo(client, internal.EventBetFailed, internal.ErrorData{Message: clientMessage(err)})
			return
		}
		writeTo(client, internal.EventBetConfirmed, internal.BetConfirmedData{
			BetID:      bet.ID,
			Type:       bet.Kind,
			Value:      bet.Value,
			Amount:     bet.Amount,
			Multiplier: bet.Multiplier,
			NewBalance: balance,
		})

	case internal.EventCancelBet:
		var data internal.CancelBetData
		if err := json.Unmarshal(base.Data, &data); err != nil {
			writeTo(client, internal.EventBetFailed, internal.ErrorData{Message: "invalid cancel payload"})
			return
		}
		userID, ok := e.presence.UserOf(client.Id)
		if !ok {
			writeTo(client, internal.EventBetFailed, internal.ErrorData{Message: internal.ErrAuth.Error()})
			return
		}
		bet, balance, err := e.CancelBet(ctx, userID, data.BetID)
		if err != nil {
			writeTo(client, internal.EventBetFailed, internal.ErrorData{Message: clientMessage(err)})
			return
		}
		writeTo(client, internal.EventBetCancelled, internal.BetCancelledData{
			BetID:      bet.ID,
			Amount:     bet.Amount,
			NewBalance: balance,
		})

	case internal.EventAdminCommand:
		var data internal.AdminCommandData
		if err := json.Unmarshal(base.Data, &data); err != nil {
			writeTo(client, internal.EventAdminError, internal.ErrorData{Message: "invalid admin payload"})
			return
		}
		e.HandleAdminCommand(ctx, client, data)

	default:
		log.Printf("[HandleMessage] connection %s: unknown message type %q", client.Id, base.Type)
	}
}

// clientMessage hides store internals from players.
func clientMessage(err error) string {
	if errors.Is(err, internal.ErrPersistence) {
		return "bet could not be processed, please retry"
	}
	return err.Error()
}
