package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const wsResponseTimeout = 10 * time.Second

// wsSignedParams authenticates a WS API call with the account's HMAC key.
type wsSignedParams struct {
	APIKey     string `json:"apiKey"`
	Timestamp  int64  `json:"timestamp"`
	RecvWindow int64  `json:"recvWindow,omitempty"`
	Signature  string `json:"signature"`
}

type wsRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params *wsSignedParams `json:"params,omitempty"`
}

// wsFrame covers both shapes arriving on a WS API connection: responses
// carry id and status, pushed user data carries an event.
type wsFrame struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *apiError       `json:"error,omitempty"`
	Event  json.RawMessage `json:"event,omitempty"`
}

func (f wsFrame) isResponse() bool {
	return f.ID != "" && f.Status != 0
}

// callWS sends one request and waits for its response, skipping any pushed
// frames that arrive first.
func callWS(ctx context.Context, conn *websocket.Conn, method string, params *wsSignedParams) (wsFrame, error) {
	req := wsRequest{ID: uuid.NewString(), Method: method, Params: params}
	if err := conn.WriteJSON(req); err != nil {
		return wsFrame{}, fmt.Errorf("ws %s: %w", method, err)
	}

	deadline := time.Now().Add(wsResponseTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return wsFrame{}, fmt.Errorf("ws %s: %w", method, err)
		}
		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.ID != req.ID {
			continue
		}
		if frame.Status == 200 {
			return frame, nil
		}
		if frame.Error != nil {
			return frame, wrapAPIError(frame.Error.Code, frame.Error.Msg)
		}
		return frame, fmt.Errorf("ws %s: status %d", method, frame.Status)
	}
}

func isWSResponse(data []byte) bool {
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return false
	}
	return frame.isResponse()
}
