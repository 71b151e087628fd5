package binance

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"spot-sim/internal/userdata"
)

// UserStream is a live user data subscription over the WS API. Frames are
// handed to a userdata.Listener unchanged, the same way the simulator's
// channels deliver them.
type UserStream struct {
	client    *Client
	conn      *websocket.Conn
	keepalive time.Duration
}

func (c *Client) NewUserStream(ctx context.Context, keepalive time.Duration) (*UserStream, error) {
	if c.wsBaseURL == "" {
		return nil, errors.New("ws base url required")
	}
	params, err := c.userStreamParams()
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsBaseURL, nil)
	if err != nil {
		return nil, err
	}
	if _, err := callWS(ctx, conn, "userDataStream.subscribe.signature", params); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &UserStream{client: c, conn: conn, keepalive: keepalive}, nil
}

// userStreamParams signs the sorted query form of the params.
func (c *Client) userStreamParams() (*wsSignedParams, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, errors.New("api_key/api_secret required")
	}
	params := &wsSignedParams{APIKey: c.apiKey, Timestamp: c.now().UnixMilli()}
	values := url.Values{}
	values.Set("apiKey", params.APIKey)
	values.Set("timestamp", strconv.FormatInt(params.Timestamp, 10))
	if c.recvWindow > 0 {
		params.RecvWindow = c.recvWindow.Milliseconds()
		values.Set("recvWindow", strconv.FormatInt(params.RecvWindow, 10))
	}
	params.Signature = sign(c.apiSecret, values.Encode())
	return params, nil
}

// Forward delivers stream frames to l until ctx ends or the connection
// drops. OnClose is called exactly once with the close code seen.
func (u *UserStream) Forward(ctx context.Context, l userdata.Listener) {
	readTimeout := 45 * time.Second
	if u.keepalive > 0 {
		readTimeout = u.keepalive * 3
		if readTimeout < 30*time.Second {
			readTimeout = 30 * time.Second
		}
	}
	u.conn.SetPongHandler(func(string) error {
		return u.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	if u.keepalive > 0 {
		go u.ping(ctx, done)
	} else {
		go func() {
			select {
			case <-ctx.Done():
				_ = u.conn.Close()
			case <-done:
			}
		}()
	}

	l.OnOpen()
	for {
		_ = u.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := u.conn.ReadMessage()
		if err != nil {
			_ = u.conn.Close()
			code, reason := closeStatus(ctx, err)
			l.OnClose(code, reason)
			return
		}
		if len(data) == 0 || isWSResponse(data) {
			continue
		}
		l.OnMessage(data)
	}
}

func (u *UserStream) ping(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(u.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := u.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				_ = u.conn.Close()
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			_ = u.conn.Close()
			return
		}
	}
}

func closeStatus(ctx context.Context, err error) (int, string) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, closeErr.Text
	}
	if ctx.Err() != nil {
		return websocket.CloseNormalClosure, ctx.Err().Error()
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
