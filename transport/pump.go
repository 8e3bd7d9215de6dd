package transport

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stardustapp/skychat-sub000/log"
)

// writePump is the only writer of ws besides control frames. It pings after
// PingTimeout without traffic so the peer's read deadline keeps moving.
func writePump(ctx context.Context, ws *websocket.Conn, send <-chan []byte, settings *Settings, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(settings.WriteTimeout),
			)
			return
		case message := <-send:
			ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				// a websocket write deadline cannot be recovered
				logger.Debug("write error = %v", err)
				return
			}
		case <-time.After(settings.PingTimeout):
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(settings.WriteTimeout)); err != nil {
				logger.Debug("ping error = %v", err)
				return
			}
		}
	}
}

// keepAlive extends the read deadline whenever the peer shows signs of life.
func keepAlive(ws *websocket.Conn, settings *Settings) {
	ws.SetReadLimit(settings.MaxMessageSize)
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
	})
	ws.SetPingHandler(func(appData string) error {
		ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(settings.WriteTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
}
