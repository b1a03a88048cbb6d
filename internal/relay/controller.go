package relay

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller owns the WebSocket endpoint and the per-connection pumps.
type Controller struct {
	Registry  *Registry
	ReadLimit int64
}

func NewController(reg *Registry, readLimit int64) *Controller {
	return &Controller{Registry: reg, ReadLimit: readLimit}
}

// HandleSignal upgrades the request and runs the connection until it drops.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := SessionID(c.GetString("client_token"))
	log.Info().Str("module", "relay").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := newWSConn(ws)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.Bind(sid, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}
