package ws

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/lvdashuaibi/livepoll/config"
	"github.com/lvdashuaibi/livepoll/internal/gateway"
	"github.com/rs/zerolog/log"
)

// Handler upgrades HTTP requests to WebSocket sessions on the gateway.
type Handler struct {
	gw      *gateway.Gateway
	cfg     config.GatewayConfig
	origins []string
}

func NewHandler(gw *gateway.Gateway, cfg config.GatewayConfig, origins []string) *Handler {
	return &Handler{gw: gw, cfg: cfg, origins: origins}
}

func (h *Handler) acceptOptions() *websocket.AcceptOptions {
	if len(h.origins) == 0 || slices.Contains(h.origins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: h.origins}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket accept failed")
		return
	}
	if h.cfg.ReadLimit > 0 {
		conn.SetReadLimit(h.cfg.ReadLimit)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s := h.gw.Connect()
	defer h.gw.Disconnect(s)

	go h.writeLoop(ctx, cancel, conn, s)
	h.readLoop(ctx, conn, s)

	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, s *gateway.Session) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Debug().Str("sid", s.ID).Msg("websocket closed by peer")
			default:
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("sid", s.ID).Msg("websocket read failed")
				}
			}
			return
		}
		h.gw.Dispatch(s, data)
	}
}

func (h *Handler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, s *gateway.Session) {
	defer cancel()

	timeout := h.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Done():
			return
		case frame := <-s.Outbox():
			wctx, wcancel := context.WithTimeout(ctx, timeout)
			err := conn.Write(wctx, websocket.MessageText, frame)
			wcancel()
			if err != nil {
				log.Warn().Err(err).Str("sid", s.ID).Msg("websocket write failed")
				return
			}
		}
	}
}
