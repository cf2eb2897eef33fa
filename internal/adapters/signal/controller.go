// Package signal is the WebSocket adapter of the event channel: it upgrades
// connections, binds them into the session registry and speaks the protocol
// envelopes.
package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hallwayfm/hallway/internal/app"
	"github.com/hallwayfm/hallway/internal/auth"
	"github.com/hallwayfm/hallway/internal/core"
	"github.com/hallwayfm/hallway/internal/domain"
	"github.com/hallwayfm/hallway/internal/hallway"
	"github.com/hallwayfm/hallway/internal/rooms"
)

type Controller struct {
	Registry *app.Registry
	Rooms    *rooms.Manager
	Engine   core.MediaEngine
	Hall     *hallway.Broadcaster
	Verifier *auth.Verifier

	joinLimiter *JoinRateLimiter
	callTimeout time.Duration
	pingPeriod  time.Duration
	readLimit   int64
}

type Options struct {
	JoinRateLimit  int
	JoinRateWindow time.Duration
	CallTimeout    time.Duration
	PingPeriod     time.Duration
	ReadLimit      int64
}

func NewController(reg *app.Registry, mgr *rooms.Manager, engine core.MediaEngine, hall *hallway.Broadcaster, verifier *auth.Verifier, opts Options) *Controller {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 32768
	}
	if opts.JoinRateLimit <= 0 {
		opts.JoinRateLimit = 10
	}
	if opts.JoinRateWindow <= 0 {
		opts.JoinRateWindow = time.Minute
	}
	return &Controller{
		Registry:    reg,
		Rooms:       mgr,
		Engine:      engine,
		Hall:        hall,
		Verifier:    verifier,
		joinLimiter: NewJoinRateLimiter(opts.JoinRateLimit, opts.JoinRateWindow),
		callTimeout: opts.CallTimeout,
		pingPeriod:  opts.PingPeriod,
		readLimit:   opts.ReadLimit,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the connection and binds the session. An invalid or
// missing token yields a guest session: hallway broadcasts only, every room
// mutation rejected with AUTH_REQUIRED.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))

	token := c.Query("token")
	if token == "" {
		if h := c.GetHeader("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
			token = h[7:]
		}
	}

	var user *domain.User
	guest := false
	userID, err := ctl.Verifier.Verify(token)
	if err != nil {
		guest = true
		user = &domain.User{ID: domain.UserID(sid), Username: "guest"}
	} else {
		username := c.Query("username")
		if username == "" {
			username = string(userID)
		}
		user = &domain.User{ID: userID, Username: username}
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(user.ID)).Bool("guest", guest).Msg("new WS connection")

	conn := newWSSignalConn(ws)
	connCtx, cancel := context.WithCancel(ctx)
	ctl.Registry.Bind(sid, user, guest, conn, cancel)
	ctl.Hall.Subscribe(sid)

	go ctl.writePump(connCtx, conn)
	go ctl.readPump(connCtx, sid, conn)
}

// teardown runs on every read-pump exit: explicit close, network error and
// server shutdown all converge here.
func (ctl *Controller) teardown(sid core.SessionID, c *wsSignalConn) {
	ctl.Hall.Unsubscribe(sid)
	ctl.Rooms.DisconnectSession(sid)
	ctl.Registry.Cancel(sid)
	ctl.Registry.Unbind(sid)
	c.Close()
}
