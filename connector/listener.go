// connector/listener.go
package connector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/playersync/engine"
	"github.com/wfunc/playersync/logger"
	"github.com/wfunc/playersync/models"
	"github.com/wfunc/playersync/monitor"
	"github.com/wfunc/playersync/registry"
)

// errUnauthenticated 首帧缺失或令牌无效
var errUnauthenticated = errors.New("unauthenticated")

// Listener 反向接入：游戏服务器主动拨入。首帧必须是 auth
type Listener struct {
	addr     string
	upgrader websocket.Upgrader
	engine   *engine.SyncEngine
	registry *registry.Registry
	monitor  *monitor.Monitor
	opts     Options
	server   *http.Server
}

func NewListener(addr string, eng *engine.SyncEngine, reg *registry.Registry, mon *monitor.Monitor, opts Options) *Listener {
	return &Listener{
		addr:     addr,
		engine:   eng,
		registry: reg,
		monitor:  mon,
		opts:     opts.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 游戏服务器从独立主机接入
			},
		},
	}
}

// Start 阻塞监听。ctx 取消后关闭监听器
func (l *Listener) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		l.handleWebSocket(ctx, w, r)
	})

	l.server = &http.Server{Addr: l.addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l.server.Shutdown(shutdownCtx)
	}()

	logger.Log.Infof("Game server listener on %s", l.addr)
	err := l.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Handler 暴露升级入口，测试经 httptest 挂载
func (l *Listener) Handler(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l.handleWebSocket(ctx, w, r)
	}
}

func (l *Listener) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	wsConn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	conn := NewEventConn(wsConn)

	server, err := l.authenticate(conn)
	if err != nil {
		logger.Log.Warnf("Rejected connection from %s: %v", conn.RemoteAddr(), err)
		conn.Send(EventAuthError, authErrorPayload{Error: err.Error()})
		conn.Close()
		return
	}

	sess := NewSession(uuid.New().String(), conn, server, l.engine, l.registry, l.monitor, l.opts.RequestTimeout)
	l.registry.Register(server.ServerID, sess)
	if l.monitor != nil {
		l.monitor.IncConnectedServers()
	}
	logger.Log.Infof("Server %s connected from %s, session %s", server.ServerID, conn.RemoteAddr(), sess.ID)

	conn.Send(EventAuthSuccess, authSuccessPayload{ServerID: server.ServerID})
	conn.Send(EventServerInfo, serverInfoPayload{
		ServerID:    server.ServerID,
		PlayerCount: l.registry.PlayerCount(server.ServerID),
	})

	sess.Run(ctx)

	l.registry.Unregister(server.ServerID, sess)
	if l.monitor != nil {
		l.monitor.DecConnectedServers()
	}
	if _, err := l.registry.SweepServer(server.ServerID); err != nil {
		logger.Log.Errorf("Sweep failed for %s: %v", server.ServerID, err)
	}
	logger.Log.Infof("Server %s disconnected, session %s", server.ServerID, sess.ID)
}

func (l *Listener) authenticate(conn Conn) (*models.GameServer, error) {
	conn.SetReadDeadline(time.Now().Add(l.opts.RequestTimeout))
	frame, err := conn.ReadFrame()
	if err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Time{})

	if frame.Event != EventAuth {
		return nil, errUnauthenticated
	}
	var payload authPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.Token == "" {
		return nil, errUnauthenticated
	}
	return l.registry.ResolveToken(payload.Token)
}
