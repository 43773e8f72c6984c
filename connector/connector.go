// connector/connector.go
package connector

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/playersync/engine"
	"github.com/wfunc/playersync/logger"
	"github.com/wfunc/playersync/monitor"
	"github.com/wfunc/playersync/registry"
)

// Options 重连形态，对应 GAME_SERVER_RECONNECT_* 配置
type Options struct {
	ReconnectAttempts int           // 0 表示无限
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration
	RequestTimeout    time.Duration
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.ReconnectDelayMax <= 0 {
		opts.ReconnectDelayMax = 30 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return opts
}

// Connector 维持到单个游戏服务器的出站 WebSocket，指数退避重连
type Connector struct {
	url      string
	token    string
	opts     Options
	engine   *engine.SyncEngine
	registry *registry.Registry
	monitor  *monitor.Monitor
}

func NewConnector(url, token string, eng *engine.SyncEngine, reg *registry.Registry, mon *monitor.Monitor, opts Options) *Connector {
	return &Connector{
		url:      url,
		token:    token,
		opts:     opts.withDefaults(),
		engine:   eng,
		registry: reg,
		monitor:  mon,
	}
}

// Run 拨号循环，直到 ctx 取消或超出重试次数
func (c *Connector) Run(ctx context.Context) {
	delay := c.opts.ReconnectDelay
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.dialOnce(ctx); err != nil {
			logger.Log.Warnf("Connector %s: %v", c.url, err)
		} else {
			// 会话正常结束后重置退避
			delay = c.opts.ReconnectDelay
			attempts = 0
		}

		attempts++
		if c.opts.ReconnectAttempts > 0 && attempts >= c.opts.ReconnectAttempts {
			logger.Log.Errorf("Connector %s: giving up after %d attempts", c.url, attempts)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.opts.ReconnectDelayMax {
			delay = c.opts.ReconnectDelayMax
		}
	}
}

func (c *Connector) dialOnce(ctx context.Context) error {
	server, err := c.registry.ResolveToken(c.token)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.RequestTimeout}
	wsConn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	conn := NewEventConn(wsConn)

	// 握手出示令牌
	if err := conn.Send(EventAuth, authPayload{Token: c.token}); err != nil {
		conn.Close()
		return err
	}

	sess := NewSession(uuid.New().String(), conn, server, c.engine, c.registry, c.monitor, c.opts.RequestTimeout)
	c.registry.Register(server.ServerID, sess)
	if c.monitor != nil {
		c.monitor.IncConnectedServers()
	}
	logger.Log.Infof("Connector %s: session %s established for server %s", c.url, sess.ID, server.ServerID)

	if err := conn.Send(EventAuthSuccess, authSuccessPayload{ServerID: server.ServerID}); err != nil {
		logger.Log.Warnf("Connector %s: failed to send auth:success: %v", c.url, err)
	}
	if err := conn.Send(EventServerInfo, serverInfoPayload{
		ServerID:    server.ServerID,
		PlayerCount: c.registry.PlayerCount(server.ServerID),
	}); err != nil {
		logger.Log.Warnf("Connector %s: failed to send server:info: %v", c.url, err)
	}

	sess.Run(ctx)

	c.registry.Unregister(server.ServerID, sess)
	if c.monitor != nil {
		c.monitor.DecConnectedServers()
	}
	if _, err := c.registry.SweepServer(server.ServerID); err != nil {
		logger.Log.Errorf("Connector %s: sweep failed for %s: %v", c.url, server.ServerID, err)
	}
	logger.Log.Infof("Connector %s: session %s closed", c.url, sess.ID)
	return nil
}
