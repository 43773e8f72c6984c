// registry/registry.go
package registry

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/wfunc/playersync/logger"
	"github.com/wfunc/playersync/models"
	"github.com/wfunc/playersync/persistence"
)

var (
	ErrTokenNotFound  = errors.New("token not found")
	ErrServerInactive = errors.New("server is inactive")
)

// Conn 注册表持有的连接句柄，由 connector 实现
type Conn interface {
	Close() error
}

// Registry 令牌→服务器记录、服务器→在线连接、每服务器活跃玩家索引
type Registry struct {
	store persistence.Store

	mu            sync.RWMutex
	connections   map[string]Conn
	activePlayers map[string]map[string]struct{} // serverID -> steamIDs
}

func NewRegistry(store persistence.Store) *Registry {
	return &Registry{
		store:         store,
		connections:   make(map[string]Conn),
		activePlayers: make(map[string]map[string]struct{}),
	}
}

// ResolveToken 校验接入令牌。flagged 仅记录日志，inactive 拒绝接入
func (r *Registry) ResolveToken(token string) (*models.GameServer, error) {
	server, err := r.store.ResolveToken(token)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	if !server.Active {
		return nil, ErrServerInactive
	}
	if server.Flagged {
		logger.Log.Warnf("Server %s is flagged: %s", server.ServerID, server.FlagReason)
	}
	return server, nil
}

// Register 绑定服务器在线连接，替换旧连接
func (r *Registry) Register(serverID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, exists := r.connections[serverID]; exists && old != conn {
		old.Close()
	}
	r.connections[serverID] = conn
	if _, exists := r.activePlayers[serverID]; !exists {
		r.activePlayers[serverID] = make(map[string]struct{})
	}
}

// Unregister 只在句柄仍属于该连接时移除，避免重连竞争误删
func (r *Registry) Unregister(serverID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, exists := r.connections[serverID]; exists && current == conn {
		delete(r.connections, serverID)
		delete(r.activePlayers, serverID)
	}
}

func (r *Registry) Connection(serverID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.connections[serverID]
	return conn, exists
}

// LiveServerIDs 当前有在线连接的服务器集合快照
func (r *Registry) LiveServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) TrackPlayer(serverID, steamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	players, exists := r.activePlayers[serverID]
	if !exists {
		players = make(map[string]struct{})
		r.activePlayers[serverID] = players
	}
	players[steamID] = struct{}{}
}

func (r *Registry) ReleasePlayer(serverID, steamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if players, exists := r.activePlayers[serverID]; exists {
		delete(players, steamID)
	}
}

func (r *Registry) PlayerCount(serverID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.activePlayers[serverID])
}

// SweepServer 服务器断开后清除其持有的全部会话锁
func (r *Registry) SweepServer(serverID string) (int64, error) {
	r.mu.Lock()
	delete(r.activePlayers, serverID)
	r.mu.Unlock()

	swept, err := r.store.SweepServer(serverID)
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		logger.Log.Infof("Swept %d session locks for server %s", swept, serverID)
	}
	return swept, nil
}

// TouchServer 记录服务器最近一次通信时间
func (r *Registry) TouchServer(serverID string, seen time.Time) {
	if err := r.store.TouchServer(serverID, seen); err != nil {
		logger.Log.Warnf("Failed to touch server %s: %v", serverID, err)
	}
}

// GenerateToken 产生 256 位熵的 URL 安全令牌
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
