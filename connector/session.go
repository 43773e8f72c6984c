// connector/session.go
package connector

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/wfunc/playersync/engine"
	"github.com/wfunc/playersync/logger"
	"github.com/wfunc/playersync/models"
	"github.com/wfunc/playersync/monitor"
	"github.com/wfunc/playersync/registry"
)

// ErrRequestCancelled resolves pending request slots when a session closes.
var ErrRequestCancelled = errors.New("request cancelled: session closed")

// ErrRequestTimeout bounds the wait on a game-server response.
var ErrRequestTimeout = errors.New("request timed out")

// Session 一条已认证的游戏服务器连接。两种接入方向共用同一事件循环
type Session struct {
	ID     string
	Server *models.GameServer

	conn           Conn
	engine         *engine.SyncEngine
	registry       *registry.Registry
	monitor        *monitor.Monitor
	requestTimeout time.Duration

	mu      sync.Mutex
	pending map[string]chan json.RawMessage
	closed  bool
}

func NewSession(id string, conn Conn, server *models.GameServer, eng *engine.SyncEngine, reg *registry.Registry, mon *monitor.Monitor, requestTimeout time.Duration) *Session {
	return &Session{
		ID:             id,
		Server:         server,
		conn:           conn,
		engine:         eng,
		registry:       reg,
		monitor:        mon,
		requestTimeout: requestTimeout,
		pending:        make(map[string]chan json.RawMessage),
	}
}

// Close 实现 registry.Conn，并以取消错误释放所有挂起请求
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for key, ch := range s.pending {
		close(ch)
		delete(s.pending, key)
	}
	s.mu.Unlock()
	return s.conn.Close()
}

// Run 会话事件循环。返回后调用方负责注销与清扫
func (s *Session) Run(ctx context.Context) {
	defer s.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := s.conn.ReadFrame()
		if err != nil {
			return
		}
		s.handleFrame(ctx, frame)
	}
}

func (s *Session) handleFrame(ctx context.Context, frame *Frame) {
	start := time.Now()
	if s.monitor != nil {
		s.monitor.IncMessagesReceived()
		defer func() {
			s.monitor.ObserveSyncLatency(time.Since(start))
		}()
	}

	switch frame.Event {
	case EventHeartbeat:
		s.registry.TouchServer(s.Server.ServerID, time.Now())
		s.send(EventHeartbeat, nil)
	case EventPlayerConnect:
		s.handleConnect(ctx, frame.Data)
	case EventPlayerSync:
		s.handleSync(ctx, frame.Data)
	case EventPlayerDisconnect:
		s.handleDisconnect(ctx, frame.Data)
	case EventCrashRecovery:
		s.handleCrashRecovery(ctx, frame.Data)
	case EventBatchCrashRecovery:
		s.handleBatchCrashRecovery(ctx, frame.Data)
	case EventPlayerState:
		s.resolvePending(frame.Data)
	default:
		logger.Log.Warnf("Session %s: unknown event %q", s.ID, frame.Event)
	}
}

func (s *Session) handleConnect(ctx context.Context, data json.RawMessage) {
	var req engine.ConnectRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.send(EventPlayerError, playerErrorPayload{Error: "malformed player:connect payload"})
		return
	}

	result, err := s.engine.Connect(ctx, req, s.Server)
	if err != nil {
		logger.Log.Errorf("Session %s: connect failed for %s: %v", s.ID, req.SteamID, err)
		s.send(EventPlayerError, playerErrorPayload{SteamID: req.SteamID, Error: "transient"})
		return
	}

	switch result.Status {
	case engine.StatusOK:
		s.registry.TrackPlayer(s.Server.ServerID, req.SteamID)
		if s.monitor != nil {
			s.monitor.SetActivePlayers(s.Server.ServerID, s.registry.PlayerCount(s.Server.ServerID))
		}
		s.send(EventPlayerData, playerDataPayload{
			SteamID: req.SteamID,
			Data:    result.Document,
			SyncSeq: result.SyncSeq,
		})
	case engine.StatusActiveElsewhere:
		s.send(EventPlayerWait, playerWaitPayload{
			SteamID:      req.SteamID,
			ActiveServer: result.ActiveServer,
			RetryAfterMs: engine.ConnectRetryAfterMs,
			MaxRetries:   engine.ConnectMaxRetries,
		})
	default:
		s.send(EventPlayerError, playerErrorPayload{
			SteamID: req.SteamID,
			Error:   string(result.Status),
			Errors:  result.Errors,
		})
	}
}

func (s *Session) handleSync(ctx context.Context, data json.RawMessage) {
	var doc models.PlayerDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.send(EventSyncError, syncErrorPayload{Error: "malformed player:sync payload"})
		return
	}

	result, err := s.engine.PeriodicSync(ctx, &doc, s.Server)
	if err != nil {
		logger.Log.Errorf("Session %s: sync failed for %s: %v", s.ID, doc.SteamID, err)
		s.send(EventSyncError, syncErrorPayload{SteamID: doc.SteamID, Error: "transient"})
		return
	}

	if result.Status != engine.StatusOK {
		s.send(EventSyncError, s.syncError(doc.SteamID, result))
		return
	}
	if result.Flagged && s.monitor != nil {
		s.monitor.IncFlaggedSyncs()
	}
	s.send(EventSyncAck, syncAckPayload{
		SteamID: doc.SteamID,
		SyncSeq: result.SyncSeq,
		Flagged: result.Flagged,
	})
}

func (s *Session) handleDisconnect(ctx context.Context, data json.RawMessage) {
	var doc models.PlayerDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.send(EventDisconnectError, syncErrorPayload{Error: "malformed player:disconnect payload"})
		return
	}

	result, err := s.engine.Disconnect(ctx, &doc, s.Server)
	if err != nil {
		logger.Log.Errorf("Session %s: disconnect failed for %s: %v", s.ID, doc.SteamID, err)
		s.send(EventDisconnectError, syncErrorPayload{SteamID: doc.SteamID, Error: "transient"})
		return
	}

	if result.Status != engine.StatusOK {
		s.send(EventDisconnectError, s.syncError(doc.SteamID, result))
		return
	}
	s.registry.ReleasePlayer(s.Server.ServerID, doc.SteamID)
	if s.monitor != nil {
		if result.Flagged {
			s.monitor.IncFlaggedSyncs()
		}
		s.monitor.SetActivePlayers(s.Server.ServerID, s.registry.PlayerCount(s.Server.ServerID))
	}
	s.send(EventDisconnectAck, disconnectAckPayload{
		SteamID: doc.SteamID,
		SyncSeq: result.SyncSeq,
	})
}

func (s *Session) handleCrashRecovery(ctx context.Context, data json.RawMessage) {
	var doc models.PlayerDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.send(EventRecoveryError, playerErrorPayload{Error: "malformed player:crash-recovery payload"})
		return
	}

	result, err := s.engine.CrashRecovery(ctx, &doc, s.Server)
	if err != nil {
		logger.Log.Errorf("Session %s: recovery failed for %s: %v", s.ID, doc.SteamID, err)
		s.send(EventRecoveryError, playerErrorPayload{SteamID: doc.SteamID, Error: "transient"})
		return
	}
	s.sendRecoveryResult(result)
}

func (s *Session) handleBatchCrashRecovery(ctx context.Context, data json.RawMessage) {
	var payload batchPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.send(EventRecoveryError, playerErrorPayload{Error: "malformed batch payload"})
		return
	}

	batch, err := s.engine.BatchCrashRecovery(ctx, payload.Players, s.Server)
	if err != nil {
		logger.Log.Errorf("Session %s: batch recovery rejected: %v", s.ID, err)
		s.send(EventRecoveryError, playerErrorPayload{Error: err.Error()})
		return
	}

	for i := range batch.Results {
		s.sendRecoveryResult(&batch.Results[i])
	}
	s.send(EventBatchComplete, batchCompletePayload{
		Total:      batch.Total,
		Successful: batch.Successful,
		Failed:     batch.Failed,
	})
}

func (s *Session) sendRecoveryResult(result *engine.RecoveryResult) {
	switch result.Status {
	case engine.StatusOK, engine.StatusSkipped:
		if result.Flagged && s.monitor != nil {
			s.monitor.IncFlaggedSyncs()
		}
		s.registry.ReleasePlayer(s.Server.ServerID, result.SteamID)
		s.send(EventRecoveryAck, recoveryAckPayload{
			SteamID: result.SteamID,
			SyncSeq: result.SyncSeq,
			Skipped: result.Skipped,
			Reason:  result.Reason,
			Flagged: result.Flagged,
		})
	default:
		s.send(EventRecoveryError, playerErrorPayload{
			SteamID: result.SteamID,
			Error:   string(result.Status),
			Errors:  result.Errors,
		})
	}
}

func (s *Session) syncError(steamID string, result *engine.SyncResult) syncErrorPayload {
	payload := syncErrorPayload{
		SteamID: steamID,
		Error:   string(result.Status),
		Errors:  result.Errors,
	}
	if result.Status == engine.StatusInvalidSyncSeq {
		expected := result.ExpectedSeq
		payload.ExpectedSeq = &expected
	}
	if result.Status == engine.StatusNotSessionOwner {
		payload.ActiveServer = result.ActiveServer
	}
	return payload
}

func (s *Session) send(event string, data interface{}) {
	if err := s.conn.Send(event, data); err != nil {
		logger.Log.Warnf("Session %s: failed to send %s: %v", s.ID, event, err)
	}
}

// RequestPlayerState 向游戏服务器索取某玩家的会话内实时状态。
// 每个 steamId 同时最多一个挂起槽位，超时或会话关闭即失败
func (s *Session) RequestPlayerState(ctx context.Context, steamID string) (json.RawMessage, error) {
	ch := make(chan json.RawMessage, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrRequestCancelled
	}
	if _, busy := s.pending[steamID]; busy {
		s.mu.Unlock()
		return nil, errors.New("request already pending for " + steamID)
	}
	s.pending[steamID] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, steamID)
		s.mu.Unlock()
	}()

	if err := s.conn.Send(EventPlayerRequest, playerRequestPayload{SteamID: steamID}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.requestTimeout)
	defer timer.Stop()

	select {
	case data, open := <-ch:
		if !open {
			return nil, ErrRequestCancelled
		}
		return data, nil
	case <-timer.C:
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) resolvePending(data json.RawMessage) {
	var payload playerRequestPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	s.mu.Lock()
	ch, exists := s.pending[payload.SteamID]
	if exists {
		delete(s.pending, payload.SteamID)
	}
	s.mu.Unlock()

	if exists {
		ch <- data
		close(ch)
	}
}
