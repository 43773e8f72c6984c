package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/wfunc/playersync/audit"
	"github.com/wfunc/playersync/engine"
	"github.com/wfunc/playersync/logger"
	"github.com/wfunc/playersync/models"
	"github.com/wfunc/playersync/persistence"
	"github.com/wfunc/playersync/registry"
)

func init() {
	logger.Init()
}

// fakeConn is a test double for the Conn interface.
type fakeConn struct {
	frames chan *Frame
	sent   chan Frame

	mu     sync.Mutex
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan *Frame, 16),
		sent:   make(chan Frame, 64),
	}
}

func (f *fakeConn) Send(event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	f.sent <- Frame{Event: event, Data: raw}
	return nil
}

func (f *fakeConn) ReadFrame() (*Frame, error) {
	frame, open := <-f.frames
	if !open {
		return nil, io.EOF
	}
	return frame, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.frames)
	}
	return nil
}

func (f *fakeConn) RemoteAddr() net.Addr              { return &net.TCPAddr{} }
func (f *fakeConn) SetReadDeadline(t time.Time) error { return nil }

func (f *fakeConn) push(t *testing.T, event string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", event, err)
	}
	f.frames <- &Frame{Event: event, Data: raw}
}

func (f *fakeConn) waitSent(t *testing.T, event string) json.RawMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-f.sent:
			if frame.Event == event {
				return frame.Data
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

type sessionHarness struct {
	engine   *engine.SyncEngine
	registry *registry.Registry
	store    persistence.Store
}

func newHarness(t *testing.T) *sessionHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	store, err := persistence.NewGormSQLite(dsn)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	return &sessionHarness{
		engine:   engine.NewSyncEngine(store, audit.NewMemorySink()),
		registry: registry.NewRegistry(store),
		store:    store,
	}
}

func (h *sessionHarness) startSession(t *testing.T, serverID string) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	server := &models.GameServer{ServerID: serverID, Active: true}
	sess := NewSession("sess-"+serverID, conn, server, h.engine, h.registry, nil, 200*time.Millisecond)
	h.registry.Register(serverID, sess)
	go sess.Run(context.Background())
	t.Cleanup(func() { sess.Close() })
	return sess, conn
}

const steamX = "76561198000000001"

func fullDoc(steamID string, seq int64, currency int64) map[string]interface{} {
	return map[string]interface{}{
		"v": 2, "steamId": steamID, "syncSeq": seq,
		"stats": map[string]interface{}{
			"currency": currency, "currencyTotal": currency,
		},
	}
}

func TestSessionConnectFlow(t *testing.T) {
	h := newHarness(t)
	_, conn := h.startSession(t, "serverA")

	conn.push(t, EventPlayerConnect, map[string]string{"steamId": steamX})

	var payload playerDataPayload
	if err := json.Unmarshal(conn.waitSent(t, EventPlayerData), &payload); err != nil {
		t.Fatalf("bad player:data payload: %v", err)
	}
	if payload.SteamID != steamX || payload.SyncSeq != 0 {
		t.Errorf("unexpected player:data: %+v", payload)
	}
	if payload.Data == nil || payload.Data.Tracking != nil {
		t.Error("player:data must carry the document without tracking")
	}
	if h.registry.PlayerCount("serverA") != 1 {
		t.Error("connect should track the player in the registry")
	}
}

func TestSessionConnectContention(t *testing.T) {
	h := newHarness(t)
	_, connA := h.startSession(t, "serverA")
	_, connB := h.startSession(t, "serverB")

	connA.push(t, EventPlayerConnect, map[string]string{"steamId": steamX})
	connA.waitSent(t, EventPlayerData)

	connB.push(t, EventPlayerConnect, map[string]string{"steamId": steamX})

	var wait playerWaitPayload
	if err := json.Unmarshal(connB.waitSent(t, EventPlayerWait), &wait); err != nil {
		t.Fatalf("bad player:wait payload: %v", err)
	}
	if wait.ActiveServer != "serverA" {
		t.Errorf("expected activeServer serverA, got %s", wait.ActiveServer)
	}
	if wait.RetryAfterMs != engine.ConnectRetryAfterMs || wait.MaxRetries != engine.ConnectMaxRetries {
		t.Errorf("unexpected retry advice: %+v", wait)
	}
}

func TestSessionSyncAckAndErrors(t *testing.T) {
	h := newHarness(t)
	_, conn := h.startSession(t, "serverA")

	conn.push(t, EventPlayerConnect, map[string]string{"steamId": steamX})
	conn.waitSent(t, EventPlayerData)

	conn.push(t, EventPlayerSync, fullDoc(steamX, 1, 100))
	var ack syncAckPayload
	json.Unmarshal(conn.waitSent(t, EventSyncAck), &ack)
	if ack.SyncSeq != 1 || ack.Flagged {
		t.Errorf("unexpected sync:ack: %+v", ack)
	}

	// Replay fails with invalid_sync_seq
	conn.push(t, EventPlayerSync, fullDoc(steamX, 1, 100))
	var syncErr syncErrorPayload
	json.Unmarshal(conn.waitSent(t, EventSyncError), &syncErr)
	if syncErr.Error != string(engine.StatusInvalidSyncSeq) {
		t.Errorf("expected invalid_sync_seq, got %q", syncErr.Error)
	}
	if syncErr.ExpectedSeq == nil || *syncErr.ExpectedSeq != 1 {
		t.Errorf("expected expectedSeq 1, got %+v", syncErr.ExpectedSeq)
	}
}

func TestSessionFlaggedSync(t *testing.T) {
	h := newHarness(t)
	_, conn := h.startSession(t, "serverA")

	conn.push(t, EventPlayerConnect, map[string]string{"steamId": steamX})
	conn.waitSent(t, EventPlayerData)

	conn.push(t, EventPlayerSync, fullDoc(steamX, 1, 60000))
	var ack syncAckPayload
	json.Unmarshal(conn.waitSent(t, EventSyncAck), &ack)
	if !ack.Flagged {
		t.Error("60k currency gain should flag the sync")
	}
}

func TestSessionDisconnectFlow(t *testing.T) {
	h := newHarness(t)
	_, conn := h.startSession(t, "serverA")

	conn.push(t, EventPlayerConnect, map[string]string{"steamId": steamX})
	conn.waitSent(t, EventPlayerData)

	conn.push(t, EventPlayerDisconnect, fullDoc(steamX, 1, 100))
	var ack disconnectAckPayload
	json.Unmarshal(conn.waitSent(t, EventDisconnectAck), &ack)
	if ack.SyncSeq != 1 {
		t.Errorf("unexpected disconnect:ack: %+v", ack)
	}
	if h.registry.PlayerCount("serverA") != 0 {
		t.Error("disconnect should release the player from the registry")
	}
}

func TestSessionCrashRecoverySkipped(t *testing.T) {
	h := newHarness(t)
	_, conn := h.startSession(t, "serverA")

	conn.push(t, EventPlayerConnect, map[string]string{"steamId": steamX})
	conn.waitSent(t, EventPlayerData)
	conn.push(t, EventPlayerSync, fullDoc(steamX, 10, 0))
	conn.waitSent(t, EventSyncAck)

	conn.push(t, EventCrashRecovery, fullDoc(steamX, 7, 0))
	var ack recoveryAckPayload
	json.Unmarshal(conn.waitSent(t, EventRecoveryAck), &ack)
	if !ack.Skipped || ack.Reason != "stale_data" {
		t.Errorf("expected stale skip, got %+v", ack)
	}
}

func TestSessionBatchCrashRecovery(t *testing.T) {
	h := newHarness(t)
	_, conn := h.startSession(t, "serverA")

	steamY := "76561198000000002"
	for _, id := range []string{steamX, steamY} {
		conn.push(t, EventPlayerConnect, map[string]string{"steamId": id})
		conn.waitSent(t, EventPlayerData)
	}

	conn.push(t, EventBatchCrashRecovery, map[string]interface{}{
		"players": []interface{}{
			fullDoc(steamX, 1, 100),
			fullDoc(steamY, 2, 200),
			fullDoc("76561198000000003", 1, 0), // unknown player
		},
	})

	var complete batchCompletePayload
	json.Unmarshal(conn.waitSent(t, EventBatchComplete), &complete)
	if complete.Total != 3 || complete.Successful != 2 || complete.Failed != 1 {
		t.Errorf("unexpected batch summary: %+v", complete)
	}
}

func TestSessionUnknownEventIgnored(t *testing.T) {
	h := newHarness(t)
	_, conn := h.startSession(t, "serverA")

	conn.push(t, "bogus:event", map[string]string{})
	conn.push(t, EventPlayerConnect, map[string]string{"steamId": steamX})
	conn.waitSent(t, EventPlayerData)
}

func TestRequestPlayerStateTimeout(t *testing.T) {
	h := newHarness(t)
	sess, _ := h.startSession(t, "serverA")

	_, err := sess.RequestPlayerState(context.Background(), steamX)
	if err != ErrRequestTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestRequestPlayerStateResolved(t *testing.T) {
	h := newHarness(t)
	sess, conn := h.startSession(t, "serverA")

	done := make(chan error, 1)
	go func() {
		_, err := sess.RequestPlayerState(context.Background(), steamX)
		done <- err
	}()

	// The game server answers with player:state for the same steamId
	conn.waitSent(t, EventPlayerRequest)
	conn.push(t, EventPlayerState, map[string]string{"steamId": steamX})

	if err := <-done; err != nil {
		t.Fatalf("expected resolved request, got %v", err)
	}
}

func TestRequestPlayerStateCancelledOnClose(t *testing.T) {
	h := newHarness(t)
	sess, conn := h.startSession(t, "serverA")

	done := make(chan error, 1)
	go func() {
		_, err := sess.RequestPlayerState(context.Background(), steamX)
		done <- err
	}()
	conn.waitSent(t, EventPlayerRequest)

	sess.Close()

	if err := <-done; err != ErrRequestCancelled {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
