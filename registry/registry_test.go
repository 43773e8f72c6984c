package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/wfunc/playersync/audit"
	"github.com/wfunc/playersync/engine"
	"github.com/wfunc/playersync/logger"
	"github.com/wfunc/playersync/models"
	"github.com/wfunc/playersync/persistence"
)

func init() {
	logger.Init()
}

type mockConn struct{ closed bool }

func (m *mockConn) Close() error {
	m.closed = true
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, persistence.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	store, err := persistence.NewGormSQLite(dsn)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	return NewRegistry(store), store
}

func TestResolveToken(t *testing.T) {
	reg, store := newTestRegistry(t)

	token, err := GenerateToken()
	if err != nil {
		t.Fatalf("token generation failed: %v", err)
	}
	if err := store.CreateGameServer(&models.GameServer{
		ServerID: "serverA", APIToken: token, Active: true,
	}); err != nil {
		t.Fatalf("create server failed: %v", err)
	}

	server, err := reg.ResolveToken(token)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if server.ServerID != "serverA" {
		t.Errorf("expected serverA, got %s", server.ServerID)
	}

	if _, err := reg.ResolveToken("unknown"); err != ErrTokenNotFound {
		t.Errorf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestResolveTokenInactive(t *testing.T) {
	reg, store := newTestRegistry(t)

	store.CreateGameServer(&models.GameServer{
		ServerID: "serverB", APIToken: "tok-b", Active: false,
	})
	if _, err := reg.ResolveToken("tok-b"); err != ErrServerInactive {
		t.Errorf("inactive server must be rejected, got %v", err)
	}
}

func TestResolveTokenFlaggedIsNonBlocking(t *testing.T) {
	reg, store := newTestRegistry(t)

	store.CreateGameServer(&models.GameServer{
		ServerID: "serverC", APIToken: "tok-c", Active: true,
		Flagged: true, FlagReason: "suspicious deltas",
	})
	server, err := reg.ResolveToken("tok-c")
	if err != nil {
		t.Fatalf("flagged server must still resolve, got %v", err)
	}
	if !server.Flagged {
		t.Error("flag should be visible on the record")
	}
}

func TestGenerateTokenShape(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		token, err := GenerateToken()
		if err != nil {
			t.Fatalf("token generation failed: %v", err)
		}
		// 32 bytes base64url without padding
		if len(token) != 43 {
			t.Fatalf("expected 43-char token, got %d", len(token))
		}
		for _, r := range token {
			if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
				t.Fatalf("token contains non-URL-safe character %q", r)
			}
		}
		if _, dup := seen[token]; dup {
			t.Fatal("duplicate token generated")
		}
		seen[token] = struct{}{}
	}
}

func TestRegisterUnregister(t *testing.T) {
	reg, _ := newTestRegistry(t)

	conn1 := &mockConn{}
	reg.Register("serverA", conn1)
	if _, exists := reg.Connection("serverA"); !exists {
		t.Fatal("connection should be registered")
	}

	// A replacing connection closes the old one
	conn2 := &mockConn{}
	reg.Register("serverA", conn2)
	if !conn1.closed {
		t.Error("old connection should be closed on replacement")
	}

	// Unregistering a stale handle must not drop the live one
	reg.Unregister("serverA", conn1)
	if _, exists := reg.Connection("serverA"); !exists {
		t.Error("stale unregister must not remove the live connection")
	}

	reg.Unregister("serverA", conn2)
	if _, exists := reg.Connection("serverA"); exists {
		t.Error("connection should be gone")
	}
}

func TestTrackAndReleasePlayers(t *testing.T) {
	reg, _ := newTestRegistry(t)

	reg.Register("serverA", &mockConn{})
	reg.TrackPlayer("serverA", "76561198000000001")
	reg.TrackPlayer("serverA", "76561198000000002")
	reg.TrackPlayer("serverA", "76561198000000002") // duplicate

	if count := reg.PlayerCount("serverA"); count != 2 {
		t.Errorf("expected 2 active players, got %d", count)
	}

	reg.ReleasePlayer("serverA", "76561198000000001")
	if count := reg.PlayerCount("serverA"); count != 1 {
		t.Errorf("expected 1 active player, got %d", count)
	}
}

func TestSweepServer(t *testing.T) {
	reg, store := newTestRegistry(t)

	// Pin five players to serverA through the engine
	eng := engine.NewSyncEngine(store, audit.NewMemorySink())
	server := &models.GameServer{ServerID: "serverA", Active: true}
	for i := 1; i <= 5; i++ {
		steamID := fmt.Sprintf("7656119800000000%d", i)
		res, err := eng.Connect(context.Background(), engine.ConnectRequest{SteamID: steamID}, server)
		if err != nil || res.Status != engine.StatusOK {
			t.Fatalf("connect %s failed: %v %v", steamID, err, res)
		}
		reg.TrackPlayer("serverA", steamID)
	}

	swept, err := reg.SweepServer("serverA")
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if swept != 5 {
		t.Errorf("expected 5 swept sessions, got %d", swept)
	}
	if reg.PlayerCount("serverA") != 0 {
		t.Error("sweep should clear the active player index")
	}

	// Every player lock is cleared
	for i := 1; i <= 5; i++ {
		steamID := fmt.Sprintf("7656119800000000%d", i)
		res, err := eng.Connect(context.Background(), engine.ConnectRequest{SteamID: steamID},
			&models.GameServer{ServerID: "serverB", Active: true})
		if err != nil || res.Status != engine.StatusOK {
			t.Errorf("player %s should be claimable after sweep: %v %v", steamID, err, res)
		}
	}
}

func TestTouchServer(t *testing.T) {
	reg, store := newTestRegistry(t)

	store.CreateGameServer(&models.GameServer{ServerID: "serverA", APIToken: "tok", Active: true})
	reg.TouchServer("serverA", time.Now())

	server, err := store.ResolveToken("tok")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if server.LastSeen == nil {
		t.Error("touch should stamp lastSeen")
	}
}
