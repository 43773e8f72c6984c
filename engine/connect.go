// engine/connect.go
package engine

import (
	"context"
	"fmt"

	"github.com/wfunc/playersync/models"
	"gorm.io/gorm"
)

// Connect claims the session lock for the requesting server and returns the
// player's document without tracking. A player owned by another server
// inside the ownership window yields ActiveElsewhere with no state change.
func (e *SyncEngine) Connect(ctx context.Context, req ConnectRequest, server *models.GameServer) (*ConnectResult, error) {
	if !models.ValidSteamID(req.SteamID) {
		return &ConnectResult{
			Status: StatusValidationFailed,
			Errors: []string{fmt.Sprintf("steamId %q is not a 17-digit identifier", req.SteamID)},
		}, nil
	}

	start := e.now()
	var result *ConnectResult

	err := e.store.Transaction(func(tx *gorm.DB) error {
		player, _, err := e.store.FindOrCreatePlayer(tx, req.SteamID)
		if err != nil {
			return err
		}

		now := e.now()
		if player.ActiveServerID != nil && *player.ActiveServerID != server.ServerID && player.ActiveSince != nil {
			if now.Sub(*player.ActiveSince) < ActiveServerTimeout {
				result = &ConnectResult{
					Status:       StatusActiveElsewhere,
					ActiveServer: *player.ActiveServerID,
					ActiveSince:  *player.ActiveSince,
					WaitMs:       ActiveServerTimeout.Milliseconds(),
				}
				return nil
			}
			// 持有方超时，视为会话已过期
		}

		claimed, err := e.store.ClaimSession(tx, player.ID, server.ServerID, now, now.Add(-ActiveServerTimeout))
		if err != nil {
			return err
		}
		if !claimed {
			// 并发 Connect 抢占失败，重读锁信息返回等待
			fresh, err := e.store.FindPlayer(tx, req.SteamID)
			if err != nil {
				return err
			}
			result = &ConnectResult{
				Status: StatusActiveElsewhere,
				WaitMs: ActiveServerTimeout.Milliseconds(),
			}
			if fresh.ActiveServerID != nil {
				result.ActiveServer = *fresh.ActiveServerID
			}
			if fresh.ActiveSince != nil {
				result.ActiveSince = *fresh.ActiveSince
			}
			return nil
		}

		if req.EOSID != nil {
			player.EOSID = req.EOSID
		}
		if req.Name != nil {
			player.Name = req.Name
		}
		player.ActiveServerID = &server.ServerID
		player.ActiveSince = &now
		if err := e.store.SavePlayer(tx, player); err != nil {
			return err
		}

		agg, err := e.store.FindPlayerAggregate(tx, req.SteamID)
		if err != nil {
			return err
		}
		doc := BuildDocument(agg, false)

		entry := models.AuditEntry{
			ServerID:      server.ServerID,
			PlayerSteamID: req.SteamID,
			Kind:          models.AuditKindConnect,
			SeqBefore:     nil,
			SeqAfter:      player.SyncSeq,
			AfterSummary:  summarizeStats(player.SyncSeq, &agg.Stats),
			DurationMs:    durationMs(start, e.now()),
		}
		if err := e.sink.Record(tx, &entry); err != nil {
			return err
		}

		result = &ConnectResult{
			Status:   StatusOK,
			Document: doc,
			SyncSeq:  player.SyncSeq,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
