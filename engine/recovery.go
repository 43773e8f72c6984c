// engine/recovery.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wfunc/playersync/models"
	"github.com/wfunc/playersync/persistence"
	"gorm.io/gorm"
)

// CrashRecovery ingests a document left behind by a dead session. Stale
// documents are skipped; sequence and delta violations flag instead of
// rejecting because the originating session can no longer retry.
func (e *SyncEngine) CrashRecovery(ctx context.Context, doc *models.PlayerDocument, server *models.GameServer) (*RecoveryResult, error) {
	return e.recover(ctx, doc, server, false)
}

// UpsertPlayer is the offline-tooling entry point: identical to
// CrashRecovery but creates the player when it has never been seen.
func (e *SyncEngine) UpsertPlayer(ctx context.Context, doc *models.PlayerDocument, server *models.GameServer) (*RecoveryResult, error) {
	return e.recover(ctx, doc, server, true)
}

func (e *SyncEngine) recover(ctx context.Context, doc *models.PlayerDocument, server *models.GameServer, createMissing bool) (*RecoveryResult, error) {
	if errs := doc.Validate(); len(errs) > 0 {
		return &RecoveryResult{Status: StatusValidationFailed, SteamID: doc.SteamID, Errors: errs}, nil
	}

	start := e.now()
	var result *RecoveryResult

	err := e.store.Transaction(func(tx *gorm.DB) error {
		var player *models.Player
		var err error
		if createMissing {
			player, _, err = e.store.FindOrCreatePlayer(tx, doc.SteamID)
		} else {
			player, err = e.store.FindPlayer(tx, doc.SteamID)
		}
		if err != nil {
			if errors.Is(err, persistence.ErrRecordNotFound) {
				result = &RecoveryResult{Status: StatusPlayerNotFound, SteamID: doc.SteamID}
				return nil
			}
			return err
		}

		stored := player.SyncSeq
		if doc.SyncSeq < stored {
			// 落后于已持久化的进度，丢弃但留痕
			entry := models.AuditEntry{
				ServerID:      server.ServerID,
				PlayerSteamID: doc.SteamID,
				Kind:          models.AuditKindCrashRecovery,
				SeqBefore:     &stored,
				SeqAfter:      stored,
				FlagReason:    "stale_data",
				DurationMs:    durationMs(start, e.now()),
			}
			if err := e.sink.Record(tx, &entry); err != nil {
				return err
			}
			result = &RecoveryResult{
				Status:  StatusSkipped,
				SteamID: doc.SteamID,
				SyncSeq: stored,
				Skipped: true,
				Reason:  "stale_data",
			}
			return nil
		}

		var reasons []string
		if doc.SyncSeq-stored > RecoverySeqTolerance {
			reasons = append(reasons, fmt.Sprintf("Sync sequence jump of %d exceeds recovery tolerance %d", doc.SyncSeq-stored, RecoverySeqTolerance))
		}

		agg, err := e.store.FindPlayerAggregate(tx, doc.SteamID)
		if err != nil {
			return err
		}
		beforeSummary := summarizeStats(stored, &agg.Stats)
		reasons = append(reasons, checkDeltas(&agg.Stats, &doc.Stats)...)

		flagged := len(reasons) > 0
		flagReason := strings.Join(reasons, "; ")

		// 会话已死，写入前无条件解除锁
		now := e.now()
		if err := e.store.ClearSession(tx, player.ID); err != nil {
			return err
		}
		player.ActiveServerID = nil
		player.ActiveSince = nil

		if err := e.applyDocument(tx, player, doc, now, true); err != nil {
			return err
		}

		entry := models.AuditEntry{
			ServerID:      server.ServerID,
			PlayerSteamID: doc.SteamID,
			Kind:          models.AuditKindCrashRecovery,
			SeqBefore:     &stored,
			SeqAfter:      doc.SyncSeq,
			BeforeSummary: beforeSummary,
			AfterSummary:  summarizeDocStats(doc.SyncSeq, &doc.Stats),
			Flagged:       flagged,
			FlagReason:    flagReason,
			DurationMs:    durationMs(start, e.now()),
		}
		if err := e.sink.Record(tx, &entry); err != nil {
			return err
		}

		result = &RecoveryResult{
			Status:     StatusOK,
			SteamID:    doc.SteamID,
			SyncSeq:    doc.SyncSeq,
			Flagged:    flagged,
			FlagReason: flagReason,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// BatchCrashRecovery processes up to BatchRecoveryLimit documents
// independently; one failing entry never aborts the rest.
func (e *SyncEngine) BatchCrashRecovery(ctx context.Context, docs []*models.PlayerDocument, server *models.GameServer) (*BatchResult, error) {
	if len(docs) > BatchRecoveryLimit {
		return nil, fmt.Errorf("batch of %d exceeds limit %d", len(docs), BatchRecoveryLimit)
	}

	batch := BatchResult{Total: len(docs)}
	for _, doc := range docs {
		res, err := e.CrashRecovery(ctx, doc, server)
		if err != nil {
			batch.Failed++
			batch.Results = append(batch.Results, RecoveryResult{
				Status:  StatusTransient,
				SteamID: doc.SteamID,
				Errors:  []string{err.Error()},
			})
			continue
		}
		switch res.Status {
		case StatusOK, StatusSkipped:
			batch.Successful++
		default:
			batch.Failed++
		}
		batch.Results = append(batch.Results, *res)
	}
	return &batch, nil
}
