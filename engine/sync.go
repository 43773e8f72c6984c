// engine/sync.go
package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/wfunc/playersync/models"
	"github.com/wfunc/playersync/persistence"
	"gorm.io/gorm"
)

// PeriodicSync applies an in-session document. The sequence must advance
// past the stored value without jumping further than the tolerance.
func (e *SyncEngine) PeriodicSync(ctx context.Context, doc *models.PlayerDocument, server *models.GameServer) (*SyncResult, error) {
	return e.applySync(ctx, doc, server, models.AuditKindPeriodic, false)
}

// Disconnect applies the final document of a session and releases the
// session lock in the same transaction.
func (e *SyncEngine) Disconnect(ctx context.Context, doc *models.PlayerDocument, server *models.GameServer) (*SyncResult, error) {
	return e.applySync(ctx, doc, server, models.AuditKindDisconnect, true)
}

func (e *SyncEngine) applySync(ctx context.Context, doc *models.PlayerDocument, server *models.GameServer, kind string, clearSession bool) (*SyncResult, error) {
	if errs := doc.Validate(); len(errs) > 0 {
		return &SyncResult{Status: StatusValidationFailed, Errors: errs}, nil
	}

	start := e.now()
	var result *SyncResult

	err := e.store.Transaction(func(tx *gorm.DB) error {
		player, err := e.store.FindPlayer(tx, doc.SteamID)
		if err != nil {
			if errors.Is(err, persistence.ErrRecordNotFound) {
				result = &SyncResult{Status: StatusPlayerNotFound}
				return nil
			}
			return err
		}

		if player.ActiveServerID == nil || *player.ActiveServerID != server.ServerID {
			result = &SyncResult{Status: StatusNotSessionOwner}
			if player.ActiveServerID != nil {
				result.ActiveServer = *player.ActiveServerID
			}
			return nil
		}

		stored := player.SyncSeq
		if doc.SyncSeq <= stored || doc.SyncSeq-stored > SeqTolerance {
			result = &SyncResult{Status: StatusInvalidSyncSeq, ExpectedSeq: stored}
			return nil
		}

		agg, err := e.store.FindPlayerAggregate(tx, doc.SteamID)
		if err != nil {
			return err
		}
		beforeSummary := summarizeStats(stored, &agg.Stats)

		reasons := checkDeltas(&agg.Stats, &doc.Stats)
		flagged := len(reasons) > 0
		flagReason := strings.Join(reasons, "; ")

		now := e.now()
		if err := e.applyDocument(tx, player, doc, now, clearSession); err != nil {
			return err
		}

		entry := models.AuditEntry{
			ServerID:      server.ServerID,
			PlayerSteamID: doc.SteamID,
			Kind:          kind,
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

		result = &SyncResult{
			Status:     StatusOK,
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
