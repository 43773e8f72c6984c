// engine/outcome.go
package engine

import (
	"time"

	"github.com/wfunc/playersync/models"
)

// Status tags a domain outcome. Rejections are values, not errors; only
// infrastructure faults travel the error return.
type Status string

const (
	StatusOK               Status = "ok"
	StatusValidationFailed Status = "validation_failed"
	StatusPlayerNotFound   Status = "player_not_found"
	StatusNotSessionOwner  Status = "not_session_owner"
	StatusInvalidSyncSeq   Status = "invalid_sync_seq"
	StatusActiveElsewhere  Status = "active_elsewhere"
	StatusSkipped          Status = "skipped"
	StatusTransient        Status = "transient"
)

// ConnectRequest carries the player:connect payload.
type ConnectRequest struct {
	SteamID string  `json:"steamId"`
	EOSID   *string `json:"eosId"`
	Name    *string `json:"name"`
}

// ConnectResult is the outcome of a Connect operation.
type ConnectResult struct {
	Status       Status
	Errors       []string
	Document     *models.PlayerDocument // tracking omitted
	SyncSeq      int64
	ActiveServer string
	ActiveSince  time.Time
	WaitMs       int64
}

// SyncResult is the outcome of PeriodicSync and Disconnect.
type SyncResult struct {
	Status       Status
	Errors       []string
	SyncSeq      int64
	Flagged      bool
	FlagReason   string
	ActiveServer string
	ExpectedSeq  int64
}

// RecoveryResult is the outcome of CrashRecovery.
type RecoveryResult struct {
	Status     Status
	Errors     []string
	SteamID    string
	SyncSeq    int64
	Skipped    bool
	Reason     string
	Flagged    bool
	FlagReason string
}

// BatchResult summarizes a BatchCrashRecovery call.
type BatchResult struct {
	Total      int
	Successful int
	Failed     int
	Results    []RecoveryResult
}
