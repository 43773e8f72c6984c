// connector/events.go
package connector

import (
	"github.com/wfunc/playersync/models"
)

// Inbound events (game server → service).
const (
	EventAuth               = "auth"
	EventHeartbeat          = "heartbeat"
	EventPlayerConnect      = "player:connect"
	EventPlayerSync         = "player:sync"
	EventPlayerDisconnect   = "player:disconnect"
	EventCrashRecovery      = "player:crash-recovery"
	EventBatchCrashRecovery = "player:batch-crash-recovery"
	EventPlayerState        = "player:state"
)

// Outbound events (service → game server).
const (
	EventAuthSuccess     = "auth:success"
	EventAuthError       = "auth:error"
	EventServerInfo      = "server:info"
	EventPlayerData      = "player:data"
	EventPlayerWait      = "player:wait"
	EventPlayerError     = "player:error"
	EventSyncAck         = "sync:ack"
	EventSyncError       = "sync:error"
	EventDisconnectAck   = "disconnect:ack"
	EventDisconnectError = "disconnect:error"
	EventRecoveryAck     = "recovery:ack"
	EventRecoveryError   = "recovery:error"
	EventBatchComplete   = "batch-recovery:complete"
	EventPlayerRequest   = "player:request"
)

type authPayload struct {
	Token string `json:"token"`
}

type authSuccessPayload struct {
	ServerID string `json:"serverId"`
}

type authErrorPayload struct {
	Error string `json:"error"`
}

type serverInfoPayload struct {
	ServerID    string `json:"serverId"`
	PlayerCount int    `json:"playerCount"`
}

type playerDataPayload struct {
	SteamID string                 `json:"steamId"`
	Data    *models.PlayerDocument `json:"data"`
	SyncSeq int64                  `json:"syncSeq"`
}

type playerWaitPayload struct {
	SteamID      string `json:"steamId"`
	ActiveServer string `json:"activeServer"`
	RetryAfterMs int64  `json:"retryAfterMs"`
	MaxRetries   int    `json:"maxRetries"`
}

type playerErrorPayload struct {
	SteamID string   `json:"steamId"`
	Error   string   `json:"error"`
	Errors  []string `json:"errors,omitempty"`
}

type syncAckPayload struct {
	SteamID string `json:"steamId"`
	SyncSeq int64  `json:"syncSeq"`
	Flagged bool   `json:"flagged"`
}

type syncErrorPayload struct {
	SteamID      string   `json:"steamId"`
	Error        string   `json:"error"`
	Errors       []string `json:"errors,omitempty"`
	ExpectedSeq  *int64   `json:"expectedSeq,omitempty"`
	ActiveServer string   `json:"activeServer,omitempty"`
}

type disconnectAckPayload struct {
	SteamID string `json:"steamId"`
	SyncSeq int64  `json:"syncSeq"`
}

type recoveryAckPayload struct {
	SteamID string `json:"steamId"`
	SyncSeq int64  `json:"syncSeq"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Flagged bool   `json:"flagged,omitempty"`
}

type batchPayload struct {
	Players []*models.PlayerDocument `json:"players"`
}

type batchCompletePayload struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

type playerRequestPayload struct {
	SteamID string `json:"steamId"`
}
