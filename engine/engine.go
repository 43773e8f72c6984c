// engine/engine.go
package engine

import (
	"encoding/json"
	"time"

	"github.com/wfunc/playersync/audit"
	"github.com/wfunc/playersync/models"
	"github.com/wfunc/playersync/persistence"
	"gorm.io/datatypes"
)

// Protocol constants.
const (
	ActiveServerTimeout  = 30 * time.Second
	SeqTolerance         = 10
	RecoverySeqTolerance = 100
	BatchRecoveryLimit   = 100

	ConnectRetryAfterMs = 2000
	ConnectMaxRetries   = 5
)

// SyncEngine enforces the session lock, sequence monotonicity and delta
// limits, and orchestrates the per-operation transactions.
type SyncEngine struct {
	store persistence.Store
	sink  audit.Sink
	now   func() time.Time
}

func NewSyncEngine(store persistence.Store, sink audit.Sink) *SyncEngine {
	return &SyncEngine{
		store: store,
		sink:  sink,
		now:   time.Now,
	}
}

// SetClock substitutes the time source in tests.
func (e *SyncEngine) SetClock(now func() time.Time) {
	e.now = now
}

type statsSummary struct {
	SyncSeq       int64 `json:"syncSeq"`
	CurrencyTotal int64 `json:"currencyTotal"`
	CurrencySpent int64 `json:"currencySpent"`
	XPTotal       int64 `json:"xpTotal"`
	Prestige      int   `json:"prestige"`
	TimePlayed    int64 `json:"timePlayed"`
}

func summarizeStats(seq int64, s *models.PlayerStats) datatypes.JSON {
	summary := statsSummary{
		SyncSeq:       seq,
		CurrencyTotal: s.CurrencyTotal,
		CurrencySpent: s.CurrencySpent,
		XPTotal:       s.XPTotal,
		Prestige:      s.Prestige,
		TimePlayed:    s.TimePlayed,
	}
	buf, _ := json.Marshal(summary)
	return datatypes.JSON(buf)
}

func summarizeDocStats(seq int64, s *models.DocumentStats) datatypes.JSON {
	summary := statsSummary{
		SyncSeq:       seq,
		CurrencyTotal: s.CurrencyTotal,
		CurrencySpent: s.CurrencySpent,
		XPTotal:       s.XPTotal,
		Prestige:      s.Prestige,
		TimePlayed:    s.TimePlayed,
	}
	buf, _ := json.Marshal(summary)
	return datatypes.JSON(buf)
}

func durationMs(start, end time.Time) int64 {
	ms := end.Sub(start).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}
