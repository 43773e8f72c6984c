// engine/deltas.go
package engine

import (
	"fmt"

	"github.com/wfunc/playersync/models"
)

// Per-sync delta limits. Exceeding one flags the sync for operator review
// but never rejects it.
const (
	MaxCurrencyGain   = 50000
	MaxCurrencySpent  = 50000
	MaxXPGain         = 100000
	MaxPrestigeGain   = 1
	MaxPermaTokenGain = 10
	MaxTimePlayedGain = 7200
)

// checkDeltas compares the incoming stats against the last persisted row
// and returns every exceeded limit.
func checkDeltas(prev *models.PlayerStats, next *models.DocumentStats) []string {
	var reasons []string

	if gain := next.CurrencyTotal - prev.CurrencyTotal; gain > MaxCurrencyGain {
		reasons = append(reasons, fmt.Sprintf("Currency gain of %d exceeds limit %d", gain, MaxCurrencyGain))
	}
	if spent := next.CurrencySpent - prev.CurrencySpent; spent > MaxCurrencySpent {
		reasons = append(reasons, fmt.Sprintf("Currency spent of %d exceeds limit %d", spent, MaxCurrencySpent))
	}
	if gain := next.XPTotal - prev.XPTotal; gain > MaxXPGain {
		reasons = append(reasons, fmt.Sprintf("XP gain of %d exceeds limit %d", gain, MaxXPGain))
	}
	if gain := next.Prestige - prev.Prestige; gain > MaxPrestigeGain {
		reasons = append(reasons, fmt.Sprintf("Prestige gain of %d exceeds limit %d", gain, MaxPrestigeGain))
	}
	if gain := next.PermaTokens - prev.PermaTokens; gain > MaxPermaTokenGain {
		reasons = append(reasons, fmt.Sprintf("Perma token gain of %d exceeds limit %d", gain, MaxPermaTokenGain))
	}
	if gain := next.TimePlayed - prev.TimePlayed; gain > MaxTimePlayedGain {
		reasons = append(reasons, fmt.Sprintf("Time played gain of %ds exceeds limit %ds", gain, MaxTimePlayedGain))
	}

	return reasons
}
