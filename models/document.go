// models/document.go
package models

import (
	"fmt"
	"regexp"
)

// DocumentVersion 当前唯一支持的文档版本
const DocumentVersion = 2

var steamIDPattern = regexp.MustCompile(`^[0-9]{17}$`)

// PlayerDocument 游戏服务器同步的玩家进度文档 (v2)
type PlayerDocument struct {
	V        int     `json:"v"`
	SteamID  string  `json:"steamId"`
	EOSID    *string `json:"eosId"`
	Name     *string `json:"name"`
	ServerID *string `json:"serverId"`
	LastSync string  `json:"lastSync"`
	SyncSeq  int64   `json:"syncSeq"`

	Stats           DocumentStats  `json:"stats"`
	Skins           DocumentSkins  `json:"skins"`
	Loadout         []LoadoutEntry `json:"loadout"`
	Perks           []string       `json:"perks"`
	PermaUnlocks    []string       `json:"permaUnlocks"`
	SupporterStatus []string       `json:"supporterStatus"`
	Tracking        *TrackingData  `json:"tracking,omitempty"`
}

type DocumentStats struct {
	Currency       int64   `json:"currency"`
	CurrencyTotal  int64   `json:"currencyTotal"`
	CurrencySpent  int64   `json:"currencySpent"`
	XP             int64   `json:"xp"`
	XPTotal        int64   `json:"xpTotal"`
	Prestige       int     `json:"prestige"`
	PermaTokens    int     `json:"permaTokens"`
	DailyClaims    int     `json:"dailyClaims"`
	GamesPlayed    int     `json:"gamesPlayed"`
	TimePlayed     int64   `json:"timePlayed"`
	JoinTime       *string `json:"joinTime"`
	DailyClaimTime *string `json:"dailyClaimTime"`
}

type DocumentSkins struct {
	Indfor *string `json:"indfor"`
	Blufor *string `json:"blufor"`
	Redfor *string `json:"redfor"`
}

type LoadoutEntry struct {
	Slot   int     `json:"slot"`
	Family *string `json:"family"`
	Item   string  `json:"item"`
	Count  int     `json:"count"`
}

// TrackingData 会话内计数器，键为开放集合，值为绝对计数
type TrackingData struct {
	Kills        map[string]int64 `json:"kills"`
	VehicleKills map[string]int64 `json:"vehicleKills"`
	Purchases    map[string]int64 `json:"purchases"`
	WeaponXP     map[string]int64 `json:"weaponXp"`
	Rewards      map[string]int64 `json:"rewards"`
}

// ValidSteamID reports whether s is exactly 17 decimal digits.
func ValidSteamID(s string) bool {
	return steamIDPattern.MatchString(s)
}

// Validate 按 v2 规则校验文档，返回所有违规项
func (d *PlayerDocument) Validate() []string {
	var errs []string

	if d.V != DocumentVersion {
		errs = append(errs, fmt.Sprintf("unsupported document version %d", d.V))
	}
	if !ValidSteamID(d.SteamID) {
		errs = append(errs, fmt.Sprintf("steamId %q is not a 17-digit identifier", d.SteamID))
	}
	if d.SyncSeq < 0 {
		errs = append(errs, "syncSeq must be >= 0")
	}

	errs = append(errs, d.Stats.validate()...)

	for i, entry := range d.Loadout {
		if entry.Slot < 0 {
			errs = append(errs, fmt.Sprintf("loadout[%d]: slot must be >= 0", i))
		}
		if entry.Item == "" {
			errs = append(errs, fmt.Sprintf("loadout[%d]: item is required", i))
		}
		if entry.Count < 0 {
			errs = append(errs, fmt.Sprintf("loadout[%d]: count must be >= 0", i))
		}
	}

	if d.Tracking != nil {
		errs = append(errs, validateCounters("kills", d.Tracking.Kills)...)
		errs = append(errs, validateCounters("vehicleKills", d.Tracking.VehicleKills)...)
		errs = append(errs, validateCounters("purchases", d.Tracking.Purchases)...)
		errs = append(errs, validateCounters("weaponXp", d.Tracking.WeaponXP)...)
		errs = append(errs, validateCounters("rewards", d.Tracking.Rewards)...)
	}

	return errs
}

func (s *DocumentStats) validate() []string {
	var errs []string
	nonNegative := []struct {
		name  string
		value int64
	}{
		{"currency", s.Currency},
		{"currencyTotal", s.CurrencyTotal},
		{"currencySpent", s.CurrencySpent},
		{"xp", s.XP},
		{"xpTotal", s.XPTotal},
		{"permaTokens", int64(s.PermaTokens)},
		{"dailyClaims", int64(s.DailyClaims)},
		{"gamesPlayed", int64(s.GamesPlayed)},
		{"timePlayed", s.TimePlayed},
	}
	for _, f := range nonNegative {
		if f.value < 0 {
			errs = append(errs, fmt.Sprintf("stats.%s must be >= 0", f.name))
		}
	}
	if s.Prestige < 0 || s.Prestige > 100 {
		errs = append(errs, fmt.Sprintf("stats.prestige %d out of range [0,100]", s.Prestige))
	}
	return errs
}

func validateCounters(name string, counters map[string]int64) []string {
	var errs []string
	for key, value := range counters {
		if value < 0 {
			errs = append(errs, fmt.Sprintf("tracking.%s[%q] must be >= 0", name, key))
		}
	}
	return errs
}
