// engine/document.go
package engine

import (
	"strings"
	"time"

	"github.com/wfunc/playersync/models"
	"gorm.io/gorm"
)

// BuildDocument 从关系模型快照还原 v2 文档。
// Connect 响应不带 tracking，游戏服务器每个会话重建计数
func BuildDocument(agg *models.PlayerAggregate, includeTracking bool) *models.PlayerDocument {
	player := agg.Player

	doc := models.PlayerDocument{
		V:        models.DocumentVersion,
		SteamID:  player.SteamID,
		EOSID:    player.EOSID,
		Name:     player.Name,
		ServerID: player.ActiveServerID,
		SyncSeq:  player.SyncSeq,
		Stats: models.DocumentStats{
			Currency:       agg.Stats.Currency,
			CurrencyTotal:  agg.Stats.CurrencyTotal,
			CurrencySpent:  agg.Stats.CurrencySpent,
			XP:             agg.Stats.XP,
			XPTotal:        agg.Stats.XPTotal,
			Prestige:       agg.Stats.Prestige,
			PermaTokens:    agg.Stats.PermaTokens,
			DailyClaims:    agg.Stats.DailyClaims,
			GamesPlayed:    agg.Stats.GamesPlayed,
			TimePlayed:     agg.Stats.TimePlayed,
			JoinTime:       agg.Stats.JoinTime,
			DailyClaimTime: agg.Stats.DailyClaimTime,
		},
		Skins: models.DocumentSkins{
			Indfor: agg.Skins.Indfor,
			Blufor: agg.Skins.Blufor,
			Redfor: agg.Skins.Redfor,
		},
		Loadout:         make([]models.LoadoutEntry, 0, len(agg.Loadout)),
		Perks:           make([]string, 0, len(agg.Perks)),
		PermaUnlocks:    make([]string, 0, len(agg.PermaUnlocks)),
		SupporterStatus: []string{},
	}

	if player.LastSyncAt != nil {
		doc.LastSync = player.LastSyncAt.UTC().Format(time.RFC3339)
	}

	for _, slot := range agg.Loadout {
		doc.Loadout = append(doc.Loadout, models.LoadoutEntry{
			Slot:   slot.Slot,
			Family: slot.Family,
			Item:   slot.Item,
			Count:  slot.Count,
		})
	}
	for _, perk := range agg.Perks {
		doc.Perks = append(doc.Perks, perk.PerkName)
	}
	for _, unlock := range agg.PermaUnlocks {
		doc.PermaUnlocks = append(doc.PermaUnlocks, unlock.WeaponName)
	}
	if agg.Supporter != nil {
		doc.SupporterStatus = append(doc.SupporterStatus, agg.Supporter.Tier)
	}

	if includeTracking {
		tracking := models.TrackingData{
			Kills:        make(map[string]int64, len(agg.Kills)),
			VehicleKills: make(map[string]int64, len(agg.VehicleKills)),
			Purchases:    make(map[string]int64, len(agg.Purchases)),
			WeaponXP:     make(map[string]int64, len(agg.WeaponXP)),
			Rewards:      make(map[string]int64, len(agg.Rewards)),
		}
		for _, k := range agg.Kills {
			tracking.Kills[k.VictimSteamID] = k.Count
		}
		for _, k := range agg.VehicleKills {
			tracking.VehicleKills[k.VehicleName] = k.Count
		}
		for _, p := range agg.Purchases {
			tracking.Purchases[p.ItemName] = p.Count
		}
		for _, w := range agg.WeaponXP {
			tracking.WeaponXP[w.WeaponName] = w.XP
		}
		for _, r := range agg.Rewards {
			tracking.Rewards[r.RewardType] = r.Count
		}
		doc.Tracking = &tracking
	}

	return &doc
}

// applyDocument 文档写入流水线，所有操作共用。调用方持有事务。
// Loadout/Perks 整体替换，其余边表 upsert；tracking 存在才写入
func (e *SyncEngine) applyDocument(tx *gorm.DB, player *models.Player, doc *models.PlayerDocument, now time.Time, clearSession bool) error {
	if doc.EOSID != nil {
		player.EOSID = doc.EOSID
	}
	if doc.Name != nil {
		player.Name = doc.Name
	}
	player.SyncSeq = doc.SyncSeq
	player.LastSyncAt = &now
	if clearSession {
		player.ActiveServerID = nil
		player.ActiveSince = nil
	}
	if err := e.store.SavePlayer(tx, player); err != nil {
		return err
	}

	stats := models.PlayerStats{
		PlayerID:       player.ID,
		Currency:       doc.Stats.Currency,
		CurrencyTotal:  doc.Stats.CurrencyTotal,
		CurrencySpent:  doc.Stats.CurrencySpent,
		XP:             doc.Stats.XP,
		XPTotal:        doc.Stats.XPTotal,
		Prestige:       doc.Stats.Prestige,
		PermaTokens:    doc.Stats.PermaTokens,
		DailyClaims:    doc.Stats.DailyClaims,
		GamesPlayed:    doc.Stats.GamesPlayed,
		TimePlayed:     doc.Stats.TimePlayed,
		JoinTime:       doc.Stats.JoinTime,
		DailyClaimTime: doc.Stats.DailyClaimTime,
		UpdatedAt:      now,
	}
	if err := e.store.UpsertStats(tx, &stats); err != nil {
		return err
	}

	skins := models.PlayerSkins{
		PlayerID: player.ID,
		Indfor:   doc.Skins.Indfor,
		Blufor:   doc.Skins.Blufor,
		Redfor:   doc.Skins.Redfor,
	}
	if err := e.store.UpsertSkins(tx, &skins); err != nil {
		return err
	}

	if err := e.store.UpsertSupporter(tx, player.ID, doc.SupporterStatus); err != nil {
		return err
	}

	loadout := make([]models.LoadoutSlot, 0, len(doc.Loadout))
	for _, entry := range doc.Loadout {
		loadout = append(loadout, models.LoadoutSlot{
			Slot:   entry.Slot,
			Family: entry.Family,
			Item:   entry.Item,
			Count:  entry.Count,
		})
	}
	if err := e.store.ReplaceLoadout(tx, player.ID, loadout); err != nil {
		return err
	}
	if err := e.store.ReplacePerks(tx, player.ID, dedupe(doc.Perks)); err != nil {
		return err
	}
	if err := e.store.UpsertPermanentUnlocks(tx, player.ID, dedupe(doc.PermaUnlocks), now); err != nil {
		return err
	}

	if doc.Tracking != nil {
		if err := e.store.UpsertKills(tx, player.ID, doc.Tracking.Kills); err != nil {
			return err
		}
		if err := e.store.UpsertVehicleKills(tx, player.ID, doc.Tracking.VehicleKills); err != nil {
			return err
		}
		if err := e.store.UpsertPurchases(tx, player.ID, doc.Tracking.Purchases); err != nil {
			return err
		}
		if err := e.store.UpsertWeaponXP(tx, player.ID, doc.Tracking.WeaponXP); err != nil {
			return err
		}
		if err := e.store.UpsertRewards(tx, player.ID, doc.Tracking.Rewards); err != nil {
			return err
		}
	}

	return nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.TrimSpace(v)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
