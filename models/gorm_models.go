// models/gorm_models.go
package models

import (
	"time"

	"gorm.io/datatypes"
)

// Player 玩家聚合根。activeServerId/activeSince 构成会话锁
type Player struct {
	ID             uint    `gorm:"primaryKey"`
	SteamID        string  `gorm:"uniqueIndex;size:17;not null"`
	EOSID          *string `gorm:"index"`
	Name           *string
	SyncSeq        int64   `gorm:"not null;default:0"`
	ActiveServerID *string `gorm:"index"`
	ActiveSince    *time.Time
	LastSyncAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Stats        *PlayerStats      `gorm:"constraint:OnDelete:CASCADE"`
	Skins        *PlayerSkins      `gorm:"constraint:OnDelete:CASCADE"`
	Supporter    *SupporterStatus  `gorm:"constraint:OnDelete:CASCADE"`
	Loadout      []LoadoutSlot     `gorm:"constraint:OnDelete:CASCADE"`
	Perks        []PlayerPerk      `gorm:"constraint:OnDelete:CASCADE"`
	PermaUnlocks []PermanentUnlock `gorm:"constraint:OnDelete:CASCADE"`
	Rewards      []PlayerReward    `gorm:"constraint:OnDelete:CASCADE"`
	Kills        []PlayerKill      `gorm:"constraint:OnDelete:CASCADE"`
	VehicleKills []VehicleKill     `gorm:"constraint:OnDelete:CASCADE"`
	Purchases    []PlayerPurchase  `gorm:"constraint:OnDelete:CASCADE"`
	WeaponXP     []WeaponXP        `gorm:"constraint:OnDelete:CASCADE"`
}

type PlayerStats struct {
	ID             uint  `gorm:"primaryKey"`
	PlayerID       uint  `gorm:"uniqueIndex;not null"`
	Currency       int64 `gorm:"not null;default:0"`
	CurrencyTotal  int64 `gorm:"not null;default:0"`
	CurrencySpent  int64 `gorm:"not null;default:0"`
	XP             int64 `gorm:"not null;default:0"`
	XPTotal        int64 `gorm:"not null;default:0"`
	Prestige       int   `gorm:"not null;default:0"`
	PermaTokens    int   `gorm:"not null;default:0"`
	DailyClaims    int   `gorm:"not null;default:0"`
	GamesPlayed    int   `gorm:"not null;default:0"`
	TimePlayed     int64 `gorm:"not null;default:0"`
	JoinTime       *string
	DailyClaimTime *string
	UpdatedAt      time.Time
}

type PlayerSkins struct {
	ID       uint `gorm:"primaryKey"`
	PlayerID uint `gorm:"uniqueIndex;not null"`
	Indfor   *string
	Blufor   *string
	Redfor   *string
}

type SupporterStatus struct {
	ID        uint   `gorm:"primaryKey"`
	PlayerID  uint   `gorm:"uniqueIndex;not null"`
	Tier      string `gorm:"not null"`
	ExpiresAt *time.Time
}

// LoadoutSlot 允许不同槽位重复引用同一物品，整体替换写入
type LoadoutSlot struct {
	ID       uint `gorm:"primaryKey"`
	PlayerID uint `gorm:"index;not null"`
	Slot     int  `gorm:"not null"`
	Family   *string
	Item     string `gorm:"not null"`
	Count    int    `gorm:"not null;default:0"`
}

type PlayerPerk struct {
	ID       uint   `gorm:"primaryKey"`
	PlayerID uint   `gorm:"uniqueIndex:idx_player_perk;not null"`
	PerkName string `gorm:"uniqueIndex:idx_player_perk;not null"`
}

type PermanentUnlock struct {
	ID         uint      `gorm:"primaryKey"`
	PlayerID   uint      `gorm:"uniqueIndex:idx_player_unlock;not null"`
	WeaponName string    `gorm:"uniqueIndex:idx_player_unlock;not null"`
	UnlockedAt time.Time `gorm:"not null"`
}

type PlayerReward struct {
	ID         uint   `gorm:"primaryKey"`
	PlayerID   uint   `gorm:"uniqueIndex:idx_player_reward;not null"`
	RewardType string `gorm:"uniqueIndex:idx_player_reward;not null"`
	Count      int64  `gorm:"not null;default:0"`
}

type PlayerKill struct {
	ID            uint   `gorm:"primaryKey"`
	PlayerID      uint   `gorm:"uniqueIndex:idx_player_kill;not null"`
	VictimSteamID string `gorm:"uniqueIndex:idx_player_kill;size:17;not null"`
	Count         int64  `gorm:"not null;default:0"`
}

type VehicleKill struct {
	ID          uint   `gorm:"primaryKey"`
	PlayerID    uint   `gorm:"uniqueIndex:idx_player_vkill;not null"`
	VehicleName string `gorm:"uniqueIndex:idx_player_vkill;not null"`
	Count       int64  `gorm:"not null;default:0"`
}

type PlayerPurchase struct {
	ID       uint   `gorm:"primaryKey"`
	PlayerID uint   `gorm:"uniqueIndex:idx_player_purchase;not null"`
	ItemName string `gorm:"uniqueIndex:idx_player_purchase;not null"`
	Count    int64  `gorm:"not null;default:0"`
}

type WeaponXP struct {
	ID         uint   `gorm:"primaryKey"`
	PlayerID   uint   `gorm:"uniqueIndex:idx_player_wxp;not null"`
	WeaponName string `gorm:"uniqueIndex:idx_player_wxp;not null"`
	XP         int64  `gorm:"not null;default:0"`
}

// DiscordLink 由外部机器人表面写入，本服务只负责建表
type DiscordLink struct {
	ID        uint   `gorm:"primaryKey"`
	PlayerID  uint   `gorm:"index;not null"`
	DiscordID string `gorm:"uniqueIndex;not null"`
	Verified  bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
}

// GameServer 已注册的游戏服务器及其接入令牌
type GameServer struct {
	ID         uint   `gorm:"primaryKey"`
	ServerID   string `gorm:"uniqueIndex;not null"`
	APIToken   string `gorm:"uniqueIndex;not null"`
	Active     bool   `gorm:"not null;default:true"`
	Flagged    bool   `gorm:"not null;default:false"`
	FlagReason string
	LastSeen   *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Audit kinds.
const (
	AuditKindConnect       = "connect"
	AuditKindPeriodic      = "periodic"
	AuditKindDisconnect    = "disconnect"
	AuditKindCrashRecovery = "crash_recovery"
)

// AuditEntry 每次同步尝试的追加式审计记录
type AuditEntry struct {
	ID            uint   `gorm:"primaryKey"`
	ServerID      string `gorm:"index;not null"`
	PlayerSteamID string `gorm:"index;size:17;not null"`
	Kind          string `gorm:"index;not null"`
	SeqBefore     *int64
	SeqAfter      int64
	BeforeSummary datatypes.JSON
	AfterSummary  datatypes.JSON
	Flagged       bool `gorm:"index;not null;default:false"`
	FlagReason    string
	DurationMs    int64
	CreatedAt     time.Time `gorm:"index"`
}

// PlayerAggregate Player 及其全部关联的一致性快照
type PlayerAggregate struct {
	Player       Player
	Stats        PlayerStats
	Skins        PlayerSkins
	Supporter    *SupporterStatus
	Loadout      []LoadoutSlot
	Perks        []PlayerPerk
	PermaUnlocks []PermanentUnlock
	Rewards      []PlayerReward
	Kills        []PlayerKill
	VehicleKills []VehicleKill
	Purchases    []PlayerPurchase
	WeaponXP     []WeaponXP
}
