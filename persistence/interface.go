// persistence/interface.go
package persistence

import (
	"fmt"
	"time"

	"github.com/wfunc/playersync/models"
	"gorm.io/gorm"
)

// Store 数据库接口。所有写入原语只加入调用方提供的事务，从不自行开启
type Store interface {
	Transaction(fn func(tx *gorm.DB) error) error

	FindPlayer(tx *gorm.DB, steamID string) (*models.Player, error)
	FindOrCreatePlayer(tx *gorm.DB, steamID string) (*models.Player, bool, error)
	FindPlayerAggregate(tx *gorm.DB, steamID string) (*models.PlayerAggregate, error)

	// ClaimSession 以乐观检查写入会话锁，返回是否抢占成功
	ClaimSession(tx *gorm.DB, playerID uint, serverID string, since time.Time, staleBefore time.Time) (bool, error)
	ClearSession(tx *gorm.DB, playerID uint) error

	SavePlayer(tx *gorm.DB, player *models.Player) error
	UpsertStats(tx *gorm.DB, stats *models.PlayerStats) error
	UpsertSkins(tx *gorm.DB, skins *models.PlayerSkins) error
	UpsertSupporter(tx *gorm.DB, playerID uint, tiers []string) error
	ReplaceLoadout(tx *gorm.DB, playerID uint, entries []models.LoadoutSlot) error
	ReplacePerks(tx *gorm.DB, playerID uint, perks []string) error
	UpsertPermanentUnlocks(tx *gorm.DB, playerID uint, weapons []string, now time.Time) error
	UpsertKills(tx *gorm.DB, playerID uint, counters map[string]int64) error
	UpsertVehicleKills(tx *gorm.DB, playerID uint, counters map[string]int64) error
	UpsertPurchases(tx *gorm.DB, playerID uint, counters map[string]int64) error
	UpsertWeaponXP(tx *gorm.DB, playerID uint, counters map[string]int64) error
	UpsertRewards(tx *gorm.DB, playerID uint, counters map[string]int64) error

	AppendAudit(tx *gorm.DB, entry *models.AuditEntry) error

	// 服务器注册相关，不要求事务
	ResolveToken(token string) (*models.GameServer, error)
	CreateGameServer(server *models.GameServer) error
	TouchServer(serverID string, seen time.Time) error
	SweepServer(serverID string) (int64, error)

	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = fmt.Errorf("record not found")
)
