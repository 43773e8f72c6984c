// persistence/gorm_store.go
package persistence

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/wfunc/playersync/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore GORM 实现，支持 PostgreSQL 与测试用 SQLite
type GormStore struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建 PostgreSQL 连接并迁移表结构
func NewGormPostgreSQL(host string, port int, user, password, dbname string, maxOpen, maxIdle int) (*GormStore, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := autoMigrate(db); err != nil {
		return nil, err
	}

	return &GormStore{db: db}, nil
}

// NewGormSQLite 测试用内存数据库
func NewGormSQLite(dsn string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := autoMigrate(db); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Player{},
		&models.PlayerStats{},
		&models.PlayerSkins{},
		&models.SupporterStatus{},
		&models.LoadoutSlot{},
		&models.PlayerPerk{},
		&models.PermanentUnlock{},
		&models.PlayerReward{},
		&models.PlayerKill{},
		&models.VehicleKill{},
		&models.PlayerPurchase{},
		&models.WeaponXP{},
		&models.DiscordLink{},
		&models.GameServer{},
		&models.AuditEntry{},
	)
}

func (s *GormStore) Transaction(fn func(tx *gorm.DB) error) error {
	return s.db.Transaction(fn)
}

func (s *GormStore) FindPlayer(tx *gorm.DB, steamID string) (*models.Player, error) {
	var player models.Player
	if err := tx.Where("steam_id = ?", steamID).First(&player).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &player, nil
}

// FindOrCreatePlayer 首次见到的 steamId 建立聚合根与默认统计行
func (s *GormStore) FindOrCreatePlayer(tx *gorm.DB, steamID string) (*models.Player, bool, error) {
	player, err := s.FindPlayer(tx, steamID)
	if err == nil {
		return player, false, nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return nil, false, err
	}

	created := models.Player{SteamID: steamID, SyncSeq: 0}
	if err := tx.Create(&created).Error; err != nil {
		return nil, false, err
	}
	if err := tx.Create(&models.PlayerStats{PlayerID: created.ID}).Error; err != nil {
		return nil, false, err
	}
	if err := tx.Create(&models.PlayerSkins{PlayerID: created.ID}).Error; err != nil {
		return nil, false, err
	}
	return &created, true, nil
}

func (s *GormStore) FindPlayerAggregate(tx *gorm.DB, steamID string) (*models.PlayerAggregate, error) {
	player, err := s.FindPlayer(tx, steamID)
	if err != nil {
		return nil, err
	}

	agg := models.PlayerAggregate{Player: *player}
	if err := tx.Where("player_id = ?", player.ID).First(&agg.Stats).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		agg.Stats = models.PlayerStats{PlayerID: player.ID}
	}
	if err := tx.Where("player_id = ?", player.ID).First(&agg.Skins).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		agg.Skins = models.PlayerSkins{PlayerID: player.ID}
	}
	var supporter models.SupporterStatus
	if err := tx.Where("player_id = ?", player.ID).First(&supporter).Error; err == nil {
		agg.Supporter = &supporter
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := tx.Where("player_id = ?", player.ID).Order("slot").Find(&agg.Loadout).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("player_id = ?", player.ID).Order("perk_name").Find(&agg.Perks).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("player_id = ?", player.ID).Order("weapon_name").Find(&agg.PermaUnlocks).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("player_id = ?", player.ID).Find(&agg.Rewards).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("player_id = ?", player.ID).Find(&agg.Kills).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("player_id = ?", player.ID).Find(&agg.VehicleKills).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("player_id = ?", player.ID).Find(&agg.Purchases).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("player_id = ?", player.ID).Find(&agg.WeaponXP).Error; err != nil {
		return nil, err
	}
	return &agg, nil
}

// ClaimSession 条件更新会话锁：空锁、自己持有、或持有方已过期时成功。
// 两个并发 Connect 竞争同一玩家时由行锁決出胜负，败者影响行数为 0
func (s *GormStore) ClaimSession(tx *gorm.DB, playerID uint, serverID string, since time.Time, staleBefore time.Time) (bool, error) {
	res := tx.Model(&models.Player{}).
		Where("id = ? AND (active_server_id IS NULL OR active_server_id = ? OR active_since < ?)",
			playerID, serverID, staleBefore).
		Updates(map[string]interface{}{
			"active_server_id": serverID,
			"active_since":     since,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ClearSession(tx *gorm.DB, playerID uint) error {
	return tx.Model(&models.Player{}).
		Where("id = ?", playerID).
		Updates(map[string]interface{}{
			"active_server_id": nil,
			"active_since":     nil,
		}).Error
}

func (s *GormStore) SavePlayer(tx *gorm.DB, player *models.Player) error {
	return tx.Save(player).Error
}

func (s *GormStore) UpsertStats(tx *gorm.DB, stats *models.PlayerStats) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "player_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"currency", "currency_total", "currency_spent", "xp", "xp_total",
			"prestige", "perma_tokens", "daily_claims", "games_played",
			"time_played", "join_time", "daily_claim_time", "updated_at",
		}),
	}).Create(stats).Error
}

func (s *GormStore) UpsertSkins(tx *gorm.DB, skins *models.PlayerSkins) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "player_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"indfor", "blufor", "redfor"}),
	}).Create(skins).Error
}

// UpsertSupporter 文档给出层级列表；空列表清除行，否则首项为当前层级
func (s *GormStore) UpsertSupporter(tx *gorm.DB, playerID uint, tiers []string) error {
	if len(tiers) == 0 {
		return tx.Where("player_id = ?", playerID).Delete(&models.SupporterStatus{}).Error
	}
	row := models.SupporterStatus{PlayerID: playerID, Tier: tiers[0]}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "player_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tier"}),
	}).Create(&row).Error
}

// ReplaceLoadout 整体替换：删除旧行后按序插入
func (s *GormStore) ReplaceLoadout(tx *gorm.DB, playerID uint, entries []models.LoadoutSlot) error {
	if err := tx.Where("player_id = ?", playerID).Delete(&models.LoadoutSlot{}).Error; err != nil {
		return err
	}
	for i := range entries {
		entries[i].ID = 0
		entries[i].PlayerID = playerID
		if err := tx.Create(&entries[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *GormStore) ReplacePerks(tx *gorm.DB, playerID uint, perks []string) error {
	if err := tx.Where("player_id = ?", playerID).Delete(&models.PlayerPerk{}).Error; err != nil {
		return err
	}
	for _, perk := range perks {
		row := models.PlayerPerk{PlayerID: playerID, PerkName: perk}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// UpsertPermanentUnlocks 增量写入，已有行保留原解锁时间
func (s *GormStore) UpsertPermanentUnlocks(tx *gorm.DB, playerID uint, weapons []string, now time.Time) error {
	for _, weapon := range weapons {
		row := models.PermanentUnlock{PlayerID: playerID, WeaponName: weapon, UnlockedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}, {Name: "weapon_name"}},
			DoNothing: true,
		}).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *GormStore) UpsertKills(tx *gorm.DB, playerID uint, counters map[string]int64) error {
	for victim, count := range counters {
		row := models.PlayerKill{PlayerID: playerID, VictimSteamID: victim, Count: count}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}, {Name: "victim_steam_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"count"}),
		}).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *GormStore) UpsertVehicleKills(tx *gorm.DB, playerID uint, counters map[string]int64) error {
	for vehicle, count := range counters {
		row := models.VehicleKill{PlayerID: playerID, VehicleName: vehicle, Count: count}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}, {Name: "vehicle_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"count"}),
		}).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *GormStore) UpsertPurchases(tx *gorm.DB, playerID uint, counters map[string]int64) error {
	for item, count := range counters {
		row := models.PlayerPurchase{PlayerID: playerID, ItemName: item, Count: count}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}, {Name: "item_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"count"}),
		}).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *GormStore) UpsertWeaponXP(tx *gorm.DB, playerID uint, counters map[string]int64) error {
	for weapon, xp := range counters {
		row := models.WeaponXP{PlayerID: playerID, WeaponName: weapon, XP: xp}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}, {Name: "weapon_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"xp"}),
		}).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *GormStore) UpsertRewards(tx *gorm.DB, playerID uint, counters map[string]int64) error {
	for rewardType, count := range counters {
		row := models.PlayerReward{PlayerID: playerID, RewardType: rewardType, Count: count}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}, {Name: "reward_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"count"}),
		}).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *GormStore) AppendAudit(tx *gorm.DB, entry *models.AuditEntry) error {
	return tx.Create(entry).Error
}

func (s *GormStore) ResolveToken(token string) (*models.GameServer, error) {
	var server models.GameServer
	if err := s.db.Where("api_token = ?", token).First(&server).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &server, nil
}

func (s *GormStore) CreateGameServer(server *models.GameServer) error {
	active := server.Active
	if err := s.db.Create(server).Error; err != nil {
		return err
	}
	if !active {
		// 列默认值 true 会覆盖零值 false，插入后显式写回
		server.Active = false
		return s.db.Model(server).Update("active", false).Error
	}
	return nil
}

func (s *GormStore) TouchServer(serverID string, seen time.Time) error {
	return s.db.Model(&models.GameServer{}).
		Where("server_id = ?", serverID).
		Update("last_seen", seen).Error
}

// SweepServer 原子清除某服务器持有的全部会话锁
func (s *GormStore) SweepServer(serverID string) (int64, error) {
	res := s.db.Model(&models.Player{}).
		Where("active_server_id = ?", serverID).
		Updates(map[string]interface{}{
			"active_server_id": nil,
			"active_since":     nil,
		})
	return res.RowsAffected, res.Error
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
