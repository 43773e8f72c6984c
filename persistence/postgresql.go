// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/wfunc/playersync/models"
)

// ArchiveStore 运维路径的原生 SQL 实现：审计保留、标记记录查询、过期锁清理。
// 与热路径的 GORM 连接池隔离
type ArchiveStore struct {
	db *sql.DB
}

// NewArchiveStore 创建 PostgreSQL 运维连接
func NewArchiveStore(host string, port int, user, password, dbname string) (*ArchiveStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	return &ArchiveStore{db: db}, nil
}

// PruneAudit 删除保留期外的未标记审计记录；标记记录永久保留
func (a *ArchiveStore) PruneAudit(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx,
		`DELETE FROM audit_entries WHERE created_at < $1 AND flagged = false`,
		olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListFlaggedAudits 供运维工具读取待审查记录
func (a *ArchiveStore) ListFlaggedAudits(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, server_id, player_steam_id, kind, seq_before, seq_after,
		        flagged, flag_reason, duration_ms, created_at
		 FROM audit_entries
		 WHERE flagged = true
		 ORDER BY created_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var seqBefore sql.NullInt64
		if err := rows.Scan(&e.ID, &e.ServerID, &e.PlayerSteamID, &e.Kind,
			&seqBefore, &e.SeqAfter, &e.Flagged, &e.FlagReason,
			&e.DurationMs, &e.CreatedAt); err != nil {
			return nil, err
		}
		if seqBefore.Valid {
			v := seqBefore.Int64
			e.SeqBefore = &v
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SweepExpiredLocks 清除无在线连接且超过持有窗口的会话锁
func (a *ArchiveStore) SweepExpiredLocks(ctx context.Context, staleBefore time.Time, liveServerIDs []string) (int64, error) {
	res, err := a.db.ExecContext(ctx,
		`UPDATE players
		 SET active_server_id = NULL, active_since = NULL
		 WHERE active_server_id IS NOT NULL
		   AND active_since < $1
		   AND NOT (active_server_id = ANY($2))`,
		staleBefore, pq.Array(liveServerIDs))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close 关闭运维连接
func (a *ArchiveStore) Close() error {
	return a.db.Close()
}
