package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/playersync/engine"
	"github.com/wfunc/playersync/models"
	"github.com/wfunc/playersync/persistence"
	"gorm.io/gorm"
)

// apiServerID 离线工具经 HTTP 接入时审计记录使用的伪服务器标识
const apiServerID = "api"

// HTTPServer §6.3 的服务本地 HTTP 面，供离线工具使用
type HTTPServer struct {
	engine *engine.SyncEngine
	store  persistence.Store
	apiKey string
}

func NewHTTPServer(eng *engine.SyncEngine, store persistence.Store, apiKey string) *HTTPServer {
	return &HTTPServer{engine: eng, store: store, apiKey: apiKey}
}

// Router 注册全部路由
func (s *HTTPServer) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/sync/health", s.health)

	authed := r.Group("/api/sync", s.requireAPIKey)
	authed.POST("/player", s.upsertPlayer)
	authed.POST("/batch", s.upsertBatch)
	authed.GET("/status/:steamId", s.syncStatus)
	authed.GET("/player/:steamId", s.getPlayer)

	return r
}

func (s *HTTPServer) requireAPIKey(c *gin.Context) {
	if s.apiKey == "" || c.GetHeader("X-API-Key") != s.apiKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}
	c.Next()
}

func (s *HTTPServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "playersync",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *HTTPServer) upsertPlayer(c *gin.Context) {
	var doc models.PlayerDocument
	if err := c.BindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.engine.UpsertPlayer(c.Request.Context(), &doc, &models.GameServer{ServerID: apiServerID})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transient"})
		return
	}

	switch result.Status {
	case engine.StatusValidationFailed:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_failed", "errors": result.Errors})
	case engine.StatusOK, engine.StatusSkipped:
		c.JSON(http.StatusOK, gin.H{
			"steamId": result.SteamID,
			"syncSeq": result.SyncSeq,
			"skipped": result.Skipped,
			"flagged": result.Flagged,
		})
	default:
		c.JSON(http.StatusConflict, gin.H{"error": string(result.Status)})
	}
}

func (s *HTTPServer) upsertBatch(c *gin.Context) {
	var payload struct {
		Players []*models.PlayerDocument `json:"players"`
	}
	if err := c.BindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(payload.Players) > engine.BatchRecoveryLimit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "batch too large", "limit": engine.BatchRecoveryLimit,
		})
		return
	}

	server := &models.GameServer{ServerID: apiServerID}
	results := make([]gin.H, 0, len(payload.Players))
	successful, failed := 0, 0
	for _, doc := range payload.Players {
		result, err := s.engine.UpsertPlayer(c.Request.Context(), doc, server)
		if err != nil {
			failed++
			results = append(results, gin.H{"steamId": doc.SteamID, "error": "transient"})
			continue
		}
		switch result.Status {
		case engine.StatusOK, engine.StatusSkipped:
			successful++
			results = append(results, gin.H{
				"steamId": result.SteamID,
				"syncSeq": result.SyncSeq,
				"skipped": result.Skipped,
				"flagged": result.Flagged,
			})
		default:
			failed++
			results = append(results, gin.H{
				"steamId": doc.SteamID,
				"error":   string(result.Status),
				"errors":  result.Errors,
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"total":      len(payload.Players),
		"successful": successful,
		"failed":     failed,
		"results":    results,
	})
}

func (s *HTTPServer) syncStatus(c *gin.Context) {
	steamID := c.Param("steamId")
	if !models.ValidSteamID(steamID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid steamId"})
		return
	}

	var player *models.Player
	err := s.store.Transaction(func(tx *gorm.DB) error {
		var err error
		player, err = s.store.FindPlayer(tx, steamID)
		return err
	})
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transient"})
		return
	}

	resp := gin.H{"steamId": steamID, "syncSeq": player.SyncSeq}
	if player.LastSyncAt != nil {
		resp["lastSync"] = player.LastSyncAt.UTC().Format(time.RFC3339)
	} else {
		resp["lastSync"] = nil
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) getPlayer(c *gin.Context) {
	steamID := c.Param("steamId")
	if !models.ValidSteamID(steamID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid steamId"})
		return
	}

	var agg *models.PlayerAggregate
	err := s.store.Transaction(func(tx *gorm.DB) error {
		var err error
		agg, err = s.store.FindPlayerAggregate(tx, steamID)
		return err
	})
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transient"})
		return
	}

	c.JSON(http.StatusOK, engine.BuildDocument(agg, true))
}
