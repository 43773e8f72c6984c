package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Sync     SyncConfig     `mapstructure:"sync"`
}

type ServerConfig struct {
	HTTPAddress    string `mapstructure:"http_address"`
	RPCAddress     string `mapstructure:"rpc_address"`
	MetricsAddress string `mapstructure:"metrics_address"`
	ListenAddress  string `mapstructure:"listen_address"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type SyncConfig struct {
	APIKey              string        `mapstructure:"api_key"`
	GameServers         string        `mapstructure:"game_servers"`
	ReconnectAttempts   int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay      time.Duration `mapstructure:"reconnect_delay"`
	ReconnectDelayMax   time.Duration `mapstructure:"reconnect_delay_max"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	AuditRetentionDays int           `mapstructure:"audit_retention_days"`
}

// GameServerEndpoint 每个游戏服务器的连接端点
type GameServerEndpoint struct {
	URL   string
	Token string
}

func LoadConfig(path string) (config *Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("server.http_address", ":8081")
	viper.SetDefault("server.rpc_address", ":8082")
	viper.SetDefault("server.metrics_address", ":9091")
	viper.SetDefault("server.listen_address", ":8090")
	viper.SetDefault("database.postgres.host", "localhost")
	viper.SetDefault("database.postgres.port", 5432)
	viper.SetDefault("database.postgres.max_open_conns", 25)
	viper.SetDefault("database.postgres.max_idle_conns", 10)
	viper.SetDefault("sync.reconnect_attempts", 0) // 0 = 无限重试
	viper.SetDefault("sync.reconnect_delay", time.Second)
	viper.SetDefault("sync.reconnect_delay_max", 30*time.Second)
	viper.SetDefault("sync.request_timeout", 10*time.Second)
	viper.SetDefault("sync.audit_retention_days", 90)

	// 环境变量优先于配置文件
	viper.AutomaticEnv()
	bindEnvKeys()

	if err = viper.ReadInConfig(); err != nil {
		// 没有配置文件时只用默认值和环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	err = viper.Unmarshal(&config)
	return
}

func bindEnvKeys() {
	viper.BindEnv("database.postgres.host", "DB_HOST")
	viper.BindEnv("database.postgres.port", "DB_PORT")
	viper.BindEnv("database.postgres.user", "DB_USER")
	viper.BindEnv("database.postgres.password", "DB_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DB_NAME")
	viper.BindEnv("database.postgres.max_open_conns", "DB_MAX_OPEN_CONNS")
	viper.BindEnv("database.postgres.max_idle_conns", "DB_MAX_IDLE_CONNS")
	viper.BindEnv("sync.api_key", "SYNC_API_KEY")
	viper.BindEnv("sync.game_servers", "GAME_SERVERS")
	viper.BindEnv("sync.reconnect_attempts", "GAME_SERVER_RECONNECT_ATTEMPTS")
	viper.BindEnv("sync.reconnect_delay", "GAME_SERVER_RECONNECT_DELAY")
	viper.BindEnv("sync.reconnect_delay_max", "GAME_SERVER_RECONNECT_DELAY_MAX")
	viper.BindEnv("sync.request_timeout", "GAME_SERVER_RECONNECT_TIMEOUT")
}

// ParseGameServers 解析 GAME_SERVERS 配置，格式: url|token,url|token
func (c *SyncConfig) ParseGameServers() ([]GameServerEndpoint, error) {
	if strings.TrimSpace(c.GameServers) == "" {
		return nil, nil
	}
	var endpoints []GameServerEndpoint
	for _, entry := range strings.Split(c.GameServers, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "|", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid game server entry %q, expected url|token", entry)
		}
		endpoints = append(endpoints, GameServerEndpoint{URL: parts[0], Token: parts[1]})
	}
	return endpoints, nil
}
