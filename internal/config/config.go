package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Platform  PlatformConfig  `mapstructure:"platform"`
	Guilds    []GuildConfig   `mapstructure:"guilds"`
	Invites   InvitesConfig   `mapstructure:"invites"`
	Giveaways GiveawaysConfig `mapstructure:"giveaways"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

// PlatformConfig 聊天平台接入配置
// APIBase 为 REST 接口地址，GatewayURL 为事件网关的 websocket 地址
type PlatformConfig struct {
	APIBase           string `mapstructure:"api_base"`
	GatewayURL        string `mapstructure:"gateway_url"`
	Token             string `mapstructure:"token"`
	RequestTimeout    int    `mapstructure:"request_timeout"`
	ReconnectInterval int    `mapstructure:"reconnect_interval"`
}

// GuildConfig 单个社区（guild）的接入配置
type GuildConfig struct {
	ID               int64  `mapstructure:"id"`
	Name             string `mapstructure:"name"`
	WelcomeChannelID int64  `mapstructure:"welcome_channel_id"`
	Enabled          bool   `mapstructure:"enabled"`
}

type InvitesConfig struct {
	FakeAccountAgeDays int `mapstructure:"fake_account_age_days"`
	DedupWindowMinutes int `mapstructure:"dedup_window_minutes"`
}

func (c *InvitesConfig) FakeAccountAge() time.Duration {
	days := c.FakeAccountAgeDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

func (c *InvitesConfig) DedupWindow() time.Duration {
	minutes := c.DedupWindowMinutes
	if minutes <= 0 {
		minutes = 15
	}
	return time.Duration(minutes) * time.Minute
}

type GiveawaysConfig struct {
	SweepCron string `mapstructure:"sweep_cron"`
}

func (c *GiveawaysConfig) Cron() string {
	if c.SweepCron == "" {
		return "*/5 * * * * *"
	}
	return c.SweepCron
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func (c *Config) GetGuildConfig(guildID int64) (*GuildConfig, error) {
	for _, guild := range c.Guilds {
		if guild.ID == guildID {
			return &guild, nil
		}
	}
	return nil, fmt.Errorf("guild config not found: %d", guildID)
}

func (c *Config) GetEnabledGuilds() []GuildConfig {
	var enabled []GuildConfig
	for _, guild := range c.Guilds {
		if guild.Enabled {
			enabled = append(enabled, guild)
		}
	}
	return enabled
}
