package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DatabaseSqlite   = "sqlite"
	DatabasePostgres = "pgsql"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
	Discord  *discordConfig
	Board    *boardConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"sqlite"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"pusherbot.db"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address         string `envconfig:"PUSHERBOT_ADDRESS" default:":8080"`
	LogLevel        string `envconfig:"PUSHERBOT_LOG_LEVEL" default:"info"`
	LogEncoding     string `envconfig:"PUSHERBOT_LOG_ENCODING" default:"console"`
	MigrationFolder string `envconfig:"PUSHERBOT_MIGRATIONS_FOLDER" default:""`
}

type discordConfig struct {
	Token             string   `envconfig:"DISCORD_TOKEN" default:""`
	GuildID           string   `envconfig:"DISCORD_GUILD_ID" default:""`
	MemberRoleIDs     []string `envconfig:"PUSHERBOT_MEMBER_ROLE_IDS" default:""`
	AdminRoleIDs      []string `envconfig:"PUSHERBOT_ADMIN_ROLE_IDS" default:""`
	WorkerRoleID      string   `envconfig:"PUSHERBOT_WORKER_ROLE_ID" default:""`
	SuperAdminID      string   `envconfig:"PUSHERBOT_SUPER_ADMIN_ID" default:""`
	BoardChannelID    string   `envconfig:"PUSHERBOT_BOARD_CHANNEL_ID" default:""`
	MemberChannelID   string   `envconfig:"PUSHERBOT_MEMBER_CHANNEL_ID" default:""`
	StatsChannelID    string   `envconfig:"PUSHERBOT_STATS_CHANNEL_ID" default:""`
	PrivateCategoryID string   `envconfig:"PUSHERBOT_PRIVATE_CATEGORY_ID" default:""`
}

type boardConfig struct {
	// CompletionPolicy decides who may mark a job complete: requester, claimant or participant.
	CompletionPolicy      string        `envconfig:"PUSHERBOT_COMPLETION_POLICY" default:"requester"`
	Scoring               string        `envconfig:"PUSHERBOT_SCORING" default:"points"`
	CancelTeardownDelay   time.Duration `envconfig:"PUSHERBOT_CANCEL_TEARDOWN_DELAY" default:"10s"`
	CompleteTeardownDelay time.Duration `envconfig:"PUSHERBOT_COMPLETE_TEARDOWN_DELAY" default:"10s"`
	ForceCloseDelay       time.Duration `envconfig:"PUSHERBOT_FORCE_CLOSE_DELAY" default:"5s"`
	StatsRefreshInterval  time.Duration `envconfig:"PUSHERBOT_STATS_REFRESH_INTERVAL" default:"5m"`
	RecentCompletions     int           `envconfig:"PUSHERBOT_RECENT_COMPLETIONS" default:"5"`
}

// New reads the configuration from the environment, after loading a .env
// file from the working directory if there is one.
func New() (*Config, error) {
	if singleConfig == nil {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading .env: %w", err)
		}

		cfg := new(Config)
		if err := envconfig.Process("", cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		singleConfig = cfg
	}
	return singleConfig, nil
}

// NewDefault returns a configuration backed by a fresh sqlite file in the
// temporary directory. Tests use it.
func NewDefault() *Config {
	return &Config{
		Database: &dbConfig{
			Type: DatabaseSqlite,
			Name: filepath.Join(os.TempDir(), fmt.Sprintf("pusherbot-%s.db", uuid.NewString())),
		},
		Service: &svcConfig{
			Address:     "localhost:0",
			LogLevel:    "debug",
			LogEncoding: "console",
		},
		Discord: &discordConfig{},
		Board: &boardConfig{
			CompletionPolicy:      "requester",
			Scoring:               "points",
			CancelTeardownDelay:   10 * time.Second,
			CompleteTeardownDelay: 10 * time.Second,
			ForceCloseDelay:       5 * time.Second,
			StatsRefreshInterval:  5 * time.Minute,
			RecentCompletions:     5,
		},
	}
}

func (c *Config) Validate() error {
	switch c.Database.Type {
	case DatabaseSqlite, DatabasePostgres:
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}

	switch c.Board.CompletionPolicy {
	case "requester", "claimant", "participant":
	default:
		return fmt.Errorf("unsupported completion policy %q", c.Board.CompletionPolicy)
	}

	switch c.Board.Scoring {
	case "points", "count":
	default:
		return fmt.Errorf("unsupported scoring %q", c.Board.Scoring)
	}

	if c.Board.StatsRefreshInterval <= 0 {
		return errors.New("stats refresh interval must be positive")
	}

	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf("db=%s(%s) address=%s guild=%s completion=%s scoring=%s",
		c.Database.Type, c.Database.Name, c.Service.Address, c.Discord.GuildID,
		c.Board.CompletionPolicy, c.Board.Scoring)
}
