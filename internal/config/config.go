package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"http"`

	JWT struct {
		// empty secret leaves the observer endpoint open
		Secret string `yaml:"secret"`
	} `yaml:"jwt"`

	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`

	AMI struct {
		Host           string        `yaml:"host"`
		Port           int           `yaml:"port"`
		Username       string        `yaml:"username"`
		Password       string        `yaml:"password"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PollInterval   time.Duration `yaml:"poll_interval"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		IgnoreContexts []string      `yaml:"ignore_contexts"`
		EventLog       string        `yaml:"event_log"`
	} `yaml:"ami"`

	Stats struct {
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
		Timezone      string `yaml:"timezone"`
	} `yaml:"stats"`

	WS struct {
		WriteWait  time.Duration `yaml:"write_wait"`
		PongWait   time.Duration `yaml:"pong_wait"`
		SendBuffer int           `yaml:"send_buffer"`
	} `yaml:"ws"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// DefaultIgnoreContexts are dialplan contexts used by queue distribution
// and internal transfers. Dial completions in them are not agent calls.
var DefaultIgnoreContexts = []string{
	"from-queue",
	"ext-queues",
	"macro-dial-one",
	"from-internal-xfer",
}

func Default() *Config {
	var c Config

	c.HTTP.Addr = ":3001"
	c.HTTP.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	c.AMI.Host = "127.0.0.1"
	c.AMI.Port = 5038
	c.AMI.ReconnectDelay = 5 * time.Second
	c.AMI.PollInterval = 60 * time.Second
	c.AMI.PingInterval = 30 * time.Second
	c.AMI.IgnoreContexts = append([]string(nil), DefaultIgnoreContexts...)

	c.Stats.Path = "queuewatch.db"
	c.Stats.RetentionDays = 7
	c.Stats.Timezone = "UTC"

	c.WS.WriteWait = 10 * time.Second
	c.WS.PongWait = 60 * time.Second
	c.WS.SendBuffer = 256

	c.Log.Level = "info"

	return &c
}

// Load reads the YAML file at path (a missing file is not an error), then
// .env, then applies environment overrides on top.
func Load(path string) (*Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	_ = godotenv.Load()

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	setString(&c.HTTP.Addr, "HTTP_ADDR")
	setString(&c.DB.DSN, "DB_DSN")
	setString(&c.JWT.Secret, "JWT_SECRET")
	setString(&c.AMI.Host, "AMI_HOST")
	setString(&c.AMI.Username, "AMI_USER")
	setString(&c.AMI.Password, "AMI_PASS")
	setString(&c.AMI.EventLog, "AMI_EVENT_LOG")
	setString(&c.Stats.Path, "STATS_PATH")
	setString(&c.Log.Level, "LOG_LEVEL")

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.HTTP.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("AMI_IGNORE_CONTEXTS"); v != "" {
		c.AMI.IgnoreContexts = splitList(v)
	}

	if v := os.Getenv("AMI_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid AMI_PORT: %w", err)
		}
		c.AMI.Port = port
	}

	if v := os.Getenv("AMI_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid AMI_POLL_INTERVAL: %w", err)
		}
		c.AMI.PollInterval = d
	}

	return nil
}

func (c *Config) Validate() error {
	if c.AMI.Port <= 0 || c.AMI.Port > 65535 {
		return fmt.Errorf("ami.port out of range: %d", c.AMI.Port)
	}
	if c.AMI.ReconnectDelay <= 0 {
		return errors.New("ami.reconnect_delay must be positive")
	}
	if c.AMI.PollInterval <= 0 {
		return errors.New("ami.poll_interval must be positive")
	}
	if c.Stats.RetentionDays <= 0 {
		return errors.New("stats.retention_days must be positive")
	}
	if _, err := time.LoadLocation(c.Stats.Timezone); err != nil {
		return fmt.Errorf("stats.timezone: %w", err)
	}
	if c.WS.PongWait <= 0 || c.WS.WriteWait <= 0 {
		return errors.New("ws timeouts must be positive")
	}
	return nil
}

// AMIAddr is host:port of the manager interface.
func (c *Config) AMIAddr() string {
	return fmt.Sprintf("%s:%d", c.AMI.Host, c.AMI.Port)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
