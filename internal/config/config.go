package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingCredentials = errors.New("config: EMAIL_USERNAME and EMAIL_PASSWORD are required")
	ErrInvalidProjectDir  = errors.New("config: project directory is not a directory")
)

// Config is built once at startup and handed to every component by value or
// pointer; nothing reads the environment after Load returns.
type Config struct {
	Account  Account  `yaml:"account"`
	IMAP     IMAP     `yaml:"imap"`
	SMTP     SMTP     `yaml:"smtp"`
	Bridge   Bridge   `yaml:"bridge"`
	Queue    Queue    `yaml:"queue"`
	Executor Executor `yaml:"executor"`
	Redis    Redis    `yaml:"redis"`
	API      API      `yaml:"api"`
	Log      Log      `yaml:"log"`
}

type Account struct {
	Username  string   `env:"EMAIL_USERNAME" yaml:"username"`
	Password  string   `env:"EMAIL_PASSWORD" yaml:"password"`
	Whitelist []string `env:"EMAIL_WHITELIST" envSeparator:"," yaml:"whitelist"`
}

type IMAP struct {
	Server      string        `env:"IMAP_SERVER" envDefault:"imap.qq.com" yaml:"server"`
	Port        int           `env:"IMAP_PORT" envDefault:"993" yaml:"port"`
	Username    string        `env:"IMAP_USERNAME" yaml:"username"`
	Password    string        `env:"IMAP_PASSWORD" yaml:"password"`
	TLS         bool          `env:"IMAP_TLS" envDefault:"true" yaml:"tls"`
	IdleTimeout time.Duration `env:"IMAP_IDLE_TIMEOUT" envDefault:"290s" yaml:"idle_timeout"`
}

type SMTP struct {
	Server   string `env:"SMTP_SERVER" envDefault:"smtp.qq.com" yaml:"server"`
	Port     int    `env:"SMTP_PORT" envDefault:"465" yaml:"port"`
	Username string `env:"SMTP_USERNAME" yaml:"username"`
	Password string `env:"SMTP_PASSWORD" yaml:"password"`
	TLS      bool   `env:"SMTP_TLS" envDefault:"true" yaml:"tls"`
	// StartTLS upgrades a plain connection; ignored when TLS is set.
	StartTLS bool `env:"SMTP_STARTTLS" yaml:"starttls"`
	From     string `env:"SMTP_FROM" yaml:"from"`
}

type Bridge struct {
	PollInterval        time.Duration `env:"POLLING_INTERVAL" envDefault:"30s" yaml:"poll_interval"`
	MaxRetries          int           `env:"MAX_RETRIES" envDefault:"3" yaml:"max_retries"`
	StuckTimeout        time.Duration `env:"STUCK_TIMEOUT" envDefault:"30m" yaml:"stuck_timeout"`
	Retention           time.Duration `env:"RETENTION" envDefault:"168h" yaml:"retention"`
	MaintenanceInterval time.Duration `env:"MAINTENANCE_INTERVAL" envDefault:"1h" yaml:"maintenance_interval"`
	HTMLReplies         bool          `env:"MAIL_HTML_REPLIES" envDefault:"true" yaml:"html_replies"`
}

type Queue struct {
	DatabasePath string `env:"DATABASE_PATH" envDefault:"commands.db" yaml:"database_path"`
}

type Executor struct {
	Binary       string        `env:"CLAUDE_BINARY" envDefault:"claude" yaml:"binary"`
	Timeout      time.Duration `env:"CLAUDE_TIMEOUT" envDefault:"1h" yaml:"timeout"`
	ProjectDir   string        `env:"CLAUDE_PROJECT_DIR" yaml:"project_dir"`
	OutputFile   string        `env:"CLAUDE_OUTPUT_FILE" envDefault:"claude_output.txt" yaml:"output_file"`
	IdleTimeout  time.Duration `env:"CLAUDE_IDLE_TIMEOUT" envDefault:"5s" yaml:"idle_timeout"`
	StartupDelay time.Duration `env:"CLAUDE_STARTUP_DELAY" envDefault:"1s" yaml:"startup_delay"`
	Markers      []string      `env:"SUMMARY_MARKERS" envSeparator:"," envDefault:"Total cost:,会话总结,Session Summary" yaml:"markers"`
}

type Redis struct {
	Addr      string `env:"REDIS_ADDRESS" yaml:"addr"`
	Password  string `env:"REDIS_PASSWORD" yaml:"password"`
	DB        int    `env:"REDIS_DB" yaml:"db"`
	StreamKey string `env:"REDIS_STREAM_KEY" envDefault:"mailbridge:events" yaml:"stream_key"`
}

type API struct {
	Addr string `env:"API_ADDR" yaml:"addr"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info" yaml:"level"`
	Format string `env:"LOG_FORMAT" envDefault:"console" yaml:"format"`
}

// Load reads .env (existing variables win), the process environment and,
// when file is non-empty, a YAML overlay.
func Load(file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", file, err)
		}
	}

	if err := c.normalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) normalize() error {
	if c.IMAP.Username == "" {
		c.IMAP.Username = c.Account.Username
	}
	if c.IMAP.Password == "" {
		c.IMAP.Password = c.Account.Password
	}
	if c.SMTP.Username == "" {
		c.SMTP.Username = c.Account.Username
	}
	if c.SMTP.Password == "" {
		c.SMTP.Password = c.Account.Password
	}
	if c.SMTP.From == "" {
		c.SMTP.From = c.SMTP.Username
	}

	if c.Executor.ProjectDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		c.Executor.ProjectDir = wd
	}
	abs, err := filepath.Abs(c.Executor.ProjectDir)
	if err != nil {
		return fmt.Errorf("resolve project directory: %w", err)
	}
	c.Executor.ProjectDir = abs

	whitelist := c.Account.Whitelist[:0]
	for _, w := range c.Account.Whitelist {
		if w != "" {
			whitelist = append(whitelist, w)
		}
	}
	c.Account.Whitelist = whitelist
	return nil
}

// Validate checks what the bridge loop needs before it connects anywhere.
func (c *Config) Validate() error {
	if c.IMAP.Username == "" || c.IMAP.Password == "" || c.SMTP.Username == "" || c.SMTP.Password == "" {
		return ErrMissingCredentials
	}
	if c.Bridge.MaxRetries < 0 {
		return fmt.Errorf("config: MAX_RETRIES must not be negative, got %d", c.Bridge.MaxRetries)
	}
	if c.Bridge.PollInterval <= 0 {
		return fmt.Errorf("config: POLLING_INTERVAL must be positive, got %s", c.Bridge.PollInterval)
	}
	fi, err := os.Stat(c.Executor.ProjectDir)
	if err != nil {
		return fmt.Errorf("config: project directory %s: %w", c.Executor.ProjectDir, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s", ErrInvalidProjectDir, c.Executor.ProjectDir)
	}
	return nil
}

func (i IMAP) Addr() string { return fmt.Sprintf("%s:%d", i.Server, i.Port) }

func (s SMTP) Addr() string { return fmt.Sprintf("%s:%d", s.Server, s.Port) }
