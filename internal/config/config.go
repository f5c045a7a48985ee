// Package config loads the PiDeck runtime configuration from the environment
// and the optional log source file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultEnvFile = ".env"

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrLogSources    = errors.New("invalid log sources file")
)

// Config is the full set of knobs. Every field has a working default so a
// bare `pideck serve` starts on a stock Raspberry Pi OS install.
type Config struct {
	ListenAddr string `env:"PIDECK_LISTEN_ADDR" envDefault:"127.0.0.1:5006"`
	LogLevel   string `env:"PIDECK_LOG_LEVEL"   envDefault:"info"`
	LogFormat  string `env:"PIDECK_LOG_FORMAT"  envDefault:"text"`
	// LogFile additionally tees application logs to a file when set.
	LogFile string `env:"PIDECK_LOG_FILE"`

	PollInterval    time.Duration `env:"PIDECK_POLL_INTERVAL"     envDefault:"5s"`
	SnapshotMaxAge  time.Duration `env:"PIDECK_SNAPSHOT_MAX_AGE"  envDefault:"2s"`
	SubFetchTimeout time.Duration `env:"PIDECK_SUBFETCH_TIMEOUT"  envDefault:"3s"`
	CommandTimeout  time.Duration `env:"PIDECK_COMMAND_TIMEOUT"   envDefault:"2s"`
	HostInfoTTL     time.Duration `env:"PIDECK_HOST_INFO_TTL"     envDefault:"60s"`
	BootstrapDelay  time.Duration `env:"PIDECK_BOOTSTRAP_DELAY"   envDefault:"500ms"`
	MinSampleGap    time.Duration `env:"PIDECK_MIN_SAMPLE_GAP"    envDefault:"50ms"`
	ThermalZonePath string        `env:"PIDECK_THERMAL_ZONE_PATH" envDefault:"/sys/class/thermal/thermal_zone0/temp"`
	ThermalDir      string        `env:"PIDECK_THERMAL_DIR"       envDefault:"/sys/class/thermal"`
	CPUSysPath      string        `env:"PIDECK_CPU_SYS_PATH"      envDefault:"/sys/devices/system/cpu"`
	SysBlockPath    string        `env:"PIDECK_SYS_BLOCK_PATH"    envDefault:"/sys/class/block"`
	TopProcesses    int           `env:"PIDECK_TOP_PROCESSES"     envDefault:"5"`

	HistoryBackend   string        `env:"PIDECK_HISTORY_BACKEND"   envDefault:"sqlite"`
	HistoryPath      string        `env:"PIDECK_HISTORY_PATH"      envDefault:"pideck-history.db"`
	HistoryRetention time.Duration `env:"PIDECK_HISTORY_RETENTION" envDefault:"24h"`
	HistoryQueue     int           `env:"PIDECK_HISTORY_QUEUE"     envDefault:"32"`

	TemperatureThreshold float64 `env:"PIDECK_TEMPERATURE_THRESHOLD" envDefault:"70"`

	LogsDir        string   `env:"PIDECK_LOGS_DIR,expand"    envDefault:"${HOME}/logs"`
	LogRoots       []string `env:"PIDECK_LOG_ROOTS,expand"   envDefault:"${HOME}/logs,/var/log,${HOME}/.pm2/logs" envSeparator:","`
	LogSourcesFile string   `env:"PIDECK_LOG_SOURCES_FILE"`
	PM2LogsDir     string   `env:"PIDECK_PM2_LOGS_DIR,expand" envDefault:"${HOME}/.pm2/logs"`

	LogMaxFileSize     int64         `env:"PIDECK_LOG_MAX_FILE_SIZE"     envDefault:"20971520"`
	TailWindowBytes    int64         `env:"PIDECK_TAIL_WINDOW_BYTES"     envDefault:"1048576"`
	TailDefaultLines   int           `env:"PIDECK_TAIL_DEFAULT_LINES"    envDefault:"500"`
	TailMaxLines       int           `env:"PIDECK_TAIL_MAX_LINES"        envDefault:"5000"`
	LargeFileScanLines int           `env:"PIDECK_LARGE_FILE_SCAN_LINES" envDefault:"50000"`
	TailTimeout        time.Duration `env:"PIDECK_TAIL_TIMEOUT"          envDefault:"10s"`
	FollowKeepalive    time.Duration `env:"PIDECK_FOLLOW_KEEPALIVE"      envDefault:"25s"`
	FollowBuffer       int           `env:"PIDECK_FOLLOW_BUFFER"         envDefault:"256"`

	Password       string        `env:"PIDECK_PASSWORD"`
	SessionSecret  string        `env:"PIDECK_SESSION_SECRET"`
	SessionTTL     time.Duration `env:"PIDECK_SESSION_TTL"      envDefault:"168h"`
	SecureCookies  bool          `env:"PIDECK_SECURE_COOKIES"   envDefault:"true"`
	AllowedOrigins []string      `env:"PIDECK_ALLOWED_ORIGINS"  envSeparator:","`
	AllowedIPs     []string      `env:"PIDECK_ALLOWED_IPS"      envSeparator:","`
	RequestRate    float64       `env:"PIDECK_REQUEST_RATE"     envDefault:"50"`
	RequestBurst   int           `env:"PIDECK_REQUEST_BURST"    envDefault:"100"`
	LoginAttempts  int           `env:"PIDECK_LOGIN_ATTEMPTS"   envDefault:"10"`
	LoginWindow    time.Duration `env:"PIDECK_LOGIN_WINDOW"     envDefault:"10m"`
}

// LogSource is one allow-listed log file.
type LogSource struct {
	// ID is the stable identifier used in URLs.
	ID string `yaml:"id"`
	// Name is shown in the UI; defaults to ID.
	Name string `yaml:"name"`
	// Path is the absolute path of the file.
	Path string `yaml:"path"`
}

type logSourcesFile struct {
	Sources []LogSource `yaml:"sources"`
}

var sourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Load reads envFile when it exists, then parses the environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	switch c.HistoryBackend {
	case "sqlite", "badger", "memory":
	default:
		return fmt.Errorf("%w: unknown history backend %q", ErrInvalidConfig, c.HistoryBackend)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	}
	if c.HistoryRetention <= 0 {
		return fmt.Errorf("%w: history retention must be positive", ErrInvalidConfig)
	}
	if c.TailMaxLines < 1 || c.TailDefaultLines < 1 {
		return fmt.Errorf("%w: tail line limits must be at least 1", ErrInvalidConfig)
	}
	if c.FollowBuffer < 1 {
		return fmt.Errorf("%w: follow buffer must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// DefaultLogSources is the built-in allow-list used when no sources file is
// configured.
func (c Config) DefaultLogSources() []LogSource {
	return []LogSource{
		{ID: "nginx_access", Name: "Nginx access", Path: "/var/log/nginx/access.log"},
		{ID: "nginx_error", Name: "Nginx error", Path: "/var/log/nginx/error.log"},
		{ID: "pm2_pideck_out", Name: "PM2 pideck (out)", Path: filepath.Join(c.PM2LogsDir, "pideck-out.log")},
		{ID: "pm2_pideck_err", Name: "PM2 pideck (err)", Path: filepath.Join(c.PM2LogsDir, "pideck-error.log")},
		{ID: "syslog", Name: "System log", Path: "/var/log/syslog"},
	}
}

// LogSources returns the allow-list from LogSourcesFile, or the defaults.
func (c Config) LogSources() ([]LogSource, error) {
	if c.LogSourcesFile == "" {
		return c.DefaultLogSources(), nil
	}
	return LoadLogSources(c.LogSourcesFile)
}

// LoadLogSources parses a YAML allow-list of the form
//
//	sources:
//	  - id: nginx_access
//	    name: Nginx access
//	    path: /var/log/nginx/access.log
func LoadLogSources(path string) ([]LogSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLogSources, err)
	}

	var file logSourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLogSources, err)
	}

	seen := make(map[string]bool, len(file.Sources))
	sources := make([]LogSource, 0, len(file.Sources))
	for _, src := range file.Sources {
		src.ID = strings.TrimSpace(src.ID)
		if !sourceIDPattern.MatchString(src.ID) {
			return nil, fmt.Errorf("%w: bad id %q", ErrLogSources, src.ID)
		}
		if seen[src.ID] {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrLogSources, src.ID)
		}
		if !filepath.IsAbs(src.Path) {
			return nil, fmt.Errorf("%w: path for %q must be absolute", ErrLogSources, src.ID)
		}
		if src.Name == "" {
			src.Name = src.ID
		}
		seen[src.ID] = true
		sources = append(sources, src)
	}

	return sources, nil
}
