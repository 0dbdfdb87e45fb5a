// Package config defines the daemon configuration schema, loading and
// validation. The file format is TOML; environment variables override file
// values before validation runs.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// Default watch-path allow-list for the log file tailer.
var DefaultWatchAllowList = []string{"/var/log", "/tmp"}

// Config is the root daemon configuration.
type Config struct {
	General   General   `toml:"general"`
	Netfeed   Netfeed   `toml:"netfeed"`
	LogPipe   LogPipe   `toml:"log_pipeline"`
	Container Container `toml:"container"`
	Sbom      Sbom      `toml:"sbom"`
	Metrics   Metrics   `toml:"metrics"`
}

// General holds daemon-wide settings.
type General struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	DataDir   string `toml:"data_dir"`
	PidFile   string `toml:"pid_file"`
}

// Netfeed configures the kernel packet feed.
type Netfeed struct {
	Enabled             bool   `toml:"enabled"`
	Interface           string `toml:"interface"`
	XDPMode             string `toml:"xdp_mode"`
	MetricsIntervalSecs int    `toml:"metrics_interval_secs"`
}

// LogPipe configures the log pipeline.
type LogPipe struct {
	Enabled              bool     `toml:"enabled"`
	Sources              []string `toml:"sources"`
	SyslogBind           string   `toml:"syslog_bind"`
	WatchPaths           []string `toml:"watch_paths"`
	WatchAllowList       []string `toml:"watch_allow_list"`
	BatchSize            int      `toml:"batch_size"`
	FlushIntervalSecs    int      `toml:"flush_interval_secs"`
	RuleDir              string   `toml:"rule_dir"`
	RuleReloadSecs       int      `toml:"rule_reload_secs"`
	BufferCapacity       int      `toml:"buffer_capacity"`
	DropPolicy           string   `toml:"drop_policy"`
	AlertDedupWindowSecs int      `toml:"alert_dedup_window_secs"`
	AlertRateLimitPerRule int     `toml:"alert_rate_limit_per_rule"`
}

// Container configures the container guard.
type Container struct {
	Enabled          bool   `toml:"enabled"`
	DockerSocket     string `toml:"docker_socket"`
	PollIntervalSecs int    `toml:"poll_interval_secs"`
	PolicyPath       string `toml:"policy_path"`
	AutoIsolate      bool   `toml:"auto_isolate"`
}

// Sbom configures the SBOM scanner.
type Sbom struct {
	Enabled          bool            `toml:"enabled"`
	ScanDirs         []string        `toml:"scan_dirs"`
	VulnDBPath       string          `toml:"vuln_db_path"`
	VulnDBUpdateHours int            `toml:"vuln_db_update_hours"`
	MinSeverity      models.Severity `toml:"min_severity"`
	OutputFormat     string          `toml:"output_format"`
}

// Metrics configures the Prometheus exposition endpoint.
type Metrics struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
	Port       int    `toml:"port"`
	Endpoint   string `toml:"endpoint"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	return Config{
		General: General{
			LogLevel:  "info",
			LogFormat: "json",
			DataDir:   "/var/lib/ironpost",
		},
		Netfeed: Netfeed{
			Enabled:             false,
			XDPMode:             "skb",
			MetricsIntervalSecs: 10,
		},
		LogPipe: LogPipe{
			Enabled:               true,
			Sources:               []string{"syslog", "file"},
			SyslogBind:            "0.0.0.0:514",
			WatchPaths:            []string{"/var/log/syslog"},
			WatchAllowList:        DefaultWatchAllowList,
			BatchSize:             100,
			FlushIntervalSecs:     5,
			RuleDir:               "/etc/ironpost/rules",
			RuleReloadSecs:        30,
			BufferCapacity:        10_000,
			DropPolicy:            "oldest",
			AlertDedupWindowSecs:  60,
			AlertRateLimitPerRule: 10,
		},
		Container: Container{
			Enabled:          true,
			DockerSocket:     "/var/run/docker.sock",
			PollIntervalSecs: 10,
			PolicyPath:       "/etc/ironpost/policies",
			AutoIsolate:      true,
		},
		Sbom: Sbom{
			Enabled:           false,
			VulnDBPath:        "/var/lib/ironpost/vulndb.json",
			VulnDBUpdateHours: 24,
			MinSeverity:       models.SeverityLow,
			OutputFormat:      "cyclonedx",
		},
		Metrics: Metrics{
			Enabled:    true,
			ListenAddr: "127.0.0.1",
			Port:       9187,
			Endpoint:   "/metrics",
		},
	}
}

// fieldError reports an invalid configuration value naming the field.
func fieldError(field, reason string) error {
	return models.NewError(models.ErrKindConfig, field, reason)
}

// Validate checks every section. The first offending field aborts.
func (c *Config) Validate() error {
	switch c.General.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fieldError("general.log_level", fmt.Sprintf("must be one of trace|debug|info|warn|error, got %q", c.General.LogLevel))
	}
	switch c.General.LogFormat {
	case "json", "pretty":
	default:
		return fieldError("general.log_format", fmt.Sprintf("must be json or pretty, got %q", c.General.LogFormat))
	}
	if !filepath.IsAbs(c.General.DataDir) {
		return fieldError("general.data_dir", "must be an absolute path")
	}

	if c.Netfeed.Enabled {
		if c.Netfeed.Interface == "" {
			return fieldError("netfeed.interface", "required when netfeed is enabled")
		}
		switch c.Netfeed.XDPMode {
		case "skb", "native", "offload":
		default:
			return fieldError("netfeed.xdp_mode", fmt.Sprintf("must be skb|native|offload, got %q", c.Netfeed.XDPMode))
		}
		if c.Netfeed.MetricsIntervalSecs < 1 {
			return fieldError("netfeed.metrics_interval_secs", "must be >= 1")
		}
	}

	if c.LogPipe.Enabled {
		if c.LogPipe.BatchSize < 1 || c.LogPipe.BatchSize > 100_000 {
			return fieldError("log_pipeline.batch_size", "must be in [1, 100000]")
		}
		if c.LogPipe.FlushIntervalSecs < 1 || c.LogPipe.FlushIntervalSecs > 3600 {
			return fieldError("log_pipeline.flush_interval_secs", "must be in [1, 3600]")
		}
		if c.LogPipe.BufferCapacity < 1 || c.LogPipe.BufferCapacity > 10_000_000 {
			return fieldError("log_pipeline.buffer_capacity", "must be in [1, 10000000]")
		}
		switch c.LogPipe.DropPolicy {
		case "oldest", "newest":
		default:
			return fieldError("log_pipeline.drop_policy", fmt.Sprintf("must be oldest or newest, got %q", c.LogPipe.DropPolicy))
		}
		if c.LogPipe.AlertDedupWindowSecs < 0 {
			return fieldError("log_pipeline.alert_dedup_window_secs", "must be >= 0")
		}
		if c.LogPipe.AlertRateLimitPerRule < 1 {
			return fieldError("log_pipeline.alert_rate_limit_per_rule", "must be >= 1")
		}
		allow := c.LogPipe.WatchAllowList
		if len(allow) == 0 {
			allow = DefaultWatchAllowList
		}
		for _, p := range c.LogPipe.WatchPaths {
			if err := ValidateWatchPath(p, allow); err != nil {
				return err
			}
		}
	}

	if c.Container.Enabled {
		if c.Container.PollIntervalSecs < 1 {
			return fieldError("container.poll_interval_secs", "must be >= 1")
		}
		if c.Container.DockerSocket == "" {
			return fieldError("container.docker_socket", "must not be empty")
		}
	}

	if c.Sbom.Enabled {
		if len(c.Sbom.ScanDirs) == 0 {
			return fieldError("sbom.scan_dirs", "at least one scan directory required")
		}
		if c.Sbom.VulnDBUpdateHours < 1 {
			return fieldError("sbom.vuln_db_update_hours", "must be >= 1")
		}
		switch c.Sbom.OutputFormat {
		case "cyclonedx", "spdx":
		default:
			return fieldError("sbom.output_format", fmt.Sprintf("must be cyclonedx or spdx, got %q", c.Sbom.OutputFormat))
		}
	}

	if c.Metrics.Enabled && c.Metrics.Endpoint != "/metrics" {
		return fieldError("metrics.endpoint", "must be /metrics")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fieldError("metrics.port", "must be a valid TCP port")
	}

	return nil
}

// ValidateWatchPath accepts path only if it is absolute, contains no ".."
// component, and sits under one of the allow-list roots.
func ValidateWatchPath(path string, allowList []string) error {
	if path == "" {
		return fieldError("log_pipeline.watch_paths", "watch path must not be empty")
	}
	if !filepath.IsAbs(path) {
		return fieldError("log_pipeline.watch_paths", fmt.Sprintf("%q is not absolute", path))
	}
	for _, comp := range strings.Split(path, string(filepath.Separator)) {
		if comp == ".." {
			return fieldError("log_pipeline.watch_paths", fmt.Sprintf("%q contains a parent traversal", path))
		}
	}
	clean := filepath.Clean(path)
	for _, root := range allowList {
		root = filepath.Clean(root)
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return nil
		}
	}
	return fieldError("log_pipeline.watch_paths", fmt.Sprintf("%q is outside the allow-list %v", path, allowList))
}
