package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// EnvPrefix scopes the environment override namespace.
const EnvPrefix = "IRONPOST"

// Load reads the TOML file at path, applies environment overrides and
// validates the result. An empty path yields defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return cfg, models.WrapError(models.ErrKindConfig, path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return cfg, models.NewError(models.ErrKindConfig, keys[0],
				fmt.Sprintf("unknown configuration keys: %s", strings.Join(keys, ", ")))
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg fields from IRONPOST_<SECTION>_<FIELD> variables.
// lookup is os.LookupEnv in production; injected by tests.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) error {
		if v, ok := lookup(EnvPrefix + "_" + key); ok {
			*dst = v
		}
		return nil
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(EnvPrefix + "_" + key)
		if !ok {
			return nil
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return models.NewError(models.ErrKindConfig, EnvPrefix+"_"+key, "must be a boolean")
		}
		*dst = parsed
		return nil
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + "_" + key)
		if !ok {
			return nil
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return models.NewError(models.ErrKindConfig, EnvPrefix+"_"+key, "must be an integer")
		}
		*dst = parsed
		return nil
	}
	list := func(key string, dst *[]string) error {
		if v, ok := lookup(EnvPrefix + "_" + key); ok {
			parts := strings.Split(v, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			*dst = out
		}
		return nil
	}
	severity := func(key string, dst *models.Severity) error {
		v, ok := lookup(EnvPrefix + "_" + key)
		if !ok {
			return nil
		}
		parsed, err := models.ParseSeverity(v)
		if err != nil {
			return models.NewError(models.ErrKindConfig, EnvPrefix+"_"+key, err.Error())
		}
		*dst = parsed
		return nil
	}

	steps := []func() error{
		func() error { return str("GENERAL_LOG_LEVEL", &cfg.General.LogLevel) },
		func() error { return str("GENERAL_LOG_FORMAT", &cfg.General.LogFormat) },
		func() error { return str("GENERAL_DATA_DIR", &cfg.General.DataDir) },
		func() error { return str("GENERAL_PID_FILE", &cfg.General.PidFile) },

		func() error { return boolean("NETFEED_ENABLED", &cfg.Netfeed.Enabled) },
		func() error { return str("NETFEED_INTERFACE", &cfg.Netfeed.Interface) },
		func() error { return str("NETFEED_XDP_MODE", &cfg.Netfeed.XDPMode) },
		func() error { return integer("NETFEED_METRICS_INTERVAL_SECS", &cfg.Netfeed.MetricsIntervalSecs) },

		func() error { return boolean("LOG_PIPELINE_ENABLED", &cfg.LogPipe.Enabled) },
		func() error { return list("LOG_PIPELINE_SOURCES", &cfg.LogPipe.Sources) },
		func() error { return str("LOG_PIPELINE_SYSLOG_BIND", &cfg.LogPipe.SyslogBind) },
		func() error { return list("LOG_PIPELINE_WATCH_PATHS", &cfg.LogPipe.WatchPaths) },
		func() error { return integer("LOG_PIPELINE_BATCH_SIZE", &cfg.LogPipe.BatchSize) },
		func() error { return integer("LOG_PIPELINE_FLUSH_INTERVAL_SECS", &cfg.LogPipe.FlushIntervalSecs) },
		func() error { return str("LOG_PIPELINE_RULE_DIR", &cfg.LogPipe.RuleDir) },
		func() error { return integer("LOG_PIPELINE_RULE_RELOAD_SECS", &cfg.LogPipe.RuleReloadSecs) },
		func() error { return integer("LOG_PIPELINE_BUFFER_CAPACITY", &cfg.LogPipe.BufferCapacity) },
		func() error { return str("LOG_PIPELINE_DROP_POLICY", &cfg.LogPipe.DropPolicy) },
		func() error { return integer("LOG_PIPELINE_ALERT_DEDUP_WINDOW_SECS", &cfg.LogPipe.AlertDedupWindowSecs) },
		func() error { return integer("LOG_PIPELINE_ALERT_RATE_LIMIT_PER_RULE", &cfg.LogPipe.AlertRateLimitPerRule) },

		func() error { return boolean("CONTAINER_ENABLED", &cfg.Container.Enabled) },
		func() error { return str("CONTAINER_DOCKER_SOCKET", &cfg.Container.DockerSocket) },
		func() error { return integer("CONTAINER_POLL_INTERVAL_SECS", &cfg.Container.PollIntervalSecs) },
		func() error { return str("CONTAINER_POLICY_PATH", &cfg.Container.PolicyPath) },
		func() error { return boolean("CONTAINER_AUTO_ISOLATE", &cfg.Container.AutoIsolate) },

		func() error { return boolean("SBOM_ENABLED", &cfg.Sbom.Enabled) },
		func() error { return list("SBOM_SCAN_DIRS", &cfg.Sbom.ScanDirs) },
		func() error { return str("SBOM_VULN_DB_PATH", &cfg.Sbom.VulnDBPath) },
		func() error { return integer("SBOM_VULN_DB_UPDATE_HOURS", &cfg.Sbom.VulnDBUpdateHours) },
		func() error { return severity("SBOM_MIN_SEVERITY", &cfg.Sbom.MinSeverity) },
		func() error { return str("SBOM_OUTPUT_FORMAT", &cfg.Sbom.OutputFormat) },

		func() error { return boolean("METRICS_ENABLED", &cfg.Metrics.Enabled) },
		func() error { return str("METRICS_LISTEN_ADDR", &cfg.Metrics.ListenAddr) },
		func() error { return integer("METRICS_PORT", &cfg.Metrics.Port) },
		func() error { return str("METRICS_ENDPOINT", &cfg.Metrics.Endpoint) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
