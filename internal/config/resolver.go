package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envOverride maps one environment variable to exactly one dotted
// configuration path. The table is fixed: overrides are never pattern-matched
// or discovered dynamically, so a variable can never target an ambiguous
// location.
type envOverride struct {
	variable string
	path     string
	coerce   func(raw string) (interface{}, error)
}

func coerceString(raw string) (interface{}, error) { return raw, nil }

func coerceInt(raw string) (interface{}, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("not an integer: %q", raw)
	}
	return n, nil
}

// envOverrides is the complete override table.
var envOverrides = []envOverride{
	{"REDIS_URL", "redis.url", coerceString},
	{"REDIS_DB", "redis.db", coerceInt},
	{"REDIS_COLLECTION", "redis.collection_name", coerceString},
	{"MCP_SERVER_NAME", "server.name", coerceString},
	{"MCP_LOG_LEVEL", "server.log_level", coerceString},
	{"OLLAMA_MODEL", "mem0.llm.config.model", coerceString},
	{"OLLAMA_EMBED_MODEL", "mem0.embedder.config.model", coerceString},
}

// Options controls a single resolution pass.
type Options struct {
	// Path is an explicit config file path. When set it must exist; when
	// empty the fixed search order is used and "no file" falls back to
	// defaults without error.
	Path string

	// Getenv supplies environment lookups. Nil means os.Getenv, in which
	// case a .env file in the working directory is loaded first (real
	// environment values win over .env entries).
	Getenv func(string) string
}

// Resolve merges defaults, the discovered config file, and environment
// overrides, validates the result, and constructs the immutable Config.
// Construction is atomic: the first violation aborts with a *ConfigError and
// no Config is produced.
func Resolve(opts Options) (*Config, error) {
	getenv := opts.Getenv
	if getenv == nil {
		// Best-effort: a missing .env file is not an error.
		_ = godotenv.Load()
		getenv = os.Getenv
	}

	merged := defaults()

	path, err := findConfigFile(opts.Path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		file, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		merge(merged, file)
		log.Debug("loaded configuration file", "path", path)
	} else {
		log.Debug("no configuration file found, using defaults")
	}

	if err := applyEnvOverrides(merged, getenv); err != nil {
		return nil, err
	}

	if violations := checkFragment(merged); len(violations) > 0 {
		return nil, violations[0]
	}

	return decode(merged)
}

// findConfigFile locates the config file. An explicit path must exist; the
// search order otherwise is fixed and stops at the first file that exists:
// ./config.json, ./memgate.json, ~/.memgate/config.json,
// /etc/memgate/config.json. Returns "" when nothing is found.
func findConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config: file %s: %w", explicit, err)
		}
		return explicit, nil
	}

	candidates := []string{
		"config.json",
		"memgate.json",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".memgate", "config.json"))
	}
	candidates = append(candidates, "/etc/memgate/config.json")

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

// loadFile reads one config file into a fragment. Files are JSON unless the
// path ends in .yaml or .yml. The top level must be an object.
func loadFile(path string) (Fragment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw map[string]interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("config: %s must contain an object at the top level", path)
	}
	return Fragment(raw), nil
}

// applyEnvOverrides walks the fixed override table and writes each set
// variable into the fragment, coercing the raw string to the target type.
// A value that cannot be coerced is a configuration error naming the path.
func applyEnvOverrides(f Fragment, getenv func(string) string) error {
	for _, ov := range envOverrides {
		raw := getenv(ov.variable)
		if raw == "" {
			continue
		}
		value, err := ov.coerce(raw)
		if err != nil {
			return &ConfigError{Path: ov.path, Constraint: fmt.Sprintf("override %s: %v", ov.variable, err)}
		}
		setPath(f, ov.path, value)
		log.Debug("applied environment override", "variable", ov.variable, "path", ov.path)
	}
	return nil
}

// decode converts a validated fragment into the typed Config. The round trip
// through JSON keeps the struct tags as the single source of field naming.
func decode(f Fragment) (*Config, error) {
	data, err := json.Marshal(map[string]interface{}(f))
	if err != nil {
		return nil, fmt.Errorf("config: encode merged fragment: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode merged fragment: %w", err)
	}
	return &cfg, nil
}
