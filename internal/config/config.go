// Package config loads the host's KEY=VALUE configuration file, the
// format ZoneMinder ships at /etc/zm/zm.conf plus a conf.d drop-in
// directory whose files are concatenated in lexical order before
// parsing.
//
// Example usage:
//
//	cfg, err := config.Load("/etc/zm/zm.conf")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.PathMap)
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Required keys the host config file must define.
const (
	KeyDBHost  = "ZM_DB_HOST"
	KeyDBName  = "ZM_DB_NAME"
	KeyDBUser  = "ZM_DB_USER"
	KeyDBPass  = "ZM_DB_PASS"
	KeyPathMap = "ZM_PATH_MAP"
)

var requiredKeys = []string{KeyDBHost, KeyDBName, KeyDBUser, KeyDBPass, KeyPathMap}

// Config is the parsed host configuration.
type Config struct {
	DBHost  string
	DBName  string
	DBUser  string
	DBPass  string
	PathMap string

	// Extra holds any KEY=VALUE pairs not promoted to a named field,
	// kept for forward compatibility with host config keys this
	// sidecar does not otherwise need.
	Extra map[string]string
}

// ShmPath returns the tmpfs path for the given monitor's shared memory
// region: {ZM_PATH_MAP}/zm.mmap.{monitor_id}.
func (c *Config) ShmPath(monitorID uint32) string {
	return filepath.Join(c.PathMap, fmt.Sprintf("zm.mmap.%d", monitorID))
}

// Load reads path, then every *.conf file in the sibling conf.d
// directory in lexical order, merging KEY=VALUE assignments (later
// files win), and validates that all required keys are present.
func Load(path string) (*Config, error) {
	merged := make(map[string]string)

	if err := mergeFile(merged, path); err != nil {
		return nil, fmt.Errorf("reading host config %s: %w", path, err)
	}

	dropinDir := filepath.Join(filepath.Dir(path), "conf.d")
	entries, err := os.ReadDir(dropinDir)
	if err == nil {
		var names []string
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".conf") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			if err := mergeFile(merged, filepath.Join(dropinDir, name)); err != nil {
				return nil, fmt.Errorf("reading drop-in %s: %w", name, err)
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("listing drop-in directory %s: %w", dropinDir, err)
	}

	cfg := &Config{Extra: map[string]string{}}
	for k, v := range merged {
		switch k {
		case KeyDBHost:
			cfg.DBHost = v
		case KeyDBName:
			cfg.DBName = v
		case KeyDBUser:
			cfg.DBUser = v
		case KeyDBPass:
			cfg.DBPass = v
		case KeyPathMap:
			cfg.PathMap = v
		default:
			cfg.Extra[k] = v
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	values := map[string]string{
		KeyDBHost:  c.DBHost,
		KeyDBName:  c.DBName,
		KeyDBUser:  c.DBUser,
		KeyDBPass:  c.DBPass,
		KeyPathMap: c.PathMap,
	}
	for _, key := range requiredKeys {
		if values[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required host config keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

// mergeFile parses KEY=VALUE lines from path into dst. Blank lines and
// lines starting with '#' are skipped. Values may be quoted with
// single or double quotes, which are stripped.
func mergeFile(dst map[string]string, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("%s:%d: malformed line (expected KEY=VALUE): %q", path, lineNo, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = unquote(value)
		if key == "" {
			return fmt.Errorf("%s:%d: empty key", path, lineNo)
		}
		dst[key] = value
	}
	return scanner.Err()
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
