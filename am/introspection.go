package am

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/teranos/reel/errors"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/reel/config.toml
	SourceUser        ConfigSource = "user"        // ~/.reel/am.toml
	SourceProject     ConfigSource = "project"     // project am.toml
	SourceEnvironment ConfigSource = "environment" // REEL_* env vars
)

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource
	Path   string // file path or environment variable name
}

// ConfigSources maps flattened keys to the file that last set them.
// Populated by mergeConfigFiles.
var ConfigSources map[string]SourceInfo

// SettingInfo describes one effective setting
type SettingInfo struct {
	Key        string       `json:"key" yaml:"key"`
	Value      interface{}  `json:"value" yaml:"value"`
	Source     ConfigSource `json:"source" yaml:"source"`
	SourcePath string       `json:"source_path,omitempty" yaml:"source_path,omitempty"`
}

// secretKeys are masked in introspection output
var secretKeys = map[string]bool{
	"providers.dashscope.api_key":  true,
	"storage.supabase.service_key": true,
	"database.dsn":                 true,
	"server.api_tokens":            true,
}

// Introspect returns every effective setting with the source it came from,
// sorted by key. Credentials are masked.
func Introspect() ([]SettingInfo, error) {
	if _, err := Load(); err != nil {
		return nil, errors.Wrap(err, "failed to load config for introspection")
	}
	v := GetViper()

	keys := v.AllKeys()
	sort.Strings(keys)

	settings := make([]SettingInfo, 0, len(keys))
	for _, key := range keys {
		info := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := ConfigSources[key]; ok {
			info = si
		}

		envKey := "REEL_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if os.Getenv(envKey) != "" {
			info = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}

		value := v.Get(key)
		switch {
		case secretKeys[key]:
			value = MaskSecret(v.GetString(key))
		case key == "providers.dashscope.model_keys":
			value = maskModelKeys(value)
		}

		settings = append(settings, SettingInfo{
			Key:        key,
			Value:      value,
			Source:     info.Source,
			SourcePath: info.Path,
		})
	}
	return settings, nil
}

// MaskSecret keeps the last four characters of a credential
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func sourceForPath(path string) ConfigSource {
	if strings.HasPrefix(path, "/etc/") {
		return SourceSystem
	}
	if home, err := os.UserHomeDir(); err == nil && strings.HasPrefix(path, filepath.Join(home, ".reel")) {
		return SourceUser
	}
	return SourceProject
}

// maskModelKeys renders model_keys entries as "model=****abcd"
func maskModelKeys(raw interface{}) interface{} {
	entries, ok := raw.([]interface{})
	if !ok {
		return raw
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		m, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		model, _ := m["model"].(string)
		key, _ := m["api_key"].(string)
		out = append(out, model+"="+MaskSecret(key))
	}
	return out
}
