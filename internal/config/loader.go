package config

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultDataDir = ".mcphub"
	ConfigFileName = "mcphub.json"
)

// FileServer is the on-disk form of a server entry. Presence of a command
// selects the stdio transport; otherwise a URL is required.
type FileServer struct {
	Command string            `json:"command" mapstructure:"command"`
	Args    []string          `json:"args" mapstructure:"args"`
	Env     map[string]string `json:"env" mapstructure:"env"`

	URL       string            `json:"url" mapstructure:"url"`
	Headers   map[string]string `json:"headers" mapstructure:"headers"`
	PreferSSE *bool             `json:"prefer_sse" mapstructure:"prefer_sse"`
	SessionID string            `json:"session_id" mapstructure:"session_id"`

	TimeoutSeconds int  `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	LogJSONRPC     bool `json:"log_jsonrpc" mapstructure:"log_jsonrpc"`
}

// File is the root of the CLI configuration document.
type File struct {
	Servers map[string]FileServer `json:"servers" mapstructure:"servers"`
	Logging *LogConfig            `json:"logging" mapstructure:"logging"`
}

// Load reads the configuration file at path, falling back to
// $MCPHUB_CONFIG and then ~/.mcphub/mcphub.json. Environment variables
// prefixed with MCPHUB_ override file values.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("MCPHUB")
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("MCPHUB_CONFIG")
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("config: cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDataDir, ConfigFileName)
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var file File
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("config: failed to decode %s: %w", path, err)
	}
	return &file, nil
}

// ServerConfigs converts the file representation into the typed union used
// by the manager, validating each entry.
func (f *File) ServerConfigs() (map[string]ServerConfig, error) {
	out := make(map[string]ServerConfig, len(f.Servers))
	for id, entry := range f.Servers {
		cfg, err := entry.ToServerConfig()
		if err != nil {
			return nil, fmt.Errorf("config: server %q: %w", id, err)
		}
		out[id] = cfg
	}
	return out, nil
}

// ToServerConfig builds the typed configuration for a single file entry.
func (e FileServer) ToServerConfig() (ServerConfig, error) {
	base := BaseServerConfig{
		Timeout:    time.Duration(e.TimeoutSeconds) * time.Second,
		LogJSONRPC: e.LogJSONRPC,
	}
	if e.Command != "" {
		cfg := &StdioServerConfig{
			BaseServerConfig: base,
			Command:          e.Command,
			Args:             e.Args,
			Env:              e.Env,
		}
		return cfg, cfg.Validate()
	}
	var init *HTTPRequestInit
	if len(e.Headers) > 0 {
		headers := make(http.Header, len(e.Headers))
		for k, val := range e.Headers {
			headers.Set(k, val)
		}
		init = &HTTPRequestInit{Headers: headers}
	}
	cfg := &HTTPServerConfig{
		BaseServerConfig: base,
		Endpoint:         e.URL,
		RequestInit:      init,
		PreferSSE:        e.PreferSSE,
		SessionID:        e.SessionID,
	}
	return cfg, cfg.Validate()
}
