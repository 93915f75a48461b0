package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/codership/wsrep-lib/pkg/server"
	"gopkg.in/yaml.v3"
)

// Bootstrap is the on-disk description of one server's startup
// parameters.
type Bootstrap struct {
	NodeID             string `yaml:"nodeId"`
	Name               string `yaml:"name"`
	Address            string `yaml:"address"`
	WorkingDir         string `yaml:"workingDir"`
	MaxProtocolVersion int    `yaml:"maxProtocolVersion"`
	RollbackMode       string `yaml:"rollbackMode"`
	SSTBeforeInit      bool   `yaml:"sstBeforeInit"`
	ClusterAddress     string `yaml:"clusterAddress"`
	ProviderOptions    string `yaml:"providerOptions"`
}

// LoadBootstrap reads and parses a bootstrap YAML file.
func LoadBootstrap(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read bootstrap file: %w", err)
	}
	var b Bootstrap
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("config: parse bootstrap file: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks required fields and known enum values.
func (b *Bootstrap) Validate() error {
	if b.NodeID == "" {
		return fmt.Errorf("config: nodeId is required")
	}
	if b.Address == "" {
		return fmt.Errorf("config: address is required")
	}
	if b.MaxProtocolVersion <= 0 {
		return fmt.Errorf("config: maxProtocolVersion must be positive")
	}
	if _, err := b.RollbackModeValue(); err != nil {
		return err
	}
	return nil
}

// RollbackModeValue parses RollbackMode into server.RollbackMode, case
// insensitively, defaulting to RollbackSync when the field is empty.
func (b *Bootstrap) RollbackModeValue() (server.RollbackMode, error) {
	switch strings.ToLower(b.RollbackMode) {
	case "", "sync":
		return server.RollbackSync, nil
	case "async":
		return server.RollbackAsync, nil
	default:
		return 0, fmt.Errorf("config: unknown rollbackMode %q", b.RollbackMode)
	}
}

// ParseProviderOptions parses a semicolon-delimited "key=value; key=value"
// provider options string into a map, trimming surrounding whitespace
// from both keys and values. An entry with no '=' is an error: the
// provider treats malformed options as a warning-level rejection rather
// than silently dropping them.
func ParseProviderOptions(s string) (map[string]string, error) {
	opts := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("config: malformed provider option %q, expected key=value", part)
		}
		opts[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return opts, nil
}

// FormatProviderOptions renders a provider options map back into the
// semicolon-delimited string form. Key order is not guaranteed across
// calls since map iteration order is randomized; callers needing
// deterministic output should sort keys themselves.
func FormatProviderOptions(opts map[string]string) string {
	var b strings.Builder
	first := true
	for k, v := range opts {
		if !first {
			b.WriteString("; ")
		}
		first = false
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(v)
	}
	return b.String()
}

// ParseProviderOptionBool is a convenience helper used by callers that
// need one boolean-valued provider option, e.g. "pc.bootstrap=true".
func ParseProviderOptionBool(opts map[string]string, key string, def bool) (bool, error) {
	v, ok := opts[key]
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: provider option %q is not a bool: %w", key, err)
	}
	return b, nil
}
