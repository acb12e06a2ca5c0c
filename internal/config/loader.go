package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v2"
)

// LoadFile loads a config file. HCL and YAML are both accepted; the
// extension decides, with HCL tried first when it is ambiguous.
// A missing file is not an error: the built-in defaults apply.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return loadYAML(data)
	case ".hcl":
		return loadHCL(data, path)
	default:
		cfg, err := loadHCL(data, path)
		if err != nil {
			return loadYAML(data)
		}
		return cfg, nil
	}
}

// loadHCL decodes HCL bytes with env variables exposed as env.<NAME>.
func loadHCL(data []byte, filename string) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode(ensureHCLName(filename), data, envContext(), &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadYAML decodes YAML bytes.
func loadYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ensureHCLName gives hclsimple a name it can map to the HCL syntax when
// the real path has no recognized extension.
func ensureHCLName(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".hcl", ".json":
		return filename
	}
	return filename + ".hcl"
}

// envContext exposes the process environment to HCL expressions as
// env.<NAME>, so configs can say e.g. api_port = env.WARDEN_API_PORT.
func envContext() *hcl.EvalContext {
	vals := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 && validHCLIdent(parts[0]) {
			vals[parts[0]] = cty.StringVal(parts[1])
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vals),
		},
	}
}

func validHCLIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
