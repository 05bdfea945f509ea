// Package params manages per-mode strategy tunables loaded from a YAML file.
// The file is schema-validated and hot-reloaded on change; runners pick up
// new parameters on their next tick.
package params

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"vela/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// schemaJSON constrains the params file to a map of mode -> numeric tunables.
const schemaJSON = `{
  "type": "object",
  "properties": {
    "strategies": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": {"type": "number"}
      }
    }
  },
  "additionalProperties": false
}`

// FileConfig maps the strategies YAML document.
type FileConfig struct {
	Strategies map[string]map[string]any `mapstructure:"strategies" yaml:"strategies"`
}

// Snapshot is an immutable view of the loaded parameters.
type Snapshot struct {
	Version    int64
	LoadedAt   time.Time
	Strategies map[string]map[string]any
}

type ChangeListener func(Snapshot)

type Registry struct {
	path   string
	v      *viper.Viper
	schema *jsonschema.Schema

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry loads the params file and starts watching it. A missing file is
// not an error; every mode then runs on its built-in defaults.
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strategy params registry requires a path")
	}
	schema, err := jsonschema.CompileString("strategies.schema.json", schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compiling params schema failed: %w", err)
	}
	r := &Registry{path: path, schema: schema}
	if _, statErr := os.Stat(path); statErr != nil {
		logger.Warnf("strategy params file %s not found, using defaults", path)
		r.snapshot = Snapshot{Version: 1, LoadedAt: time.Now(), Strategies: map[string]map[string]any{}}
		return r, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading strategy params failed: %w", err)
	}
	r.v = v
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("strategy params reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}
	if err := validateAgainstSchema(r.schema, raw); err != nil {
		return fmt.Errorf("strategy params %s rejected: %w", r.path, err)
	}
	if err := r.v.ReadInConfig(); err != nil {
		return err
	}
	var cfg FileConfig
	if err := r.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("parsing strategy params failed: %w", err)
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:    r.snapshot.Version + 1,
		LoadedAt:   time.Now(),
		Strategies: cfg.Strategies,
	}
	r.mu.Unlock()
	logger.Infof("strategy params loaded from %s (%d modes)", r.path, len(cfg.Strategies))
	return nil
}

// validateAgainstSchema converts the YAML document to plain JSON types and
// runs the compiled schema over it.
func validateAgainstSchema(schema *jsonschema.Schema, raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var jsonDoc any
	if err := json.Unmarshal(jsonBytes, &jsonDoc); err != nil {
		return err
	}
	return schema.Validate(jsonDoc)
}

// Params returns the tunables for one mode; nil means built-in defaults.
func (r *Registry) Params(mode string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot.Strategies[strings.ToLower(strings.TrimSpace(mode))]
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

func (r *Registry) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := r.snapshot
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}
