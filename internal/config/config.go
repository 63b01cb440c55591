package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvConfigPath names the environment variable that overrides the config file location.
const EnvConfigPath = "AUTOCLOSE_CONFIG"

// DefaultPath is used when neither a flag nor AUTOCLOSE_CONFIG is given.
const DefaultPath = "configs/config.yaml"

// LoadEnv reads .env style files into the process environment; missing files are ignored.
// Variables already present in the environment are not overwritten.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading env file %s failed: %w", f, err)
		}
	}
	return nil
}

// ResolvePath picks the config file: explicit flag, then AUTOCLOSE_CONFIG, then DefaultPath.
func ResolvePath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads path and its include chain, later files overriding earlier ones,
// then applies defaults for keys left unset and validates the result.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &includeWalker{visited: make(map[string]bool), active: make(map[string]bool)}
	if err := w.walk(abs); err != nil {
		return nil, err
	}
	v := viper.New()
	for _, layer := range w.layers {
		if err := v.MergeConfigMap(layer); err != nil {
			return nil, fmt.Errorf("merging config failed: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	keys := make(keySet)
	markKeys("", v.AllSettings(), keys)
	cfg.applyDefaults(keys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// includeWalker collects config layers depth-first: included files precede the file including them.
type includeWalker struct {
	visited map[string]bool
	active  map[string]bool
	layers  []map[string]any
}

func (w *includeWalker) walk(path string) error {
	path = filepath.Clean(path)
	if w.active[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if w.visited[path] {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	settings := v.AllSettings()
	includes, err := includeList(settings["include"])
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	delete(settings, "include")

	w.active[path] = true
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := w.walk(inc); err != nil {
			return err
		}
	}
	delete(w.active, path)
	w.visited[path] = true
	w.layers = append(w.layers, settings)
	return nil
}

// includeList accepts a single file name or a YAML list of names.
func includeList(raw any) ([]string, error) {
	var items []any
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		items = []any{val}
	case []any:
		items = val
	default:
		return nil, fmt.Errorf("include must be a file name or a list of file names")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		name, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include entries must be strings, got %T", item)
		}
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out, nil
}

// markKeys records every leaf key present in the merged settings as a dotted path.
func markKeys(prefix string, node any, dest keySet) {
	section, ok := node.(map[string]any)
	if !ok {
		if prefix != "" {
			dest.mark(prefix)
		}
		return
	}
	for k, v := range section {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		markKeys(key, v, dest)
	}
}
