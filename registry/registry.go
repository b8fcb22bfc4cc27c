package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-coverage/types"
)

// Registry resolves the units of a project and the per-project settings
// declared in its unit file.
type Registry struct {
	config    Config
	file      *FileConfig
	root      string
	units     []types.Unit
	overrides map[types.Phase][]types.Command
	mu        sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log log.Logger
	// ConfigFile is an optional YAML or TOML unit file.
	ConfigFile string
	// ProjectRoot overrides the unit file's project_root when set.
	ProjectRoot string
}

// FileConfig is the on-disk unit file.
type FileConfig struct {
	ProjectRoot    string                     `yaml:"project_root" toml:"project_root"`
	Thresholds     *types.CoverageThresholds  `yaml:"thresholds" toml:"thresholds"`
	CoverageFrom   string                     `yaml:"coverage_from" toml:"coverage_from"`
	CoverageHTML   *bool                      `yaml:"coverage_html" toml:"coverage_html"`
	DefaultTimeout string                     `yaml:"default_timeout" toml:"default_timeout"`
	Units          []UnitConfig               `yaml:"units" toml:"units"`
	Discover       []DiscoverConfig           `yaml:"discover" toml:"discover"`
	Phases         map[string][]types.Command `yaml:"phases" toml:"phases"`
}

// UnitConfig declares one unit explicitly.
type UnitConfig struct {
	Name    string `yaml:"name" toml:"name"`
	Path    string `yaml:"path" toml:"path"`
	Kind    string `yaml:"kind" toml:"kind"`
	Timeout string `yaml:"timeout" toml:"timeout"`
}

// DiscoverConfig turns every Go package directory directly below Dir into a unit.
type DiscoverConfig struct {
	Dir  string `yaml:"dir" toml:"dir"`
	Kind string `yaml:"kind" toml:"kind"`
}

// DefaultUnits is the unit set used when no unit file declares any.
func DefaultUnits() []UnitConfig {
	units := []UnitConfig{{Name: "sample-app", Path: "sample-app", Kind: string(types.UnitKindApplication)}}
	for _, svc := range []string{"tinyurl", "newsfeed", "loadbalancer", "typeahead", "messaging", "dns", "webcrawler", "googledocs", "quora"} {
		units = append(units, UnitConfig{Name: svc, Path: filepath.Join("services", svc), Kind: string(types.UnitKindService)})
	}
	return units
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	r := &Registry{config: cfg}

	file := &FileConfig{}
	if cfg.ConfigFile != "" {
		loaded, err := LoadFile(cfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load unit file: %w", err)
		}
		file = loaded
	}
	r.file = file

	root, err := r.resolveRoot()
	if err != nil {
		return nil, err
	}
	r.root = root

	if err := r.load(); err != nil {
		return nil, err
	}

	cfg.Log.Debug("Registry loaded", "root", r.root, "len(units)", len(r.units), "overrides", len(r.overrides))
	return r, nil
}

func (r *Registry) resolveRoot() (string, error) {
	root := r.config.ProjectRoot
	if root == "" {
		root = r.file.ProjectRoot
		// A relative project_root is relative to the unit file.
		if root != "" && !filepath.IsAbs(root) && r.config.ConfigFile != "" {
			root = filepath.Join(filepath.Dir(r.config.ConfigFile), root)
		}
	}
	if root == "" && r.config.ConfigFile != "" {
		root = filepath.Dir(r.config.ConfigFile)
	}
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving project root %q: %w", root, err)
	}
	return abs, nil
}

func (r *Registry) load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.defaultTimeout(); err != nil {
		return err
	}
	if _, _, err := r.coverageFrom(); err != nil {
		return err
	}
	if r.file.Thresholds != nil {
		if err := r.file.Thresholds.Validate(); err != nil {
			return fmt.Errorf("invalid thresholds: %w", err)
		}
	}

	overrides, err := parseOverrides(r.file.Phases)
	if err != nil {
		return err
	}
	r.overrides = overrides

	declared := r.file.Units
	if len(declared) == 0 && len(r.file.Discover) == 0 {
		declared = DefaultUnits()
	}

	units := make([]types.Unit, 0, len(declared))
	for _, uc := range declared {
		u, err := r.resolveUnit(uc)
		if err != nil {
			return err
		}
		units = append(units, u)
	}

	discovered, err := r.discover(units)
	if err != nil {
		return err
	}
	units = append(units, discovered...)

	if err := types.ValidateUnits(units); err != nil {
		return fmt.Errorf("invalid units: %w", err)
	}
	r.units = units
	return nil
}

func (r *Registry) resolveUnit(uc UnitConfig) (types.Unit, error) {
	kind := types.UnitKind(uc.Kind)
	if kind == "" {
		kind = types.UnitKindService
	}
	path := uc.Path
	if path == "" {
		path = uc.Name
	}
	u := types.Unit{
		Name: uc.Name,
		Path: r.absPath(path),
		Kind: kind,
	}
	if uc.Timeout != "" {
		d, err := time.ParseDuration(uc.Timeout)
		if err != nil {
			return types.Unit{}, fmt.Errorf("unit %q: invalid timeout %q: %w", uc.Name, uc.Timeout, err)
		}
		u.Timeout = d
	}
	if err := u.Validate(); err != nil {
		return types.Unit{}, err
	}
	u.Module = modulePath(u.Path)
	return u, nil
}

// discover walks each discover entry. Names already declared are skipped so an
// explicit entry can refine a discovered one.
func (r *Registry) discover(declared []types.Unit) ([]types.Unit, error) {
	taken := make(map[string]bool, len(declared))
	for _, u := range declared {
		taken[u.Name] = true
	}

	var units []types.Unit
	for _, d := range r.file.Discover {
		if d.Dir == "" {
			return nil, errors.New("discover entry requires dir")
		}
		kind := types.UnitKind(d.Kind)
		if kind == "" {
			kind = types.UnitKindService
		}
		if !kind.IsValid() {
			return nil, fmt.Errorf("discover %q: invalid kind %q", d.Dir, d.Kind)
		}

		dir := r.absPath(d.Dir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("discover %q: %w", d.Dir, err)
		}
		for _, e := range entries {
			name := e.Name()
			if !e.IsDir() || skipDir(name) {
				continue
			}
			path := filepath.Join(dir, name)
			if !isGoPackageDir(path) {
				continue
			}
			if taken[name] {
				r.config.Log.Debug("Skipping discovered unit, already declared", "unit", name, "path", path)
				continue
			}
			taken[name] = true
			units = append(units, types.Unit{Name: name, Path: path, Kind: kind, Module: modulePath(path)})
		}
	}
	return units, nil
}

func (r *Registry) absPath(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(r.root, p)
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata"
}

// isGoPackageDir reports whether dir has a go.mod or any .go file at its top level.
func isGoPackageDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if e.Name() == "go.mod" || strings.HasSuffix(e.Name(), ".go") {
			return true
		}
	}
	return false
}

// modulePath returns the module declared by dir/go.mod, or "" when there is none.
func modulePath(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err != nil {
		return ""
	}
	return modfile.ModulePath(data)
}

func parseOverrides(raw map[string][]types.Command) (map[types.Phase][]types.Command, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	overrides := make(map[types.Phase][]types.Command, len(raw))
	for name, cmds := range raw {
		phase, err := types.ParsePhase(name)
		if err != nil {
			return nil, fmt.Errorf("phases: %w", err)
		}
		if len(cmds) == 0 {
			return nil, fmt.Errorf("phases: %s has no commands", phase)
		}
		for i, c := range cmds {
			if err := c.Validate(); err != nil {
				return nil, fmt.Errorf("phases: %s step %d: %w", phase, i+1, err)
			}
		}
		overrides[phase] = cmds
	}
	return overrides, nil
}

// Units returns the resolved units in declaration order, then discovery order.
func (r *Registry) Units() []types.Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.Unit(nil), r.units...)
}

// Overrides returns the per-phase command overrides from the unit file.
func (r *Registry) Overrides() map[types.Phase][]types.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.overrides
}

// ProjectRoot returns the absolute project root units are resolved against.
func (r *Registry) ProjectRoot() string {
	return r.root
}

// Thresholds returns the unit file's thresholds, if it declares any.
func (r *Registry) Thresholds() (types.CoverageThresholds, bool) {
	if r.file.Thresholds == nil {
		return types.CoverageThresholds{}, false
	}
	return *r.file.Thresholds, true
}

// CoverageFrom returns the unit file's coverage source phase, if set.
func (r *Registry) CoverageFrom() (types.Phase, bool) {
	p, ok, _ := r.coverageFrom()
	return p, ok
}

func (r *Registry) coverageFrom() (types.Phase, bool, error) {
	if r.file.CoverageFrom == "" {
		return "", false, nil
	}
	p, err := types.ParsePhase(r.file.CoverageFrom)
	if err != nil {
		return "", false, fmt.Errorf("coverage_from: %w", err)
	}
	if !p.ProducesCoverage() {
		return "", false, fmt.Errorf("coverage_from: phase %s does not produce coverage", p)
	}
	return p, true, nil
}

// CoverageHTML returns whether the unit file enables coverage HTML, if set.
func (r *Registry) CoverageHTML() (bool, bool) {
	if r.file.CoverageHTML == nil {
		return false, false
	}
	return *r.file.CoverageHTML, true
}

// DefaultTimeout returns the unit file's default invocation timeout, if set.
func (r *Registry) DefaultTimeout() (time.Duration, bool) {
	d, _ := r.defaultTimeout()
	return d, d > 0
}

func (r *Registry) defaultTimeout() (time.Duration, error) {
	if r.file.DefaultTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(r.file.DefaultTimeout)
	if err != nil {
		return 0, fmt.Errorf("default_timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("default_timeout must be positive, got %s", d)
	}
	return d, nil
}

// GetConfig returns the registry configuration
func (r *Registry) GetConfig() Config {
	return r.config
}

// LoadFile reads a unit file. The format follows the extension: .yaml/.yml or .toml.
// Unknown keys are rejected.
func LoadFile(path string) (*FileConfig, error) {
	log.Debug("Reading unit file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading unit file: %w", err)
	}

	var cfg FileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing unit file: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing unit file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing unit file: unknown keys %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported unit file extension %q", ext)
	}
	return &cfg, nil
}
