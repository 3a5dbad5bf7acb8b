// internal/config/config.go
//
// This package handles configuration and the .stepflow directory structure.
// Every project that runs stepflow gets a .stepflow/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

const (
	// StepflowDir is the name of the directory we create in each project
	StepflowDir = ".stepflow"

	// EnvPrefix namespaces environment overrides (STEPFLOW_BRIDGE_PORT, ...).
	EnvPrefix = "STEPFLOW"

	defaultBridgeHost = "127.0.0.1"
	defaultBridgePort = 8765
)

const defaultProjectConfigYAML = `# stepflow project configuration

# Where the wizard template comes from. Set path for a local file, or
# url + company_id + template_id for the template service.
template:
  path: templates/campaign.yaml
  # url: https://templates.example.com/api
  # company_id: acme
  # template_id: spring-launch
  watch: true

wizard:
  # 1-based step opened on launch; -1 starts with every step closed.
  start_step: 1

bridge:
  enabled: false
  host: 127.0.0.1
  port: 8765

telemetry:
  enabled: true

tui:
  no_color: false
`

// starterTemplateYAML has no steps, so it expands into the default campaign
// flow when loaded.
const starterTemplateYAML = `# Starter template. Add a steps list to replace the default campaign flow.
id: campaign
name: New Campaign
campaignName: Spring Launch
companyId: acme
`

// TemplateConfig selects the template source.
type TemplateConfig struct {
	Path       string `mapstructure:"path"`
	URL        string `mapstructure:"url"`
	CompanyID  string `mapstructure:"company_id"`
	TemplateID string `mapstructure:"template_id"`
	APIKey     string `mapstructure:"api_key"`
	Watch      bool   `mapstructure:"watch"`
}

// Remote reports whether the template should be fetched over HTTP.
func (t TemplateConfig) Remote() bool {
	return t.URL != "" && t.TemplateID != ""
}

// WizardConfig controls the orchestrator's starting state.
type WizardConfig struct {
	StartStep int    `mapstructure:"start_step"`
	Prompt    string `mapstructure:"prompt"`
}

// BridgeConfig configures the HTTP event bridge.
type BridgeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Address returns the bridge bind address in host:port form.
func (b BridgeConfig) Address() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// URL returns the bridge's HTTP base URL.
func (b BridgeConfig) URL() string {
	return "http://" + b.Address()
}

// TelemetryConfig toggles span recording into the journey log.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TUIConfig holds display preferences.
type TUIConfig struct {
	NoColor bool `mapstructure:"no_color"`
}

// Settings models .stepflow/config.yaml after env overrides.
type Settings struct {
	Template  TemplateConfig  `mapstructure:"template"`
	Wizard    WizardConfig    `mapstructure:"wizard"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	TUI       TUIConfig       `mapstructure:"tui"`
}

// Config holds the runtime configuration for stepflow.
type Config struct {
	// ProjectDir is the directory where the user ran `stepflow` from
	ProjectDir string

	// StepflowProjectDir is ProjectDir/.stepflow
	StepflowProjectDir string

	Settings Settings
}

// InitStepflowDir creates the .stepflow directory structure in the given project directory.
//
// Structure created:
// .stepflow/
// ├── logs/       <- journey.log and stepflow.log
// ├── data/       <- submissions.db
// └── templates/  <- local wizard templates (campaign.yaml starter)
func InitStepflowDir(projectDir string) error {
	stepflowDir := filepath.Join(projectDir, StepflowDir)
	dirs := []string{
		filepath.Join(stepflowDir, "logs"),
		filepath.Join(stepflowDir, "data"),
		filepath.Join(stepflowDir, "templates"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if err := ensureFile(filepath.Join(stepflowDir, "config.yaml"), defaultProjectConfigYAML); err != nil {
		return err
	}
	return ensureFile(filepath.Join(stepflowDir, "templates", "campaign.yaml"), starterTemplateYAML)
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		Template: TemplateConfig{Watch: true},
		Wizard:   WizardConfig{StartStep: 1},
		Bridge: BridgeConfig{
			Host: defaultBridgeHost,
			Port: defaultBridgePort,
		},
		Telemetry: TelemetryConfig{Enabled: true},
	}
}

// Load reads .stepflow/config.yaml (if present) and STEPFLOW_* environment
// overrides into a Config.
func Load(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:         projectDir,
		StepflowProjectDir: filepath.Join(projectDir, StepflowDir),
	}
	v := newViper()
	path := cfg.ProjectConfigPath()
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg.Settings); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Settings.normalize(cfg.StepflowProjectDir)
	if err := cfg.Settings.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := Defaults()
	v.SetDefault("template.path", defaults.Template.Path)
	v.SetDefault("template.url", defaults.Template.URL)
	v.SetDefault("template.company_id", defaults.Template.CompanyID)
	v.SetDefault("template.template_id", defaults.Template.TemplateID)
	v.SetDefault("template.api_key", defaults.Template.APIKey)
	v.SetDefault("template.watch", defaults.Template.Watch)
	v.SetDefault("wizard.start_step", defaults.Wizard.StartStep)
	v.SetDefault("wizard.prompt", defaults.Wizard.Prompt)
	v.SetDefault("bridge.enabled", defaults.Bridge.Enabled)
	v.SetDefault("bridge.host", defaults.Bridge.Host)
	v.SetDefault("bridge.port", defaults.Bridge.Port)
	v.SetDefault("telemetry.enabled", defaults.Telemetry.Enabled)
	v.SetDefault("tui.no_color", defaults.TUI.NoColor)
	return v
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.StepflowProjectDir, "logs")
}

// DataDir returns the path to the data directory
func (c *Config) DataDir() string {
	return filepath.Join(c.StepflowProjectDir, "data")
}

// TemplatesDir returns the directory holding local templates
func (c *Config) TemplatesDir() string {
	return filepath.Join(c.StepflowProjectDir, "templates")
}

// SubmissionsPath returns the sqlite database that stores step submissions.
func (c *Config) SubmissionsPath() string {
	return filepath.Join(c.DataDir(), "submissions.db")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.StepflowProjectDir, "config.yaml")
}

func (s *Settings) normalize(base string) {
	s.Template.Path = resolvePath(base, s.Template.Path)
	s.Template.URL = strings.TrimRight(strings.TrimSpace(s.Template.URL), "/")
	s.Template.CompanyID = strings.TrimSpace(s.Template.CompanyID)
	s.Template.TemplateID = strings.TrimSpace(s.Template.TemplateID)
	s.Template.APIKey = strings.TrimSpace(s.Template.APIKey)
	s.Wizard.Prompt = strings.TrimSpace(s.Wizard.Prompt)
	s.Bridge.Host = strings.TrimSpace(s.Bridge.Host)
	if s.Bridge.Host == "" {
		s.Bridge.Host = defaultBridgeHost
	}
	if s.Bridge.Port == 0 {
		s.Bridge.Port = defaultBridgePort
	}
}

func (s Settings) validate() error {
	if s.Template.URL != "" && s.Template.CompanyID == "" {
		return fmt.Errorf("template.company_id is required with template.url")
	}
	if s.Wizard.StartStep < -1 || s.Wizard.StartStep == 0 {
		return fmt.Errorf("wizard.start_step must be -1 or a 1-based step number")
	}
	if s.Bridge.Port < 0 || s.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port %d out of range", s.Bridge.Port)
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

// ensureFile writes content to path unless the file already exists.
func ensureFile(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}
