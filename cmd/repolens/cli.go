package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/shanemcd/repolens/pkg/pki"
)

// ConfigVersion is the current config file version.
const ConfigVersion = "v1"

// CLI is the root command structure for repolens.
// It serves as the single source of truth for CLI flags, env vars, and config files.
type CLI struct {
	Config    string `short:"c" help:"Path to config file" type:"path" yaml:"-"`
	LogLevel  string `help:"Log level (debug, info, warn, error)" default:"info" env:"REPOLENS_LOG_LEVEL" yaml:"-"`
	LogFormat string `help:"Log format (text, json)" default:"text" enum:"text,json" env:"REPOLENS_LOG_FORMAT" yaml:"-"`

	Version  string         `yaml:"version" kong:"-"`
	Relay    RelayConfig    `embed:"" prefix:"relay-" yaml:"relay"`
	PKI      PKIConfig      `embed:"" prefix:"pki-" yaml:"pki"`
	LLM      LLMConfig      `embed:"" prefix:"llm-" yaml:"llm"`
	Settings SettingsConfig `embed:"" prefix:"settings-" yaml:"settings"`

	RelayCmd RelayCmd    `cmd:"" name:"relay" help:"Run the relay daemon that reaches local providers"`
	Chat     ChatCmd     `cmd:"" help:"Chat with the active provider"`
	Models   ModelsCmd   `cmd:"" help:"List the active provider's models"`
	Check    CheckCmd    `cmd:"" help:"Check whether the active provider is reachable"`
	Use      UseCmd      `cmd:"" help:"Switch the active provider"`
	Ping     PingCmd     `cmd:"" help:"Ping the relay"`
	Status   StatusCmd   `cmd:"" help:"Get relay status"`
	Shutdown ShutdownCmd `cmd:"" help:"Request relay shutdown"`
}

// RelayConfig locates the relay daemon.
type RelayConfig struct {
	Addr string `help:"Relay address (listen address for 'relay', dial address otherwise)" default:"localhost:4433" env:"REPOLENS_RELAY_ADDR" yaml:"addr"`
	ID   string `help:"Identity name used when generating certificates" env:"REPOLENS_RELAY_ID" yaml:"id"`
}

// PKIConfig holds PKI-related configuration.
type PKIConfig struct {
	Dir    string `help:"PKI directory" default:"~/.repolens/pki" env:"REPOLENS_PKI_DIR" yaml:"dir"`
	CACert string `help:"CA certificate path (overrides pki-dir)" env:"REPOLENS_CA_CERT" yaml:"caCert"`
	CAKey  string `help:"CA private key path" env:"REPOLENS_CA_KEY" yaml:"caKey"`
	Cert   string `help:"Certificate path (default: <pki-dir>/<role>.crt)" env:"REPOLENS_CERT" yaml:"cert"`
	Key    string `help:"Private key path (default: <pki-dir>/<role>.key)" env:"REPOLENS_KEY" yaml:"key"`
	Init   bool   `help:"Initialize PKI if missing" env:"REPOLENS_INIT_PKI" yaml:"init"`
}

// LLMConfig overrides the saved settings for one invocation.
type LLMConfig struct {
	Provider     string `help:"Provider (ollama, gemini, echo); overrides saved settings" env:"REPOLENS_LLM_PROVIDER" yaml:"provider"`
	Model        string `help:"Model name; overrides saved settings" env:"REPOLENS_LLM_MODEL" yaml:"model"`
	OllamaURL    string `help:"Ollama base URL as seen from the relay" env:"REPOLENS_OLLAMA_URL" yaml:"ollamaUrl"`
	GeminiAPIKey string `help:"Gemini API key" env:"REPOLENS_GEMINI_API_KEY" yaml:"geminiApiKey"`
	GeminiURL    string `help:"Gemini API base URL" env:"REPOLENS_GEMINI_URL" yaml:"geminiUrl"`
}

// SettingsConfig locates the persisted settings.
type SettingsConfig struct {
	File string `help:"Settings file" default:"~/.repolens/settings.yaml" env:"REPOLENS_SETTINGS_FILE" yaml:"file"`
}

// LoadConfigFile loads configuration from a YAML file into the CLI struct.
// If the path is empty, this is a no-op.
func LoadConfigFile(path string, cli *CLI) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cli); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// ValidateConfigVersion checks that the config file version is supported.
func ValidateConfigVersion(version string) error {
	switch version {
	case "":
		return fmt.Errorf("config file missing 'version' field (expected: %s)", ConfigVersion)
	case ConfigVersion:
		return nil
	default:
		return fmt.Errorf("unsupported config version %q (supported: %s)", version, ConfigVersion)
	}
}

// ResolvePaths expands ~ in paths and fills CA defaults from the PKI
// directory.
func (cli *CLI) ResolvePaths() error {
	for _, p := range []*string{&cli.PKI.Dir, &cli.PKI.CACert, &cli.PKI.CAKey, &cli.PKI.Cert, &cli.PKI.Key, &cli.Settings.File} {
		expanded, err := expandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}

	if cli.PKI.CACert == "" {
		cli.PKI.CACert = filepath.Join(cli.PKI.Dir, "ca.crt")
	}
	if cli.PKI.CAKey == "" {
		cli.PKI.CAKey = filepath.Join(cli.PKI.Dir, "ca.key")
	}
	return nil
}

// PKIPaths returns certificate locations for role ("relay" or "caller").
func (cli *CLI) PKIPaths(role string) pki.Paths {
	p := pki.Paths{
		Dir:    cli.PKI.Dir,
		CACert: cli.PKI.CACert,
		CAKey:  cli.PKI.CAKey,
		Cert:   cli.PKI.Cert,
		Key:    cli.PKI.Key,
	}
	if p.Cert == "" {
		p.Cert = filepath.Join(cli.PKI.Dir, role+".crt")
	}
	if p.Key == "" {
		p.Key = filepath.Join(cli.PKI.Dir, role+".key")
	}
	return p
}

// identityName returns the configured identity name, or a short random one.
func (cli *CLI) identityName() string {
	if cli.Relay.ID != "" {
		return cli.Relay.ID
	}
	return uuid.New().String()[:8]
}

// expandHome expands ~ to the user's home directory.
func expandHome(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}
