package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Search     Search     `yaml:"search"`
	Retrieval  Retrieval  `yaml:"retrieval"`
	Generation Generation `yaml:"generation"`
	Pipeline   Pipeline   `yaml:"pipeline"`
	Output     Output     `yaml:"output"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
}

type Search struct {
	Provider         string `yaml:"provider"`
	MaxResults       int    `yaml:"max_results"`
	Depth            string `yaml:"depth"`
	TavilyAPIKeyEnv  string `yaml:"tavily_api_key_env"`
	NewsAPIAPIKeyEnv string `yaml:"newsapi_api_key_env"`
	FeedURL          string `yaml:"feed_url"`
}

type Retrieval struct {
	FetchFullText   bool `yaml:"fetch_full_text"`
	MinContentChars int  `yaml:"min_content_chars"`
	TimeoutSeconds  int  `yaml:"timeout_seconds"`
}

type Generation struct {
	Provider        string `yaml:"provider"`
	Model           string `yaml:"model"`
	OllamaURL       string `yaml:"ollama_url"`
	OpenAIModel     string `yaml:"openai_model"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	OpenAIAPIKeyEnv string `yaml:"openai_api_key_env"`
	GeminiModel     string `yaml:"gemini_model"`
	GeminiAPIKeyEnv string `yaml:"gemini_api_key_env"`
}

type Pipeline struct {
	Workers        int `yaml:"workers"`
	ClassifyChars  int `yaml:"classify_chars"`
	SummarizeChars int `yaml:"summarize_chars"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type Output struct {
	Format  string `yaml:"format"`
	DataDir string `yaml:"data_dir"`
	PDFDir  string `yaml:"pdf_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ConfigDir returns the XDG config directory for medbrief.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "medbrief")
}

// DataDir returns the XDG data directory for medbrief.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "medbrief")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/medbrief/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'medbrief init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config is invalid: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Search: Search{
			Provider:         "tavily",
			MaxResults:       3,
			Depth:            "basic",
			TavilyAPIKeyEnv:  "TAVILY_API_KEY",
			NewsAPIAPIKeyEnv: "NEWSAPI_KEY",
		},
		Retrieval: Retrieval{
			FetchFullText:   true,
			MinContentChars: 500,
			TimeoutSeconds:  15,
		},
		Generation: Generation{
			Provider:        "openai",
			Model:           "qwen2.5:7b",
			OllamaURL:       "http://localhost:11434",
			OpenAIModel:     "gpt-4o-mini",
			OpenAIAPIKeyEnv: "OPENAI_API_KEY",
			GeminiModel:     "gemini-2.5-flash",
			GeminiAPIKeyEnv: "GEMINI_API_KEY",
		},
		Pipeline: Pipeline{
			Workers:        4,
			ClassifyChars:  2000,
			SummarizeChars: 3000,
		},
		Output:  Output{Format: "markdown"},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "info"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Output.Format) {
	case "markdown", "json":
	default:
		return fmt.Errorf("invalid output.format %q: must be markdown or json", c.Output.Format)
	}
	if c.Search.MaxResults < 1 {
		return fmt.Errorf("invalid search.max_results %d: must be at least 1", c.Search.MaxResults)
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("invalid pipeline.workers %d: must be at least 1", c.Pipeline.Workers)
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return expandHome(c.Output.DataDir)
	}
	return DataDir()
}

// DBPath returns the location of the cache database.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "medbrief.db")
}

// GetPDFDir returns where PDF reports are written. Defaults to the current directory.
func (c *Config) GetPDFDir() string {
	if c.Output.PDFDir != "" {
		return expandHome(c.Output.PDFDir)
	}
	return "."
}

func expandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
