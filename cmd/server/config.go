package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/agixt/agixt-web/internal/handlers"
	"github.com/agixt/agixt-web/internal/thinking"
	"gopkg.in/yaml.v3"
)

type transcriptMode string

const (
	transcriptModePoll   transcriptMode = "poll"
	transcriptModeStream transcriptMode = "stream"
)

const (
	defaultPort        = "3437"
	defaultAGiXTServer = "http://localhost:7437"

	logFormatText = "text"
	logFormatJSON = "json"
)

// defaultServerFallbacks are the container names the server is reachable under when it runs next to
// this one.
var defaultServerFallbacks = []string{"agixt", "back-end", "boilerplate", "back-end-image"}

type config struct {
	Port           string
	AppName        string
	AuthURI        string
	CookieDomain   string
	DefaultAgent   string
	HighlightStyle string

	AGiXTServer     string
	ServerFallbacks []string

	PollInterval   time.Duration
	TranscriptMode transcriptMode
	ViewerGrace    time.Duration

	StorePath string
	LogLevel  slog.Level
	LogFormat string
}

type transcriptConfig struct {
	Mode string `yaml:"mode"`
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port            string           `yaml:"port"`
		AppName         string           `yaml:"appName"`
		AuthURI         string           `yaml:"authURI"`
		CookieDomain    string           `yaml:"cookieDomain"`
		DefaultAgent    string           `yaml:"defaultAgent"`
		HighlightStyle  string           `yaml:"highlightStyle"`
		AGiXTServer     string           `yaml:"agixtServer"`
		ServerFallbacks []string         `yaml:"serverFallbacks"`
		PollInterval    string           `yaml:"pollInterval"`
		ViewerGrace     string           `yaml:"viewerGrace"`
		Transcript      transcriptConfig `yaml:"transcript"`
		StorePath       string           `yaml:"storePath"`
		LogLevel        string           `yaml:"logLevel"`
		LogFormat       string           `yaml:"logFormat"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.AppName = rawConfig.AppName
	c.AuthURI = rawConfig.AuthURI
	c.CookieDomain = rawConfig.CookieDomain
	c.DefaultAgent = rawConfig.DefaultAgent
	c.HighlightStyle = rawConfig.HighlightStyle
	c.AGiXTServer = rawConfig.AGiXTServer
	c.ServerFallbacks = rawConfig.ServerFallbacks
	c.StorePath = rawConfig.StorePath

	c.PollInterval = thinking.DefaultPollInterval
	if rawConfig.PollInterval != "" {
		d, err := time.ParseDuration(rawConfig.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid pollInterval: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("pollInterval must be positive, got %s", d)
		}
		c.PollInterval = d
	}

	c.ViewerGrace = handlers.DefaultViewerGrace
	if rawConfig.ViewerGrace != "" {
		d, err := time.ParseDuration(rawConfig.ViewerGrace)
		if err != nil {
			return fmt.Errorf("invalid viewerGrace: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("viewerGrace must be positive, got %s", d)
		}
		c.ViewerGrace = d
	}

	switch mode := transcriptMode(rawConfig.Transcript.Mode); mode {
	case "":
		c.TranscriptMode = transcriptModePoll
	case transcriptModePoll, transcriptModeStream:
		c.TranscriptMode = mode
	default:
		return fmt.Errorf("unknown transcript mode: %s", mode)
	}

	if rawConfig.LogLevel != "" {
		if err := c.LogLevel.UnmarshalText([]byte(rawConfig.LogLevel)); err != nil {
			return fmt.Errorf("invalid logLevel: %w", err)
		}
	}

	switch rawConfig.LogFormat {
	case "":
		c.LogFormat = logFormatText
	case logFormatText, logFormatJSON:
		c.LogFormat = rawConfig.LogFormat
	default:
		return fmt.Errorf("unknown log format: %s", rawConfig.LogFormat)
	}

	return nil
}

// applyDefaults fills what the file left empty. storeDir is where the local cache lives by default.
func (c *config) applyDefaults(storeDir string) {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.AGiXTServer == "" {
		c.AGiXTServer = os.Getenv("AGIXT_SERVER")
	}
	if c.AGiXTServer == "" {
		c.AGiXTServer = defaultAGiXTServer
	}
	if c.ServerFallbacks == nil {
		c.ServerFallbacks = defaultServerFallbacks
	}
	if c.StorePath == "" {
		c.StorePath = filepath.Join(storeDir, "store.db")
	}
	if c.PollInterval <= 0 {
		c.PollInterval = thinking.DefaultPollInterval
	}
	if c.ViewerGrace <= 0 {
		c.ViewerGrace = handlers.DefaultViewerGrace
	}
	if c.TranscriptMode == "" {
		c.TranscriptMode = transcriptModePoll
	}
	if c.LogFormat == "" {
		c.LogFormat = logFormatText
	}
}

func (c config) logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == logFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func loadConfig(path, storeDir string) (config, error) {
	cfg := config{}

	f, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		// Every setting has a default, a missing file is fine.
	case err != nil:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	default:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	cfg.applyDefaults(storeDir)
	return cfg, nil
}
