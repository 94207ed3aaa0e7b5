package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
	BackendGrok      = "grok"
	BackendOpenAI    = "openai"
	BackendEcho      = "echo"
)

const (
	DefaultSocketPath   = "/simple-websocket"
	DefaultSystemPrompt = "You are PhantomQuery, an advanced AI system. Provide detailed, professional responses to queries. Focus on clarity and completeness in your answers."
)

// Backends lists every completion backend name
var Backends = []string{BackendOllama, BackendAnthropic, BackendGrok, BackendOpenAI, BackendEcho}

// ClientConfig holds terminal client configuration
type ClientConfig struct {
	ServerURL   string        // Base HTTP URL of the backend (e.g., "http://localhost:8080")
	SocketPath  string        // Path of the live event socket
	HTTPTimeout time.Duration // Timeout for REST calls
	LogDir      string
	Debug       bool
	NodeID      int64 // Snowflake node for local message ids
}

// ServerConfig holds backend server configuration
type ServerConfig struct {
	Addr         string
	DBPath       string
	Backend      string
	OllamaModel  string // Model in format "model:version" (e.g., "llama3:latest")
	OllamaURL    string
	SystemPrompt string

	RedisURL string        // Optional; in-memory response cache when empty
	CacheTTL time.Duration // Zero disables caching

	TranscriberCmd string // Optional command whose stdout lines are broadcast as transcriptions
	LogDir         string
	Debug          bool
}

// LoadEnv reads a .env file into the environment if one exists
func LoadEnv() {
	_ = godotenv.Load()
}

// DefaultClient returns client defaults, taking overrides from the environment
func DefaultClient() (ClientConfig, error) {
	timeout, err := getEnvDuration("PHANTOM_HTTP_TIMEOUT", 30*time.Second)
	if err != nil {
		return ClientConfig{}, err
	}
	nodeID, err := getEnvInt64("PHANTOM_NODE_ID", 1)
	if err != nil {
		return ClientConfig{}, err
	}
	return ClientConfig{
		ServerURL:   getEnv("PHANTOM_SERVER_URL", "http://localhost:8080"),
		SocketPath:  getEnv("PHANTOM_SOCKET_PATH", DefaultSocketPath),
		HTTPTimeout: timeout,
		LogDir:      getEnv("PHANTOM_LOG_DIR", "logs"),
		Debug:       getEnvBool("PHANTOM_DEBUG", false),
		NodeID:      nodeID,
	}, nil
}

// DefaultServer returns server defaults, taking overrides from the environment
func DefaultServer() (ServerConfig, error) {
	ttl, err := getEnvDuration("PHANTOM_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return ServerConfig{}, err
	}
	return ServerConfig{
		Addr:           getEnv("PHANTOM_ADDR", ":8080"),
		DBPath:         getEnv("PHANTOM_DB_PATH", "phantomquery.db"),
		Backend:        getEnv("PHANTOM_BACKEND", BackendEcho),
		OllamaModel:    getEnv("OLLAMA_MODEL", "llama3:latest"),
		OllamaURL:      getEnv("OLLAMA_URL", "http://localhost:11434"),
		SystemPrompt:   getEnv("PHANTOM_SYSTEM_PROMPT", DefaultSystemPrompt),
		RedisURL:       getEnv("REDIS_URL", ""),
		CacheTTL:       ttl,
		TranscriberCmd: getEnv("PHANTOM_TRANSCRIBER_CMD", ""),
		LogDir:         getEnv("PHANTOM_LOG_DIR", "logs"),
		Debug:          getEnvBool("PHANTOM_DEBUG", false),
	}, nil
}

// SocketURL derives the ws:// (or wss://) URL of the event socket
func (c ClientConfig) SocketURL() (string, error) {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", c.ServerURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + c.SocketPath
	return u.String(), nil
}

// Validate checks the client configuration
func (c ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server url is required")
	}
	if !strings.HasPrefix(c.SocketPath, "/") {
		return fmt.Errorf("socket path must start with /: %q", c.SocketPath)
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("node id must be between 0 and 1023, got %d", c.NodeID)
	}
	return nil
}

// Validate checks the server configuration
func (c ServerConfig) Validate() error {
	valid := false
	for _, b := range Backends {
		if c.Backend == b {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unknown backend: %s (%s)", c.Backend, strings.Join(Backends, "|"))
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache ttl cannot be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
