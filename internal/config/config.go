package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type SimServerConfig struct {
	HTTPAddr     string
	ScenarioPath string
	RulePackDir  string
	Seed         uint32
	SeedSet      bool
	AutoStart    bool
	TickInterval time.Duration
	TickSeconds  float64
	Phases       int
	MaxEvents    int

	DBDSN      string
	SQLitePath string

	MQTTEnabled     bool
	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string
	CapabilityTTL   time.Duration

	PlannerEnabled   bool
	LLMProvider      string
	LLMModel         string
	LLMTemperature   float64
	LLMNumPredict    int
	LLMTimeout       time.Duration
	LLMMaxRetries    int
	LLMBackoff       time.Duration
	OllamaBaseURL    string
	OpenAIBaseURL    string
	OpenAIAPIKey     string
	AnthropicBaseURL string
	AnthropicAPIKey  string
}

type DeviceConsoleConfig struct {
	HTTPAddr          string
	DeviceID          string
	Actions           []string
	HeartbeatInterval time.Duration
	MQTTBrokerURL     string
	MQTTClientID      string
	MQTTUsername      string
	MQTTPassword      string
	MQTTTopicPrefix   string
}

func LoadSimServerConfig() (SimServerConfig, error) {
	seed, seedSet := getenvUint32("SIM_SEED")
	cfg := SimServerConfig{
		HTTPAddr:     getenvDefault("SIM_HTTP_ADDR", ":9020"),
		ScenarioPath: os.Getenv("SIM_SCENARIO"),
		RulePackDir:  os.Getenv("SIM_RULE_PACK_DIR"),
		Seed:         seed,
		SeedSet:      seedSet,
		AutoStart:    getenvBoolDefault("SIM_AUTOSTART", false),
		TickInterval: time.Duration(getenvIntDefault("SIM_TICK_INTERVAL_MS", 1000)) * time.Millisecond,
		TickSeconds:  getenvFloatDefault("SIM_TICK_SECONDS", 60),
		Phases:       getenvIntDefault("SIM_PLANNING_PHASES", 4),
		MaxEvents:    getenvIntDefault("SIM_MAX_EVENTS", 500),

		DBDSN:      os.Getenv("DB_DSN"),
		SQLitePath: os.Getenv("SIM_SQLITE_PATH"),

		MQTTEnabled:     getenvBoolDefault("MQTT_ENABLED", true),
		MQTTBrokerURL:   getenvDefault("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID:    getenvDefault("SIM_MQTT_CLIENT_ID", "sim-server"),
		MQTTUsername:    os.Getenv("MQTT_USERNAME"),
		MQTTPassword:    os.Getenv("MQTT_PASSWORD"),
		MQTTTopicPrefix: getenvDefault("MQTT_TOPIC_PREFIX", "housesim"),
		CapabilityTTL:   time.Duration(getenvIntDefault("CAPABILITY_TTL_SECONDS", 60)) * time.Second,

		PlannerEnabled:   getenvBoolDefault("PLANNER_ENABLED", true),
		LLMProvider:      getenvDefault("LLM_PROVIDER", "ollama"),
		LLMModel:         getenvDefault("LLM_MODEL", "llama3.1:8b"),
		LLMTemperature:   getenvFloatDefault("LLM_TEMPERATURE", 0.4),
		LLMNumPredict:    getenvIntDefault("LLM_NUM_PREDICT", 384),
		LLMTimeout:       time.Duration(getenvIntDefault("LLM_TIMEOUT_MS", 8000)) * time.Millisecond,
		LLMMaxRetries:    getenvIntDefault("LLM_MAX_RETRIES", 2),
		LLMBackoff:       time.Duration(getenvIntDefault("LLM_BACKOFF_MS", 300)) * time.Millisecond,
		OllamaBaseURL:    strings.TrimRight(getenvDefault("OLLAMA_BASE_URL", "http://localhost:11434"), "/"),
		OpenAIBaseURL:    getenvDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		AnthropicBaseURL: getenvDefault("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
	}

	if cfg.TickInterval <= 0 {
		return SimServerConfig{}, fmt.Errorf("SIM_TICK_INTERVAL_MS must be positive")
	}
	if cfg.Phases <= 0 {
		return SimServerConfig{}, fmt.Errorf("SIM_PLANNING_PHASES must be positive")
	}
	if cfg.DBDSN != "" && cfg.SQLitePath != "" {
		return SimServerConfig{}, fmt.Errorf("set only one of DB_DSN and SIM_SQLITE_PATH")
	}
	if cfg.PlannerEnabled {
		switch cfg.LLMProvider {
		case "ollama":
		case "openai":
			if cfg.OpenAIAPIKey == "" {
				return SimServerConfig{}, fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
			}
		case "claude":
			if cfg.AnthropicAPIKey == "" {
				return SimServerConfig{}, fmt.Errorf("ANTHROPIC_API_KEY is required when LLM_PROVIDER=claude")
			}
		default:
			return SimServerConfig{}, fmt.Errorf("unsupported LLM_PROVIDER: %s", cfg.LLMProvider)
		}
	}

	return cfg, nil
}

func LoadDeviceConsoleConfig() DeviceConsoleConfig {
	return DeviceConsoleConfig{
		HTTPAddr:          getenvDefault("DEVICE_HTTP_ADDR", ":9021"),
		DeviceID:          getenvDefault("DEVICE_ID", "console-lamp"),
		Actions:           splitList(getenvDefault("DEVICE_ACTIONS", "dim,set_brightness,set_color")),
		HeartbeatInterval: time.Duration(getenvIntDefault("DEVICE_HEARTBEAT_INTERVAL_SECONDS", 10)) * time.Second,
		MQTTBrokerURL:     getenvDefault("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID:      getenvDefault("DEVICE_MQTT_CLIENT_ID", "device-console"),
		MQTTUsername:      os.Getenv("MQTT_USERNAME"),
		MQTTPassword:      os.Getenv("MQTT_PASSWORD"),
		MQTTTopicPrefix:   getenvDefault("MQTT_TOPIC_PREFIX", "housesim"),
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getenvDefault(key, val string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return val
}

func getenvIntDefault(key string, val int) int {
	v := os.Getenv(key)
	if v == "" {
		return val
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return val
	}
	return n
}

func getenvFloatDefault(key string, val float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return val
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return val
	}
	return f
}

func getenvBoolDefault(key string, val bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return val
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return val
	}
	return b
}

func getenvUint32(key string) (uint32, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
