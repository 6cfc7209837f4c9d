package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration for the room release agent
type Config struct {
	// MQTT configuration
	MQTTBroker   string `yaml:"mqtt_broker" validate:"required"`
	MQTTPort     int    `yaml:"mqtt_port" validate:"min=1,max=65535"`
	MQTTUser     string `yaml:"mqtt_user"`
	MQTTPassword string `yaml:"mqtt_password"`
	MQTTClientID string `yaml:"mqtt_client_id"`

	// Redis configuration
	RedisHost     string `yaml:"redis_host"`
	RedisPort     int    `yaml:"redis_port" validate:"min=1,max=65535"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" validate:"min=0"`

	// Postgres configuration (release history)
	HistoryEnabled   bool   `yaml:"history_enabled"`
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     int    `yaml:"postgres_port" validate:"min=1,max=65535"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresSSLMode  string `yaml:"postgres_sslmode" validate:"oneof=disable require verify-ca verify-full"`

	// Service configuration
	ServiceName string   `yaml:"service_name" validate:"required"`
	HealthPort  int      `yaml:"health_port" validate:"min=1,max=65535"`
	LogLevel    string   `yaml:"log_level" validate:"oneof=debug info warn error"`
	ConfigFile  string   `yaml:"-"`
	Devices     []string `yaml:"devices"`

	// Webex device API
	WebexAPIURL       string `yaml:"webex_api_url" validate:"url"`
	WebexToken        string `yaml:"webex_token"`
	WebexClientID     string `yaml:"webex_client_id"`
	WebexClientSecret string `yaml:"webex_client_secret"`
	WebexRefreshToken string `yaml:"webex_refresh_token"`

	// HTTP transport
	HTTPTimeoutMs  int     `yaml:"http_timeout_ms" validate:"min=1"`
	HTTPRateLimit  float64 `yaml:"http_rate_limit" validate:"gt=0"`
	HTTPMaxRetries int     `yaml:"http_max_retries" validate:"min=0"`

	// Detection toggles
	UseSound           bool `yaml:"use_sound"`
	UseUltrasound      bool `yaml:"use_ultrasound"`
	RequireUltrasound  bool `yaml:"require_ultrasound"`
	UseActiveCall      bool `yaml:"use_active_call"`
	UseInteraction     bool `yaml:"use_interaction"`
	UsePresentation    bool `yaml:"use_presentation"`
	UseRoomInUse       bool `yaml:"use_room_in_use"`
	ButtonStopChecks   bool `yaml:"button_stop_checks"`
	OccupiedStopChecks bool `yaml:"occupied_stop_checks"`

	// Thresholds
	ConsideredOccupiedMin  int     `yaml:"considered_occupied" validate:"min=1"`
	EmptyBeforeReleaseMin  int     `yaml:"empty_before_release" validate:"min=1"`
	InitialReleaseDelayMin int     `yaml:"initial_release_delay" validate:"min=0"`
	SoundLevel             int     `yaml:"sound_level" validate:"min=0"`
	IgnoreLongerThanHours  float64 `yaml:"ignore_longer_than" validate:"gt=0"`
	PromptDurationSec      int     `yaml:"prompt_duration" validate:"min=1"`
	PeriodicIntervalMin    int     `yaml:"periodic_interval" validate:"min=1"`

	TestMode         bool   `yaml:"test_mode"`
	PlayAnnouncement bool   `yaml:"play_announcement"`
	FeedbackID       string `yaml:"feedback_id" validate:"required"`

	// Notifications
	WebexNotify      bool   `yaml:"webex_notify"`
	WebexNotifyRoom  string `yaml:"webex_notify_room"`
	WebexNotifyEmail string `yaml:"webex_notify_email"`
	WebexBotToken    string `yaml:"webex_bot_token"`
	WebhookNotify    bool   `yaml:"webhook_notify"`
	WebhookURL       string `yaml:"webhook_url"`

	// Graph ghost booking tracking
	GraphEnabled       bool              `yaml:"graph_enabled"`
	GraphTenant        string            `yaml:"graph_tenant"`
	GraphClientID      string            `yaml:"graph_client_id"`
	GraphClientSecret  string            `yaml:"graph_client_secret"`
	GraphAPIURL        string            `yaml:"graph_api_url" validate:"url"`
	GraphAuthURL       string            `yaml:"graph_auth_url" validate:"url"`
	GraphStrikes       int               `yaml:"graph_strikes" validate:"min=1"`
	GraphEndBooking    bool              `yaml:"graph_end_booking"`
	GraphLookaheadDays int               `yaml:"graph_lookahead_days" validate:"min=0"`
	GraphResetDaily    int               `yaml:"graph_reset_daily" validate:"min=1"`
	GraphResetWeekly   int               `yaml:"graph_reset_weekly" validate:"min=1"`
	GraphResetMonthly  int               `yaml:"graph_reset_monthly" validate:"min=1"`
	GraphResetYearly   int               `yaml:"graph_reset_yearly" validate:"min=1"`
	GraphMailboxes     map[string]string `yaml:"graph_mailboxes"`
	GhostStore         string            `yaml:"ghost_store" validate:"oneof=redis file"`
	GhostFile          string            `yaml:"ghost_file"`
	GhostPruneSchedule string            `yaml:"ghost_prune_schedule" validate:"required"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		MQTTBroker:      "localhost",
		MQTTPort:        1883,
		RedisHost:       "localhost",
		RedisPort:       6379,
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "roomrelease",
		PostgresUser:    "roomrelease",
		PostgresSSLMode: "disable",
		ServiceName:     "room-release",
		HealthPort:      8080,
		LogLevel:        "info",

		WebexAPIURL:    "https://webexapis.com/v1",
		HTTPTimeoutMs:  60000,
		HTTPRateLimit:  5,
		HTTPMaxRetries: 5,

		UseActiveCall:   true,
		UseInteraction:  true,
		UsePresentation: true,

		ConsideredOccupiedMin:  15,
		EmptyBeforeReleaseMin:  5,
		InitialReleaseDelayMin: 10,
		SoundLevel:             50,
		IgnoreLongerThanHours:  3,
		PromptDurationSec:      60,
		PeriodicIntervalMin:    2,
		PlayAnnouncement:       true,
		FeedbackID:             "alertResponse",

		GraphAPIURL:        "https://graph.microsoft.com/v1.0",
		GraphAuthURL:       "https://login.microsoftonline.com",
		GraphStrikes:       3,
		GraphLookaheadDays: 14,
		GraphResetDaily:    4,
		GraphResetWeekly:   8,
		GraphResetMonthly:  32,
		GraphResetYearly:   367,
		GraphMailboxes:     map[string]string{},
		GhostStore:         "redis",
		GhostFile:          "config/graph.json",
		GhostPruneSchedule: "0 3 * * *",
	}
}

// LoadFromFile merges a YAML file over the current values. Keys absent
// from the file keep their current value.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.ConfigFile = path
	return nil
}

// LoadDotEnv loads variables from a .env file into the process
// environment without overriding variables that are already set.
// A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables. Service
// settings use the ROOMRELEASE_ prefix, release behaviour uses RR_, and
// Graph settings use GRAPH_.
func (c *Config) LoadFromEnv() {
	// MQTT configuration
	envString("ROOMRELEASE_MQTT_BROKER", &c.MQTTBroker)
	envInt("ROOMRELEASE_MQTT_PORT", &c.MQTTPort)
	envString("ROOMRELEASE_MQTT_USER", &c.MQTTUser)
	envString("ROOMRELEASE_MQTT_PASSWORD", &c.MQTTPassword)
	envString("ROOMRELEASE_MQTT_CLIENT_ID", &c.MQTTClientID)

	// Redis configuration
	envString("ROOMRELEASE_REDIS_HOST", &c.RedisHost)
	envInt("ROOMRELEASE_REDIS_PORT", &c.RedisPort)
	envString("ROOMRELEASE_REDIS_PASSWORD", &c.RedisPassword)
	envInt("ROOMRELEASE_REDIS_DB", &c.RedisDB)

	// Postgres configuration
	envBool("ROOMRELEASE_HISTORY_ENABLED", &c.HistoryEnabled)
	envString("ROOMRELEASE_POSTGRES_HOST", &c.PostgresHost)
	envInt("ROOMRELEASE_POSTGRES_PORT", &c.PostgresPort)
	envString("ROOMRELEASE_POSTGRES_DB", &c.PostgresDB)
	envString("ROOMRELEASE_POSTGRES_USER", &c.PostgresUser)
	envString("ROOMRELEASE_POSTGRES_PASSWORD", &c.PostgresPassword)
	envString("ROOMRELEASE_POSTGRES_SSLMODE", &c.PostgresSSLMode)

	// Service configuration
	envString("ROOMRELEASE_SERVICE_NAME", &c.ServiceName)
	envInt("ROOMRELEASE_HEALTH_PORT", &c.HealthPort)
	envString("ROOMRELEASE_LOG_LEVEL", &c.LogLevel)
	if v := os.Getenv("ROOMRELEASE_DEVICES"); v != "" {
		c.Devices = splitList(v)
	}

	// Webex device API
	envString("WEBEX_API_URL", &c.WebexAPIURL)
	envString("WEBEX_TOKEN", &c.WebexToken)
	envString("WEBEX_CLIENT_ID", &c.WebexClientID)
	envString("WEBEX_CLIENT_SECRET", &c.WebexClientSecret)
	envString("WEBEX_REFRESH_TOKEN", &c.WebexRefreshToken)
	envInt("RR_HTTP_TIMEOUT", &c.HTTPTimeoutMs)
	envFloat("RR_HTTP_RATE_LIMIT", &c.HTTPRateLimit)
	envInt("RR_HTTP_RETRIES", &c.HTTPMaxRetries)

	// Detection toggles
	envBool("RR_USE_SOUND", &c.UseSound)
	envBool("RR_USE_ULTRASOUND", &c.UseUltrasound)
	envBool("RR_REQUIRE_ULTRASOUND", &c.RequireUltrasound)
	envBool("RR_USE_ACTIVE_CALL", &c.UseActiveCall)
	envBool("RR_USE_INTERACTION", &c.UseInteraction)
	envBool("RR_USE_PRESENTATION", &c.UsePresentation)
	envBool("RR_USE_ROOM_IN_USE", &c.UseRoomInUse)
	envBool("RR_BUTTON_STOP_CHECKS", &c.ButtonStopChecks)
	envBool("RR_OCCUPIED_STOP_CHECKS", &c.OccupiedStopChecks)

	// Thresholds
	envInt("RR_CONSIDERED_OCCUPIED", &c.ConsideredOccupiedMin)
	envInt("RR_EMPTY_BEFORE_RELEASE", &c.EmptyBeforeReleaseMin)
	envInt("RR_INITIAL_RELEASE_DELAY", &c.InitialReleaseDelayMin)
	envInt("RR_SOUND_LEVEL", &c.SoundLevel)
	envFloat("RR_IGNORE_LONGER_THAN", &c.IgnoreLongerThanHours)
	envInt("RR_PROMPT_DURATION", &c.PromptDurationSec)
	envInt("RR_PERIODIC_INTERVAL", &c.PeriodicIntervalMin)
	envBool("RR_TEST_MODE", &c.TestMode)
	envBool("RR_PLAY_ANNOUNCEMENT", &c.PlayAnnouncement)
	envString("RR_FEEDBACK_ID", &c.FeedbackID)

	// Notifications
	envBool("RR_WEBEX_ENABLED", &c.WebexNotify)
	envString("RR_WEBEX_ROOM_ID", &c.WebexNotifyRoom)
	envString("RR_WEBEX_EMAIL", &c.WebexNotifyEmail)
	envString("RR_WEBEX_BOT_TOKEN", &c.WebexBotToken)
	envBool("RR_WEBHOOK_ENABLED", &c.WebhookNotify)
	envString("RR_WEBHOOK_URL", &c.WebhookURL)

	// Graph
	envBool("GRAPH_ENABLED", &c.GraphEnabled)
	envString("GRAPH_TENANT", &c.GraphTenant)
	envString("GRAPH_CLIENT_ID", &c.GraphClientID)
	envString("GRAPH_CLIENT_SECRET", &c.GraphClientSecret)
	envString("GRAPH_API_URL", &c.GraphAPIURL)
	envString("GRAPH_AUTH_URL", &c.GraphAuthURL)
	envInt("GRAPH_STRIKES", &c.GraphStrikes)
	envBool("GRAPH_END_BOOKING", &c.GraphEndBooking)
	envInt("GRAPH_LOOKAHEAD_DAYS", &c.GraphLookaheadDays)
	envInt("GRAPH_RESET_DAILY", &c.GraphResetDaily)
	envInt("GRAPH_RESET_WEEKLY", &c.GraphResetWeekly)
	envInt("GRAPH_RESET_MONTHLY", &c.GraphResetMonthly)
	envInt("GRAPH_RESET_YEARLY", &c.GraphResetYearly)
	if v := os.Getenv("GRAPH_MAILBOXES"); v != "" {
		c.GraphMailboxes = parseMailboxes(v)
	}
	envString("GRAPH_STORE", &c.GhostStore)
	envString("GRAPH_JSON", &c.GhostFile)
	envString("GRAPH_PRUNE_SCHEDULE", &c.GhostPruneSchedule)
}

// BindFlags registers command-line flags on fs that override config values
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	// MQTT flags
	fs.StringVar(&c.MQTTBroker, "mqtt-broker", c.MQTTBroker, "MQTT broker hostname")
	fs.IntVar(&c.MQTTPort, "mqtt-port", c.MQTTPort, "MQTT broker port")
	fs.StringVar(&c.MQTTUser, "mqtt-user", c.MQTTUser, "MQTT username")
	fs.StringVar(&c.MQTTPassword, "mqtt-password", c.MQTTPassword, "MQTT password")
	fs.StringVar(&c.MQTTClientID, "mqtt-client-id", c.MQTTClientID, "MQTT client ID")

	// Redis flags
	fs.StringVar(&c.RedisHost, "redis-host", c.RedisHost, "Redis hostname")
	fs.IntVar(&c.RedisPort, "redis-port", c.RedisPort, "Redis port")
	fs.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database number")

	// Postgres flags
	fs.BoolVar(&c.HistoryEnabled, "history", c.HistoryEnabled, "Record releases in Postgres")
	fs.StringVar(&c.PostgresHost, "postgres-host", c.PostgresHost, "Postgres hostname")
	fs.IntVar(&c.PostgresPort, "postgres-port", c.PostgresPort, "Postgres port")
	fs.StringVar(&c.PostgresDB, "postgres-db", c.PostgresDB, "Postgres database")

	// Service flags
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "Path to YAML config file")
	fs.StringVar(&c.ServiceName, "service-name", c.ServiceName, "Service name")
	fs.IntVar(&c.HealthPort, "health-port", c.HealthPort, "Health check HTTP port")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringSliceVar(&c.Devices, "device", c.Devices, "Device ID to monitor (repeatable)")

	// Release flags
	fs.BoolVar(&c.TestMode, "test-mode", c.TestMode, "Skip decline and shorten side effects")
	fs.BoolVar(&c.UseRoomInUse, "room-in-use", c.UseRoomInUse, "Use the consolidated RoomInUse signal")
	fs.IntVar(&c.EmptyBeforeReleaseMin, "empty-before-release", c.EmptyBeforeReleaseMin, "Minutes of vacancy before prompting")
	fs.IntVar(&c.InitialReleaseDelayMin, "initial-release-delay", c.InitialReleaseDelayMin, "Minutes after booking start before prompting")
	fs.IntVar(&c.PromptDurationSec, "prompt-duration", c.PromptDurationSec, "Check-in prompt duration in seconds")
	fs.IntVar(&c.PeriodicIntervalMin, "periodic-interval", c.PeriodicIntervalMin, "Minutes between metric polls")
	fs.Float64Var(&c.IgnoreLongerThanHours, "ignore-longer-than", c.IgnoreLongerThanHours, "Ignore bookings at least this many hours long")

	// Graph flags
	fs.BoolVar(&c.GraphEnabled, "graph", c.GraphEnabled, "Enable ghost booking tracking")
	fs.IntVar(&c.GraphStrikes, "graph-strikes", c.GraphStrikes, "Ghost strikes before declining a series")
	fs.StringVar(&c.GhostStore, "ghost-store", c.GhostStore, "Ghost strike store (redis, file)")
	fs.StringVar(&c.GhostFile, "ghost-file", c.GhostFile, "Ghost strike JSON file")
}

// LoadFromFlags parses command-line flags and overrides config values
func (c *Config) LoadFromFlags() {
	c.BindFlags(pflag.CommandLine)
	pflag.Parse()
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT broker is required")
	}
	if c.GhostStore == "redis" && c.RedisHost == "" {
		return fmt.Errorf("Redis host is required for the redis ghost store")
	}
	if c.GhostStore == "file" && c.GhostFile == "" {
		return fmt.Errorf("ghost file path is required for the file ghost store")
	}
	if c.WebexToken == "" && c.WebexRefreshToken == "" {
		return fmt.Errorf("either a Webex access token or refresh token is required")
	}
	if c.WebexRefreshToken != "" && (c.WebexClientID == "" || c.WebexClientSecret == "") {
		return fmt.Errorf("Webex client ID and secret are required with a refresh token")
	}
	if c.GraphEnabled && (c.GraphTenant == "" || c.GraphClientID == "" || c.GraphClientSecret == "") {
		return fmt.Errorf("Graph tenant, client ID and client secret are required when Graph is enabled")
	}
	if c.WebexNotify {
		if c.WebexNotifyRoom == "" && c.WebexNotifyEmail == "" {
			return fmt.Errorf("Webex notifications require a room ID or email")
		}
		if c.WebexBotToken == "" && c.WebexToken == "" {
			return fmt.Errorf("Webex notifications require a bot token")
		}
	}
	if c.WebhookNotify && c.WebhookURL == "" {
		return fmt.Errorf("webhook notifications require a webhook URL")
	}
	if c.RequireUltrasound && c.UseRoomInUse {
		return fmt.Errorf("require ultrasound cannot be combined with the RoomInUse signal")
	}

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// MQTTAddress returns the full MQTT broker address
func (c *Config) MQTTAddress() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTBroker, c.MQTTPort)
}

// RedisAddress returns the full Redis address
func (c *Config) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// PostgresDSN returns a lib/pq connection string
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresUser, c.PostgresPassword, c.PostgresSSLMode)
}

// ConfigFileFromArgs finds a --config value before flags are bound so
// the file can be applied beneath env and flag overrides.
func ConfigFileFromArgs(args []string) string {
	for i, a := range args {
		if strings.HasPrefix(a, "--config=") {
			return strings.TrimPrefix(a, "--config=")
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv("ROOMRELEASE_CONFIG")
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseMailboxes parses "device=mailbox,device2=mailbox2"
func parseMailboxes(v string) map[string]string {
	out := make(map[string]string)
	for _, pair := range splitList(v) {
		device, mailbox, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(device)] = strings.TrimSpace(mailbox)
	}
	return out
}
