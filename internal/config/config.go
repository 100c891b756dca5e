// ==============================================
// relaychat configuration
// Environment-driven, loaded once in main
// ==============================================

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Realtime RealtimeConfig
	ICE      ICEConfig
}

// ==============================================
// Application Configuration
// ==============================================

type AppConfig struct {
	Name        string
	Version     string
	Environment string
	Port        string
	Debug       bool
}

// ==============================================
// Server Configuration
// ==============================================

type ServerConfig struct {
	HTTP      HTTPConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
}

type HTTPConfig struct {
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimit       int // requests per minute per IP
	RateBurst       int
}

type WebSocketConfig struct {
	Namespace       string
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     bool
	PingPeriod      time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageSize  int64
	SendBufferSize  int
	EventsPerMinute int
}

type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
}

// ==============================================
// Database Configuration
// ==============================================

type DatabaseConfig struct {
	Driver  string // mongodb or memory
	MongoDB MongoConfig
	Memory  MemoryConfig
}

type MongoConfig struct {
	URI                    string
	Database               string
	MaxPoolSize            uint64
	MinPoolSize            uint64
	MaxConnIdleTime        time.Duration
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
	OperationTimeout       time.Duration
}

type MemoryConfig struct {
	// Groups seeds memberships: "g1:u1,u2,u3;g2:u4,u5"
	Groups string
}

// ==============================================
// Security Configuration
// ==============================================

type SecurityConfig struct {
	JWT                  JWTConfig
	AllowUserIDHandshake bool
}

type JWTConfig struct {
	Secret     string
	Issuer     string
	ExpiryHour int
}

// ==============================================
// Realtime Configuration
// ==============================================

type RealtimeConfig struct {
	IdempotencyTTL      time.Duration
	IdempotencySize     int
	TypingTimeout       time.Duration
	PrivateRingTimeout  time.Duration
	GroupRingTimeout    time.Duration
	GroupCallBusyPolicy bool
	PersistRetryDelay   time.Duration
}

// ==============================================
// ICE Configuration
// ==============================================

// ICEConfig lists the STUN/TURN servers handed to call clients. TURN
// credentials are minted from TURNSecret with the TURN REST API scheme.
type ICEConfig struct {
	STUNURLs      []string
	TURNURLs      []string
	TURNSecret    string
	CredentialTTL time.Duration
}

// ==============================================
// Configuration Loading
// ==============================================

func Load() *Config {
	cfg := &Config{
		App:      loadAppConfig(),
		Server:   loadServerConfig(),
		Database: loadDatabaseConfig(),
		Security: loadSecurityConfig(),
		Realtime: loadRealtimeConfig(),
		ICE:      loadICEConfig(),
	}
	cfg.ApplyEnvironmentOverrides()
	return cfg
}

func loadAppConfig() AppConfig {
	return AppConfig{
		Name:        getEnv("APP_NAME", "relaychat"),
		Version:     getEnv("APP_VERSION", "1.0.0"),
		Environment: getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		Debug:       getEnvAsBool("DEBUG", false),
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		HTTP: HTTPConfig{
			Host:            getEnv("HTTP_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", "30s"),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", "30s"),
			IdleTimeout:     getEnvAsDuration("HTTP_IDLE_TIMEOUT", "60s"),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", "15s"),
			RateLimit:       getEnvAsInt("HTTP_RATE_LIMIT", 120),
			RateBurst:       getEnvAsInt("HTTP_RATE_BURST", 30),
		},
		WebSocket: WebSocketConfig{
			Namespace:       getEnv("WS_NAMESPACE", "/ws/chat"),
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER", 1024),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER", 1024),
			CheckOrigin:     getEnvAsBool("WS_CHECK_ORIGIN", true),
			PingPeriod:      getEnvAsDuration("WS_PING_PERIOD", "54s"),
			PongWait:        getEnvAsDuration("WS_PONG_WAIT", "60s"),
			WriteWait:       getEnvAsDuration("WS_WRITE_WAIT", "10s"),
			MaxMessageSize:  getEnvAsInt64("WS_MAX_MESSAGE_SIZE", 64*1024),
			SendBufferSize:  getEnvAsInt("WS_SEND_BUFFER", 256),
			EventsPerMinute: getEnvAsInt("WS_EVENTS_PER_MINUTE", 600),
		},
		CORS: CORSConfig{
			AllowedOrigins:   getEnvAsSlice("CORS_ORIGINS", "http://localhost:3000"),
			AllowCredentials: getEnvAsBool("CORS_CREDENTIALS", true),
		},
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver: getEnv("STORE_DRIVER", "mongodb"),
		MongoDB: MongoConfig{
			URI:                    getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database:               getEnv("MONGODB_DATABASE", "relaychat"),
			MaxPoolSize:            getEnvAsUint64("MONGODB_MAX_POOL_SIZE", 100),
			MinPoolSize:            getEnvAsUint64("MONGODB_MIN_POOL_SIZE", 5),
			MaxConnIdleTime:        getEnvAsDuration("MONGODB_MAX_IDLE_TIME", "30m"),
			ConnectTimeout:         getEnvAsDuration("MONGODB_CONNECT_TIMEOUT", "10s"),
			ServerSelectionTimeout: getEnvAsDuration("MONGODB_SERVER_SELECTION_TIMEOUT", "5s"),
			OperationTimeout:       getEnvAsDuration("MONGODB_OPERATION_TIMEOUT", "5s"),
		},
		Memory: MemoryConfig{
			Groups: getEnv("MEMORY_GROUPS", ""),
		},
	}
}

func loadSecurityConfig() SecurityConfig {
	return SecurityConfig{
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", ""),
			Issuer:     getEnv("JWT_ISSUER", "relaychat"),
			ExpiryHour: getEnvAsInt("JWT_EXPIRY_HOUR", 24),
		},
		AllowUserIDHandshake: getEnvAsBool("ALLOW_USER_ID_HANDSHAKE", false),
	}
}

func loadRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		IdempotencyTTL:      getEnvAsDuration("IDEMPOTENCY_TTL", "10m"),
		IdempotencySize:     getEnvAsInt("IDEMPOTENCY_CACHE_SIZE", 100000),
		TypingTimeout:       getEnvAsDuration("TYPING_TIMEOUT", "5s"),
		PrivateRingTimeout:  getEnvAsDuration("PRIVATE_RING_TIMEOUT", "30s"),
		GroupRingTimeout:    getEnvAsDuration("GROUP_RING_TIMEOUT", "45s"),
		GroupCallBusyPolicy: getEnvAsBool("GROUP_CALL_BUSY_POLICY", true),
		PersistRetryDelay:   getEnvAsDuration("PERSIST_RETRY_DELAY", "100ms"),
	}
}

func loadICEConfig() ICEConfig {
	return ICEConfig{
		STUNURLs:      getEnvAsSlice("ICE_STUN_URLS", "stun:stun.l.google.com:19302"),
		TURNURLs:      getEnvAsSlice("ICE_TURN_URLS", ""),
		TURNSecret:    getEnv("TURN_SECRET", ""),
		CredentialTTL: getEnvAsDuration("TURN_CREDENTIAL_TTL", "1h"),
	}
}

// ==============================================
// Helper Functions
// ==============================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if uintValue, err := strconv.ParseUint(value, 10, 64); err == nil {
			return uintValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func getEnvAsSlice(key string, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// ==============================================
// Configuration Validation
// ==============================================

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mongodb", "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Database.Driver)
	}

	if c.Security.JWT.Secret == "" && !c.Security.AllowUserIDHandshake {
		return fmt.Errorf("JWT_SECRET is required unless ALLOW_USER_ID_HANDSHAKE is enabled")
	}

	if c.Realtime.TypingTimeout <= 0 || c.Realtime.PrivateRingTimeout <= 0 || c.Realtime.GroupRingTimeout <= 0 {
		return fmt.Errorf("typing and ring timeouts must be positive")
	}

	if c.Realtime.IdempotencyTTL <= 0 || c.Realtime.IdempotencySize <= 0 {
		return fmt.Errorf("idempotency window and cache size must be positive")
	}

	if len(c.ICE.TURNURLs) > 0 && c.ICE.TURNSecret == "" {
		return fmt.Errorf("TURN_SECRET is required when ICE_TURN_URLS is set")
	}

	if c.Server.WebSocket.PingPeriod >= c.Server.WebSocket.PongWait {
		return fmt.Errorf("WS_PING_PERIOD must be shorter than WS_PONG_WAIT")
	}

	return nil
}

// ==============================================
// Environment-specific Configuration
// ==============================================

func (c *Config) ApplyEnvironmentOverrides() {
	switch c.App.Environment {
	case "development":
		c.App.Debug = true
		c.Server.CORS.AllowedOrigins = append(c.Server.CORS.AllowedOrigins, "http://localhost:3001")
	case "production":
		c.App.Debug = false
		// Explicit user-id handshakes are a local testing aid only
		c.Security.AllowUserIDHandshake = false
	}
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
