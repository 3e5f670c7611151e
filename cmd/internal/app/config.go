package app

import (
	"time"

	"messenger/cmd/internal/realtime"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // json | pretty

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32
	AutoMigrate bool

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// Identity: session rows in Postgres, plus optional JWT and PASETO bearer tokens.
	IdentitySchema     string
	SessionTableHashed bool
	JWTSecret          string
	JWTIssuer          string
	PasetoPublicKeyHex string
	PasetoSecretKeyHex string
	PasetoIssuer       string

	// If true, MESSENGER_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and session lookups use HMAC.
	RequireTokenHMAC bool

	UploadsDir     string
	MaxUploadBytes int64
	MaxUploadFiles int
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool

	StoreTimeout      time.Duration
	AttachmentTimeout time.Duration

	RedisURL        string
	SendRateLimit   int
	SendRateWindow  time.Duration
	IdempotencyTTL  time.Duration
	NotifySharedKey string

	WS realtime.WSConfig

	KafkaBrokers            string
	KafkaMessageTopic       string
	KafkaNotificationTopic  string
	KafkaNotificationsGroup string

	OTELEndpoint    string
	OTELServiceName string
	OTELSampleRatio float64
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	ws := realtime.DefaultWSConfig()

	return Config{
		HTTPAddr:  EnvString("MESSENGER_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("MESSENGER_LOG_LEVEL", "info"),
		LogFormat: EnvString("MESSENGER_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("MESSENGER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("MESSENGER_HTTP_READ_TIMEOUT", 60*time.Second),
		WriteTimeout:      EnvDuration("MESSENGER_HTTP_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       EnvDuration("MESSENGER_HTTP_IDLE_TIMEOUT", 90*time.Second),
		MaxHeaderBytes:    EnvInt("MESSENGER_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("MESSENGER_SHUTDOWN_TIMEOUT", 10*time.Second),

		CORSAllowedOrigins:   EnvCSV("MESSENGER_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("MESSENGER_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("MESSENGER_CORS_MAX_AGE_SECONDS", 600),

		DatabaseURL: EnvString("MESSENGER_DATABASE_URL", ""),
		DBSchema:    EnvString("MESSENGER_DB_SCHEMA", "messenger"),
		DBMaxConns:  EnvInt32("MESSENGER_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("MESSENGER_DB_MIN_CONNS", 0),
		AutoMigrate: EnvBool("MESSENGER_AUTO_MIGRATE", false),

		ReadinessRequireDB: EnvBool("MESSENGER_READINESS_REQUIRE_DB", false),

		IdentitySchema:     EnvString("MESSENGER_IDENTITY_SCHEMA", "messenger"),
		SessionTableHashed: EnvBool("MESSENGER_SESSION_TOKENS_HASHED", false),
		JWTSecret:          EnvString("MESSENGER_JWT_SECRET", ""),
		JWTIssuer:          EnvString("MESSENGER_JWT_ISSUER", ""),
		PasetoPublicKeyHex: EnvString("MESSENGER_PASETO_V4_PUBLIC_KEY_HEX", ""),
		PasetoSecretKeyHex: EnvString("MESSENGER_PASETO_V4_SECRET_KEY_HEX", ""),
		PasetoIssuer:       EnvString("MESSENGER_PASETO_ISSUER", "messenger"),

		RequireTokenHMAC: EnvBool("MESSENGER_REQUIRE_TOKEN_HMAC", false),

		UploadsDir:     EnvString("MESSENGER_UPLOADS_DIR", "./uploads"),
		MaxUploadBytes: EnvInt64("MESSENGER_UPLOAD_MAX_FILE_BYTES", 10<<20),
		MaxUploadFiles: EnvInt("MESSENGER_UPLOAD_MAX_FILES", 5),
		MinIOEndpoint:  EnvString("MESSENGER_MINIO_ENDPOINT", ""),
		MinIOAccessKey: EnvString("MESSENGER_MINIO_ACCESS_KEY", ""),
		MinIOSecretKey: EnvString("MESSENGER_MINIO_SECRET_KEY", ""),
		MinIOBucket:    EnvString("MESSENGER_MINIO_BUCKET", "messenger-uploads"),
		MinIOUseSSL:    EnvBool("MESSENGER_MINIO_USE_SSL", false),

		StoreTimeout:      EnvDuration("MESSENGER_STORE_TIMEOUT", 5*time.Second),
		AttachmentTimeout: EnvDuration("MESSENGER_ATTACHMENT_TIMEOUT", 30*time.Second),

		RedisURL:        EnvString("MESSENGER_REDIS_URL", ""),
		SendRateLimit:   EnvInt("MESSENGER_SEND_RATE_LIMIT", 30),
		SendRateWindow:  EnvDuration("MESSENGER_SEND_RATE_WINDOW", time.Minute),
		IdempotencyTTL:  EnvDuration("MESSENGER_IDEMPOTENCY_TTL", 24*time.Hour),
		NotifySharedKey: EnvString("MESSENGER_NOTIFY_KEY", ""),

		WS: realtime.WSConfig{
			RequireAuth:       EnvBool("MESSENGER_WS_REQUIRE_AUTH", false),
			DevInsecure:       EnvBool("MESSENGER_WS_DEV_INSECURE", false),
			OriginRequired:    EnvBool("MESSENGER_WS_ORIGIN_REQUIRED", false),
			AllowedOrigins:    EnvCSV("MESSENGER_WS_ALLOWED_ORIGINS", ws.AllowedOrigins),
			WriteTimeout:      EnvDuration("MESSENGER_WS_WRITE_TIMEOUT", ws.WriteTimeout),
			ReadIdleTimeout:   EnvDuration("MESSENGER_WS_READ_IDLE_TIMEOUT", ws.ReadIdleTimeout),
			SendQueueSize:     EnvInt("MESSENGER_WS_SEND_QUEUE", ws.SendQueueSize),
			HeartbeatInterval: EnvDuration("MESSENGER_WS_HEARTBEAT_INTERVAL", ws.HeartbeatInterval),
			HeartbeatTimeout:  EnvDuration("MESSENGER_WS_HEARTBEAT_TIMEOUT", ws.HeartbeatTimeout),
			RateEvents:        EnvInt("MESSENGER_WS_RATE_EVENTS", ws.RateEvents),
			RateWindow:        EnvDuration("MESSENGER_WS_RATE_WINDOW", ws.RateWindow),
		},

		KafkaBrokers:            EnvString("MESSENGER_KAFKA_BROKERS", ""),
		KafkaMessageTopic:       EnvString("MESSENGER_KAFKA_MESSAGE_TOPIC", "messenger.message.created"),
		KafkaNotificationTopic:  EnvString("MESSENGER_KAFKA_NOTIFICATION_TOPIC", "messenger.notifications"),
		KafkaNotificationsGroup: EnvString("MESSENGER_KAFKA_NOTIFICATIONS_GROUP", "messenger-realtime"),

		OTELEndpoint:    EnvString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELServiceName: EnvString("OTEL_SERVICE_NAME", "messenger"),
		OTELSampleRatio: EnvRatio("OTEL_TRACES_SAMPLER_ARG", 1.0),
	}
}
