package config

import (
	"time"
)

type ServerConfig struct {
	Port             int           `koanf:"port" default:"8080" description:"HTTP port"`
	GracefulShutdown time.Duration `koanf:"graceful-shutdown" default:"10s" description:"Graceful shutdown timeout"`
	ReadTimeout      time.Duration `koanf:"read-timeout" default:"1m" description:"HTTP read timeout"`
	WriteTimeout     time.Duration `koanf:"write-timeout" default:"1m" description:"HTTP write timeout"`
	AllowedOrigins   []string      `koanf:"allowed-origins" default:"*" description:"CORS allowed origins"`
}

type LoggingConfig struct {
	Level string `koanf:"level" default:"info" description:"Logging level" validate:"oneof=debug info warn error dpanic panic fatal"`
	File  string `koanf:"file" description:"Logging file path"`
}

type JWTConfig struct {
	Secret string `koanf:"secret" description:"HMAC secret used to verify session tokens" validate:"required,min=32"`
}

type DBConfig struct {
	DataSource  string `koanf:"data-source" description:"Postgres connection string" validate:"required"`
	PrepareStmt bool   `koanf:"prepare-stmt" default:"true" description:"Enable prepared statements"`
	LogLevel    string `koanf:"log-level" default:"error" description:"Database log level"`
	Pool        struct {
		Enable             bool          `koanf:"enable" default:"true" description:"Enable database pool"`
		MaxOpenConnections int           `koanf:"max-open-connections" default:"25" description:"Database max open connections"`
		MaxIdleConnections int           `koanf:"max-idle-connections" default:"25" description:"Database max idle connections"`
		MaxLifetime        time.Duration `koanf:"max-lifetime" default:"10m" description:"Database max connection lifetime"`
	} `koanf:"pool"`
}

type RedisConfig struct {
	Addr            string        `koanf:"addr" description:"Redis address, empty disables Redis"`
	Password        string        `koanf:"password" description:"Redis password"`
	DB              int           `koanf:"db" default:"0" description:"Redis database"`
	PoolSize        int           `koanf:"pool-size" default:"10" description:"Redis pool size"`
	MinIdleConns    int           `koanf:"min-idle-conns" default:"2" description:"Redis min idle connections"`
	ConnMaxIdleTime time.Duration `koanf:"conn-max-idle-time" default:"5m" description:"Redis connection max idle time"`
	ConnMaxLifetime time.Duration `koanf:"conn-max-lifetime" default:"1h" description:"Redis connection max lifetime"`
}

type CacheConfig struct {
	MaxSize     int           `koanf:"max-size" default:"10485760" description:"In memory cache size in bytes"`
	SettingsTTL time.Duration `koanf:"settings-ttl" default:"5m" description:"How long notification settings are cached"`
}

type EventsConfig struct {
	Namespace         string `koanf:"namespace" default:"geonotify" description:"Broker channel namespace"`
	Dispatch          string `koanf:"dispatch" default:"async" description:"Handler dispatch mode: sync, async or queue" validate:"oneof=sync async queue"`
	Workers           int    `koanf:"workers" default:"8" description:"Async dispatch workers" validate:"min=1"`
	BufferSize        int    `koanf:"buffer-size" default:"1000" description:"Async dispatch queue size" validate:"min=1"`
	FanoutConcurrency int    `koanf:"fanout-concurrency" default:"8" description:"Concurrent inserts per fan-out" validate:"min=1"`
	QueueWorkers      int    `koanf:"queue-workers" default:"10" description:"River workers for queue dispatch" validate:"min=1"`
	IngestToken       string `koanf:"ingest-token" description:"Bearer token required by the event ingest endpoint"`
}

type ReminderConfig struct {
	Enable    bool          `koanf:"enable" default:"true" description:"Run the reminder job"`
	Schedule  string        `koanf:"schedule" default:"@every 15m" description:"Reminder job cron schedule"`
	Delay     time.Duration `koanf:"delay" default:"12h" description:"Age of an unseen notification before a reminder is sent"`
	BatchSize int           `koanf:"batch-size" default:"500" description:"Notifications scanned per run" validate:"min=1"`
	Rate      float64       `koanf:"rate" default:"5" description:"Reminder e-mails per second" validate:"gt=0"`
	LockerKey string        `koanf:"locker-key" default:"cron-locker:reminders" description:"Redis key guarding concurrent runs"`
	LockTTL   time.Duration `koanf:"lock-ttl" default:"10m" description:"Reminder lock expiry"`
	SiteURL   string        `koanf:"site-url" default:"http://localhost:3000" description:"Link included in reminder e-mails"`
}

type SMTPConfig struct {
	Host     string `koanf:"host" description:"SMTP host, empty logs e-mails instead of sending"`
	Port     int    `koanf:"port" default:"465" description:"SMTP port"`
	Username string `koanf:"username" description:"SMTP username"`
	Password string `koanf:"password" description:"SMTP password"`
	From     string `koanf:"from" default:"noreply@localhost" description:"Sender address"`
	TLS      bool   `koanf:"tls" default:"true" description:"Use implicit TLS, otherwise STARTTLS when offered"`
}

type ServerCmdConfig struct {
	Server    ServerConfig   `koanf:"server"`
	Log       LoggingConfig  `koanf:"log"`
	JWT       JWTConfig      `koanf:"jwt"`
	DB        DBConfig       `koanf:"db"`
	Redis     RedisConfig    `koanf:"redis"`
	Cache     CacheConfig    `koanf:"cache"`
	Events    EventsConfig   `koanf:"events"`
	Reminders ReminderConfig `koanf:"reminders"`
	SMTP      SMTPConfig     `koanf:"smtp"`
}

type MigrateCmdConfig struct {
	DB  DBConfig      `koanf:"db"`
	Log LoggingConfig `koanf:"log"`
}

type RemindCmdConfig struct {
	DB        DBConfig       `koanf:"db"`
	Log       LoggingConfig  `koanf:"log"`
	Redis     RedisConfig    `koanf:"redis"`
	Cache     CacheConfig    `koanf:"cache"`
	Reminders ReminderConfig `koanf:"reminders"`
	SMTP      SMTPConfig     `koanf:"smtp"`
}
