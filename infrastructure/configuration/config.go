package configuration

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"social-publisher/infrastructure/logger"

	"github.com/spf13/viper"
)

type Config struct {
	App          App                       `json:"app" mapstructure:"app"`
	Database     Database                  `json:"database" mapstructure:"database"`
	RedisClient  RedisClient               `json:"redisClient" mapstructure:"redisClient"`
	Queue        Queue                     `json:"queue" mapstructure:"queue"`
	Lock         Lock                      `json:"lock" mapstructure:"lock"`
	Orchestrator Orchestrator              `json:"orchestrator" mapstructure:"orchestrator"`
	Events       Events                    `json:"events" mapstructure:"events"`
	Pubsub       Pubsub                    `json:"pubsub" mapstructure:"pubsub"`
	ServiceBus   ServiceBus                `json:"serviceBus" mapstructure:"serviceBus"`
	Kafka        Kafka                     `json:"kafka" mapstructure:"kafka"`
	Platforms    map[string]PlatformConfig `json:"platforms" mapstructure:"platforms"`
	Logger       Logger                    `json:"logger" mapstructure:"logger"`
}

type App struct {
	Port        int      `json:"port" mapstructure:"port"`
	SecretKey   string   `json:"secretKey" mapstructure:"secretKey"`
	TLSEnabled  bool     `json:"tlsEnabled" mapstructure:"tlsEnabled"`
	TLSCertFile string   `json:"tlsCertFile" mapstructure:"tlsCertFile"`
	TLSKeyFile  string   `json:"tlsKeyFile" mapstructure:"tlsKeyFile"`
	CORSOrigins []string `json:"corsOrigins" mapstructure:"corsOrigins"`
}

type Database struct {
	Psql  Db `json:"psql" mapstructure:"psql"`
	MySql Db `json:"mysql" mapstructure:"mysql"`
	Mongo Db `json:"mongo" mapstructure:"mongo"`
	Mssql Db `json:"mssql" mapstructure:"mssql"`
}

type Db struct {
	Name     string `json:"name" mapstructure:"name"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	User     string `json:"user" mapstructure:"user"`
	Password string `json:"password" mapstructure:"password"`
}

type RedisClient struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         string `json:"port" mapstructure:"port"`
	Password     string `json:"password" mapstructure:"password"`
	DatabaseName string `json:"databaseName" mapstructure:"databaseName"`
	Username     string `json:"username" mapstructure:"username"`
}

// Queue holds the publish-job queue name and its default job policy.
type Queue struct {
	Name              string        `json:"name" mapstructure:"name"`
	Attempts          int           `json:"attempts" mapstructure:"attempts"`
	BackoffType       string        `json:"backoffType" mapstructure:"backoffType"`
	BackoffDelay      time.Duration `json:"backoffDelay" mapstructure:"backoffDelay"`
	Timeout           time.Duration `json:"timeout" mapstructure:"timeout"`
	VisibilityTimeout time.Duration `json:"visibilityTimeout" mapstructure:"visibilityTimeout"`
	RemoveOnComplete  bool          `json:"removeOnComplete" mapstructure:"removeOnComplete"`
	RemoveOnFail      bool          `json:"removeOnFail" mapstructure:"removeOnFail"`
}

type Lock struct {
	Prefix     string        `json:"prefix" mapstructure:"prefix"`
	TTL        time.Duration `json:"ttl" mapstructure:"ttl"`
	Retries    int           `json:"retries" mapstructure:"retries"`
	RetryDelay time.Duration `json:"retryDelay" mapstructure:"retryDelay"`
}

type Orchestrator struct {
	Workers           int           `json:"workers" mapstructure:"workers"`
	PollInterval      time.Duration `json:"pollInterval" mapstructure:"pollInterval"`
	SchedulerInterval time.Duration `json:"schedulerInterval" mapstructure:"schedulerInterval"`
	SchedulerBatch    int           `json:"schedulerBatch" mapstructure:"schedulerBatch"`
	RefreshWindow     time.Duration `json:"refreshWindow" mapstructure:"refreshWindow"`
	CallbackParkTTL   time.Duration `json:"callbackParkTTL" mapstructure:"callbackParkTTL"`
}

// Events selects the transports completion events are fanned out to.
type Events struct {
	Transports []string `json:"transports" mapstructure:"transports"`
	Topic      string   `json:"topic" mapstructure:"topic"`
}

type Pubsub struct {
	ProjectID string `json:"projectID" mapstructure:"projectID"`
}

type ServiceBus struct {
	Namespace        string `json:"namespace" mapstructure:"namespace"`
	ConnectionString string `json:"connectionString" mapstructure:"connectionString"`
}

type Kafka struct {
	Brokers string `json:"brokers" mapstructure:"brokers"`
}

// PlatformConfig describes one target platform: API base, OAuth client and upload tuning.
type PlatformConfig struct {
	Enabled       bool     `json:"enabled" mapstructure:"enabled"`
	BaseURL       string   `json:"baseURL" mapstructure:"baseURL"`
	UploadURL     string   `json:"uploadURL" mapstructure:"uploadURL"`
	ClientID      string   `json:"clientId" mapstructure:"clientId"`
	ClientSecret  string   `json:"clientSecret" mapstructure:"clientSecret"`
	RedirectURI   string   `json:"redirectURI" mapstructure:"redirectURI"`
	AuthURL       string   `json:"authURL" mapstructure:"authURL"`
	TokenURL      string   `json:"tokenURL" mapstructure:"tokenURL"`
	Scopes        []string `json:"scopes" mapstructure:"scopes"`
	PartSize      int64    `json:"partSize" mapstructure:"partSize"`
	WebhookSecret string   `json:"webhookSecret" mapstructure:"webhookSecret"`
}

type Logger struct {
	Format string `json:"format" mapstructure:"format"`
}

var C Config

func init() {
	LoadConfig()
	initDatabase(&C)
	initApp(&C)
	initRuntime(&C)
	initPlatforms(&C)
}

func LoadConfig() {
	name := getConfig()
	viper.SetConfigName(name)
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("../../")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.GetLogger().Warn("Config file not found")
		} else {
			logger.GetLogger().WithField("error", err).Error("Error reading config file")
		}
	}

	logger.GetLogger().WithField("config", name).Info("Config set up successfully")
	if err := viper.Unmarshal(&C); err != nil {
		logger.GetLogger().WithField("error", err).Error("Viper unable to decode into struct")
	}
}

func getConfig() string {
	name := "config"
	env := os.Getenv("ENV")
	if env != "" {
		name = fmt.Sprintf("%s-%s", name, env)
	}
	return name
}

func initDatabase(C *Config) {
	fillFromEnv(&C.Database.Psql.Name, "DB_NAME")
	fillFromEnv(&C.Database.Psql.Host, "DB_HOST")
	fillFromEnv(&C.Database.Psql.Port, "DB_PORT")
	fillFromEnv(&C.Database.Psql.User, "DB_USER")
	fillFromEnv(&C.Database.Psql.Password, "DB_PASSWORD")

	// Optional MSSQL config via environment variables (Azure SQL in production)
	fillFromEnv(&C.Database.Mssql.Name, "MSSQL_DB_NAME")
	fillFromEnv(&C.Database.Mssql.Host, "MSSQL_HOST")
	fillFromEnv(&C.Database.Mssql.Port, "MSSQL_PORT")
	fillFromEnv(&C.Database.Mssql.User, "MSSQL_USER")
	fillFromEnv(&C.Database.Mssql.Password, "MSSQL_PASSWORD")
	if C.Database.Mssql.Host == "" {
		C.Database.Mssql.Host = "localhost"
	}
	if C.Database.Mssql.Port == "" {
		C.Database.Mssql.Port = "1433"
	}

	fillFromEnv(&C.Database.MySql.Host, "MYSQL_HOST")
	fillFromEnv(&C.Database.MySql.Port, "MYSQL_PORT")
	fillFromEnv(&C.Database.MySql.Name, "MYSQL_DB_NAME")
	fillFromEnv(&C.Database.MySql.User, "MYSQL_USER")
	fillFromEnv(&C.Database.MySql.Password, "MYSQL_PASSWORD")

	fillFromEnv(&C.Database.Mongo.Host, "MONGO_HOST")
	fillFromEnv(&C.Database.Mongo.Port, "MONGO_PORT")

	fillFromEnv(&C.RedisClient.Host, "REDIS_HOST")
	fillFromEnv(&C.RedisClient.Port, "REDIS_PORT")
	fillFromEnv(&C.RedisClient.Password, "REDIS_PASSWORD")
	if C.RedisClient.Host == "" {
		C.RedisClient.Host = "localhost"
	}
	if C.RedisClient.Port == "" {
		C.RedisClient.Port = "6379"
	}
}

func initApp(C *Config) {
	// Prefer SECRET_KEY from environment for JWT verification; overrides config file when provided
	if v := os.Getenv("SECRET_KEY"); v != "" {
		C.App.SecretKey = v
	}
	// Port resolution order (env overrides config): APP_PORT -> PORT -> config -> default 10001
	if v := os.Getenv("APP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	} else if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	}
	if C.App.Port == 0 {
		C.App.Port = 10001
	}
	if v := os.Getenv("TLS_ENABLED"); v != "" {
		switch v {
		case "1", "true", "TRUE", "True":
			C.App.TLSEnabled = true
		case "0", "false", "FALSE", "False":
			C.App.TLSEnabled = false
		}
	}
	fillFromEnv(&C.App.TLSCertFile, "TLS_CERT_FILE")
	fillFromEnv(&C.App.TLSKeyFile, "TLS_KEY_FILE")
	if len(C.App.CORSOrigins) == 0 {
		C.App.CORSOrigins = []string{"http://localhost:4200"}
	}
	if C.App.SecretKey == "" {
		logger.GetLogger().Warn("App.SecretKey not set; JWT authentication will fail. Provide SECRET_KEY via environment.")
	}
}

// initRuntime fills queue, lock and worker defaults.
func initRuntime(C *Config) {
	q := &C.Queue
	if q.Name == "" {
		q.Name = "publish"
	}
	if q.Attempts <= 0 {
		q.Attempts = 3
	}
	if q.BackoffType == "" {
		q.BackoffType = "exponential"
	}
	if q.BackoffDelay <= 0 {
		q.BackoffDelay = 5 * time.Second
	}
	if q.Timeout <= 0 {
		q.Timeout = 10 * time.Minute
	}
	if q.VisibilityTimeout <= 0 {
		q.VisibilityTimeout = q.Timeout + time.Minute
	}
	if !viper.IsSet("queue.removeOnComplete") {
		q.RemoveOnComplete = true
	}
	if !viper.IsSet("queue.removeOnFail") {
		q.RemoveOnFail = true
	}

	l := &C.Lock
	if l.Prefix == "" {
		l.Prefix = "lock"
	}
	if l.TTL <= 0 {
		// Must outlive a whole job attempt, otherwise a second worker could take over mid-upload.
		l.TTL = q.Timeout + time.Minute
	}
	if l.Retries <= 0 {
		l.Retries = 3
	}
	if l.RetryDelay <= 0 {
		l.RetryDelay = 200 * time.Millisecond
	}

	o := &C.Orchestrator
	if v := os.Getenv("WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.Workers = n
		}
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.SchedulerInterval <= 0 {
		o.SchedulerInterval = 15 * time.Second
	}
	if o.SchedulerBatch <= 0 {
		o.SchedulerBatch = 50
	}
	if o.RefreshWindow <= 0 {
		o.RefreshWindow = 5 * time.Minute
	}
	if o.CallbackParkTTL <= 0 {
		o.CallbackParkTTL = 24 * time.Hour
	}

	if C.Events.Topic == "" {
		C.Events.Topic = "publish-completed"
	}
	fillFromEnv(&C.Kafka.Brokers, "KAFKA_BROKERS")
	fillFromEnv(&C.Pubsub.ProjectID, "PUBSUB_PROJECT_ID")
	fillFromEnv(&C.ServiceBus.Namespace, "SERVICEBUS_NAMESPACE")
	fillFromEnv(&C.ServiceBus.ConnectionString, "SERVICEBUS_CONNECTION_STRING")
}

// initPlatforms lets <PLATFORM>_CLIENT_ID style variables override the config file.
func initPlatforms(C *Config) {
	if C.Platforms == nil {
		C.Platforms = map[string]PlatformConfig{}
	}
	for name, p := range C.Platforms {
		prefix := strings.ToUpper(name) + "_"
		fillFromEnv(&p.ClientID, prefix+"CLIENT_ID")
		fillFromEnv(&p.ClientSecret, prefix+"CLIENT_SECRET")
		fillFromEnv(&p.RedirectURI, prefix+"REDIRECT_URI")
		fillFromEnv(&p.WebhookSecret, prefix+"WEBHOOK_SECRET")
		if C.App.TLSEnabled && p.RedirectURI != "" && !hasHTTPS(p.RedirectURI) {
			p.RedirectURI = toHTTPSCallback(p.RedirectURI)
		}
		C.Platforms[name] = p
	}
}

func fillFromEnv(target *string, key string) {
	if *target != "" {
		return
	}
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// helpers to coerce local callback to https
func hasHTTPS(u string) bool { return strings.HasPrefix(u, "https://") }
func toHTTPSCallback(u string) string {
	if strings.HasPrefix(u, "http://") {
		return "https://" + u[7:]
	}
	return u
}
