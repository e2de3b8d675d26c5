package api

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProfilePostgres = "postgres"
	ProfileMemory   = "memory"

	AuthLocal    = "local"
	AuthKeycloak = "keycloak"
)

type Config struct {
	ConfigPath  string
	Profile     string
	ApiGinMode  string
	InitSQLPath string

	Port string

	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string

	// identity
	AuthMode     string
	JWTSecret    string `cfg:"secret"`
	SessionTTL   time.Duration
	AuthAddress  string
	Realm        string
	Audience     string
	ClientID     string
	ClientSecret string `cfg:"secret"`
	MemberGroup  string

	// database
	DBURL      string `cfg:"secret"`
	DBAddress  string
	DBUser     string
	DBPassword string `cfg:"secret"`
	DBName     string

	// idempotency cache
	RedisAddress  string
	RedisPassword string `cfg:"secret"`
	RedisDB       int

	SweepInterval time.Duration
	CronSecret    string `cfg:"secret"`

	AdminEmail    string
	AdminPassword string `cfg:"secret"`
	SeedPassword  string `cfg:"secret"`
}

func loadConfig(path string) Config {
	if err := godotenv.Load(path); err != nil {
		log.Printf("Failed to load the config file at %s, using default ones...", path)
	}

	s := strings.Split(path, "/")
	config := Config{
		ConfigPath:  s[len(s)-1],
		Profile:     strings.ToLower(getEnv("PROFILE", ProfilePostgres)),
		ApiGinMode:  getEnv("GIN_MODE", "debug"),
		InitSQLPath: getEnv("INIT_SQL_PATH", "./internal/store/db/init.sql"),

		Port:           getEnv("PORT", "5050"),
		AllowedOrigins: getEnvFields("ALLOW_ORIGINS", []string{"*"}),
		AllowedMethods: getEnvFields("ALLOW_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		AllowedHeaders: getEnvFields("ALLOW_HEADERS", []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"}),

		AuthMode:     strings.ToLower(getEnv("AUTH_MODE", AuthLocal)),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		SessionTTL:   getDurationEnv("SESSION_TTL", 24*time.Hour),
		AuthAddress:  getEnv("AUTH_ADDRESS", "localhost:5555"),
		Realm:        getEnv("KC_REALM", "teamcore"),
		Audience:     getEnv("KC_AUDIENCE", "teamcore-front"),
		ClientID:     getEnv("KC_CLIENT", "teamcore-api"),
		ClientSecret: getEnv("KC_CLIENT_SECRET", ""),
		MemberGroup:  getEnv("KC_MEMBER_GROUP", ""),

		DBURL:      getEnv("DB_URL", ""),
		DBAddress:  getEnv("DB_ADDRESS", "localhost:5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "teamcore"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		SweepInterval: getDurationEnv("SWEEP_INTERVAL", time.Minute),
		CronSecret:    getEnv("CRON_SECRET", ""),

		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		SeedPassword:  getEnv("SEED_PASSWORD", "teamcore123"),
	}

	log.Print(config.toString())

	return config
}

func getEnv(env, fallback string) string {
	if value, exists := os.LookupEnv(env); exists {
		return value
	}

	return fallback
}

func getEnvFields(env string, fallback []string) []string {
	if value, exists := os.LookupEnv(env); exists {
		fields := strings.Split(strings.TrimSpace(value), ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}

		return fields
	}

	return fallback
}

func getIntEnv(env string, fallback int) int {
	if value, exists := os.LookupEnv(env); exists {
		int_value, err := strconv.Atoi(value)
		if err == nil {
			return int_value
		}
		log.Printf("invalid integer for %s: %q, using %d", env, value, fallback)
	}

	return fallback
}

// getDurationEnv accepts Go durations ("90s", "5m") or plain seconds.
func getDurationEnv(env string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(env)
	if !exists {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("invalid duration for %s: %q, using %s", env, value, fallback)

	return fallback
}

func (cfg *Config) toString() string {
	var strBuilder strings.Builder

	reflectedValues := reflect.ValueOf(cfg).Elem()
	reflectedTypes := reflect.TypeOf(cfg).Elem()

	strBuilder.WriteString(fmt.Sprintf("[CFG]CONFIGURATION: %s\n", cfg.ConfigPath))

	for i := 0; i < reflectedValues.NumField(); i++ {
		field := reflectedTypes.Field(i)
		fieldName := field.Name
		fieldValue := reflectedValues.Field(i).Interface()

		if field.Tag.Get("cfg") == "secret" {
			fieldValue = mask(fmt.Sprint(fieldValue))
		}

		strBuilder.WriteString("[CFG]")
		if i < 9 {
			strBuilder.WriteString(fmt.Sprintf("%d.  ", i+1))
		} else {
			strBuilder.WriteString(fmt.Sprintf("%d. ", i+1))
		}
		if len(fieldName) <= 6 {
			strBuilder.WriteString(fmt.Sprintf("%v\t\t\t\t\t-> %v\n", fieldName, fieldValue))
		} else if len(fieldName) <= 14 {
			strBuilder.WriteString(fmt.Sprintf("%v\t\t\t\t-> %v\n", fieldName, fieldValue))
		} else {
			strBuilder.WriteString(fmt.Sprintf("%v\t\t\t-> %v\n", fieldName, fieldValue))
		}
	}

	return strBuilder.String()
}

func mask(v string) string {
	if v == "" {
		return "<unset>"
	}
	return "******"
}
