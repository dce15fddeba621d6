package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ModeLoop    = "loop"
	ModeProcess = "process"

	TransportNATS  = "nats"
	TransportRedis = "redis"
	TransportKafka = "kafka"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Relay       RelayConfig      `yaml:"relay"`
	Redis       RedisConfig      `yaml:"redis"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	EventStore  EventStoreConfig `yaml:"event_store"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// RelayConfig selects how transcripts are forwarded into the speech queue.
type RelayConfig struct {
	SpeakerName       string `yaml:"speaker_name"`
	Mode              string `yaml:"mode"` // loop, process
	QueueCapacity     int    `yaml:"queue_capacity"`
	EnqueueWaitMS     int    `yaml:"enqueue_wait_ms"`
	LoopBacklog       int    `yaml:"loop_backlog"`
	Transport         string `yaml:"transport"` // nats, redis, kafka
	TranscriptSubject string `yaml:"transcript_subject"`
	SpeechSubject     string `yaml:"speech_subject"`
}

type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	Key           string `yaml:"key"`
	DialTimeoutMS int    `yaml:"dial_timeout_ms"`
}

type KafkaConfig struct {
	Brokers        []string `yaml:"brokers"`
	Topic          string   `yaml:"topic"`
	WriteTimeoutMS int      `yaml:"write_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-relay",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8081,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Host:           "127.0.0.1",
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Relay: RelayConfig{
			SpeakerName:       "User",
			Mode:              ModeLoop,
			QueueCapacity:     64,
			LoopBacklog:       256,
			Transport:         TransportNATS,
			TranscriptSubject: "stt.text.>",
			SpeechSubject:     "speech.queue",
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			Key:           "loqa:speech",
			DialTimeoutMS: 2000,
		},
		Kafka: KafkaConfig{
			Brokers:        []string{"localhost:9092"},
			Topic:          "loqa.speech",
			WriteTimeoutMS: 10000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-speech.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "LOQA_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Relay.SpeakerName, "LOQA_RELAY_SPEAKER_NAME")
	overrideString(&cfg.Relay.Mode, "LOQA_RELAY_MODE")
	overrideInt(&cfg.Relay.QueueCapacity, "LOQA_RELAY_QUEUE_CAPACITY")
	overrideInt(&cfg.Relay.EnqueueWaitMS, "LOQA_RELAY_ENQUEUE_WAIT_MS")
	overrideInt(&cfg.Relay.LoopBacklog, "LOQA_RELAY_LOOP_BACKLOG")
	overrideString(&cfg.Relay.Transport, "LOQA_RELAY_TRANSPORT")
	overrideString(&cfg.Relay.TranscriptSubject, "LOQA_RELAY_TRANSCRIPT_SUBJECT")
	overrideString(&cfg.Relay.SpeechSubject, "LOQA_RELAY_SPEECH_SUBJECT")
	overrideString(&cfg.Redis.Addr, "LOQA_REDIS_ADDR")
	overrideString(&cfg.Redis.Password, "LOQA_REDIS_PASSWORD")
	overrideInt(&cfg.Redis.DB, "LOQA_REDIS_DB")
	overrideString(&cfg.Redis.Key, "LOQA_REDIS_KEY")
	overrideInt(&cfg.Redis.DialTimeoutMS, "LOQA_REDIS_DIAL_TIMEOUT_MS")
	overrideStringSlice(&cfg.Kafka.Brokers, "LOQA_KAFKA_BROKERS")
	overrideString(&cfg.Kafka.Topic, "LOQA_KAFKA_TOPIC")
	overrideInt(&cfg.Kafka.WriteTimeoutMS, "LOQA_KAFKA_WRITE_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if err := validateRelay(cfg); err != nil {
		return err
	}
	if cfg.Relay.Mode == ModeLoop {
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty")
		}
		switch cfg.EventStore.RetentionMode {
		case "ephemeral", "session", "persistent":
		default:
			return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
		}
		if cfg.EventStore.RetentionDays < 0 {
			return errors.New("event_store.retention_days must be >= 0")
		}
	}
	return nil
}

func validateRelay(cfg Config) error {
	relay := cfg.Relay
	if strings.TrimSpace(relay.SpeakerName) == "" {
		return errors.New("relay.speaker_name must not be empty")
	}
	if relay.TranscriptSubject == "" {
		return errors.New("relay.transcript_subject must not be empty")
	}
	switch relay.Mode {
	case ModeLoop:
		if relay.QueueCapacity <= 0 {
			return errors.New("relay.queue_capacity must be >= 1")
		}
		if relay.LoopBacklog <= 0 {
			return errors.New("relay.loop_backlog must be >= 1")
		}
		if relay.EnqueueWaitMS < 0 {
			return errors.New("relay.enqueue_wait_ms must be >= 0")
		}
	case ModeProcess:
		switch relay.Transport {
		case TransportNATS:
			if relay.SpeechSubject == "" {
				return errors.New("relay.speech_subject must be set when transport=nats")
			}
		case TransportRedis:
			if cfg.Redis.Addr == "" || cfg.Redis.Key == "" {
				return errors.New("redis.addr and redis.key must be set when transport=redis")
			}
		case TransportKafka:
			if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
				return errors.New("kafka.brokers and kafka.topic must be set when transport=kafka")
			}
		default:
			return errors.New("relay.transport must be one of nats|redis|kafka")
		}
	default:
		return errors.New("relay.mode must be one of loop|process")
	}
	return nil
}
