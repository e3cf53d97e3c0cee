package config

import (
	"os"
	"strconv"
	"time"
)

const (
	DEFAULT_HF_API_URL      = "https://api-inference.huggingface.co"
	DEFAULT_HF_DATASETS_URL = "https://datasets-server.huggingface.co"
	DEFAULT_POLL_INTERVAL   = 5 * time.Second
	DEFAULT_BIAS_THRESHOLD  = 0.7
	DEFAULT_REFERENCE_ROWS  = 1000
)

type Config struct {
	Env         string
	HTTPAddr    string
	ModelsFile  string
	HuggingFace HuggingFaceConfig
	OpenAIKey   string

	LogStore string
	AWS      AWSConfig
	Mongo    MongoConfig
	SQLDSN   string

	Kafka KafkaConfig

	JobStore string
	Valkey   ValkeyConfig

	ArtifactStore string
	ArtifactDir   string
	Minio         MinioConfig

	Toxicity ToxicityConfig

	AlertPollInterval   time.Duration
	ReferenceSampleSize int
	ReferenceDataset    string
	ReferenceConfig     string
}

type HuggingFaceConfig struct {
	APIURL      string
	DatasetsURL string
	Token       string
	Timeout     time.Duration
}

type AWSConfig struct {
	Endpoint string
	Region   string
	Table    string
}

type MongoConfig struct {
	URI      string
	Database string
}

type KafkaConfig struct {
	Broker     string
	AuditTopic string
	GroupID    string
	// SinkStore is the LOG_STORE the audit sink mirrors records into.
	SinkStore string
}

type ValkeyConfig struct {
	Address  string
	Password string
	TLS      bool
}

type MinioConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type ToxicityConfig struct {
	Backend   string
	Model     string
	ModelDir  string
	Threshold float64
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || v <= 0 {
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || v <= 0 {
		return defaultValue
	}
	return v
}

// Load reads the configuration from the process environment. Call LoadEnv
// first to pick up values from config/envs.
func Load() Config {
	env := getEnv("APP_ENV", "dev")

	hfTimeout := 60 * time.Second
	if env == "production" {
		hfTimeout = 10 * time.Second
	}

	return Config{
		Env:        env,
		HTTPAddr:   getEnv("HTTP_ADDR", ":8000"),
		ModelsFile: getEnv("MODELS_FILE", "config/models.yaml"),
		HuggingFace: HuggingFaceConfig{
			APIURL:      getEnv("HF_API_URL", DEFAULT_HF_API_URL),
			DatasetsURL: getEnv("HF_DATASETS_URL", DEFAULT_HF_DATASETS_URL),
			Token:       getEnv("HF_API_TOKEN", ""),
			Timeout:     getEnvDuration("HF_TIMEOUT", hfTimeout),
		},
		OpenAIKey: getEnv("OPENAI_API_KEY", ""),

		LogStore: getEnv("LOG_STORE", "memory"),
		AWS: AWSConfig{
			Endpoint: getEnv("AWS_ENDPOINT", ""),
			Region:   getEnv("AWS_REGION", "us-west-2"),
			Table:    getEnv("DYNAMODB_TABLE", "AuditLogs"),
		},
		Mongo: MongoConfig{
			URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGODB_DB_NAME", "llm_bias_db"),
		},
		SQLDSN: getEnv("SQL_DSN", "llm_bias.db"),

		Kafka: KafkaConfig{
			Broker:     getEnv("KAFKA_BROKER", ""),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "audit-records"),
			GroupID:    getEnv("KAFKA_GROUP_ID", "audit-sink"),
			SinkStore:  getEnv("AUDIT_SINK_STORE", "dynamodb"),
		},

		JobStore: getEnv("JOB_STORE", "memory"),
		Valkey: ValkeyConfig{
			Address:  getEnv("VALKEY_INIT_ADDRESS", "localhost:6379"),
			Password: getEnv("VALKEY_PASSWORD", ""),
			TLS:      getEnvBool("VALKEY_TLS", false),
		},

		ArtifactStore: getEnv("ARTIFACT_STORE", "local"),
		ArtifactDir:   getEnv("ARTIFACT_DIR", "."),
		Minio: MinioConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			Region:    getEnv("MINIO_REGION", "us-east-1"),
			Bucket:    getEnv("MINIO_BUCKET", "llm-bias"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},

		Toxicity: ToxicityConfig{
			Backend:   getEnv("TOXICITY_BACKEND", "none"),
			Model:     getEnv("TOXICITY_MODEL", "unitary/toxic-bert"),
			ModelDir:  getEnv("TOXICITY_MODEL_DIR", "./models"),
			Threshold: getEnvFloat("BIAS_THRESHOLD", DEFAULT_BIAS_THRESHOLD),
		},

		AlertPollInterval:   getEnvDuration("ALERT_POLL_INTERVAL", DEFAULT_POLL_INTERVAL),
		ReferenceSampleSize: getEnvInt("REFERENCE_SAMPLE_SIZE", DEFAULT_REFERENCE_ROWS),
		ReferenceDataset:    getEnv("REFERENCE_DATASET", "wikimedia/wikipedia"),
		ReferenceConfig:     getEnv("REFERENCE_CONFIG", "20231101.en"),
	}
}
