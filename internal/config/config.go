// Package config loads service configuration from a YAML file with
// environment-variable overrides for deploy-time settings.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Paths   PathsConfig   `yaml:"paths"`
	Review  ReviewConfig  `yaml:"review"`
	VAT     VATConfig     `yaml:"vat"`
	AI      AIConfig      `yaml:"ai"`
	OCR     OCRConfig     `yaml:"ocr"`
	Storage StorageConfig `yaml:"storage"`
	Sheets  SheetsConfig  `yaml:"sheets"`
	Auth    AuthConfig    `yaml:"auth"`
	Worker  WorkerConfig  `yaml:"worker"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type PathsConfig struct {
	Inbox     string `yaml:"inbox"`     // watched for new documents
	Organized string `yaml:"organized"` // root of the year/month/category tree
	Uploads   string `yaml:"uploads"`   // temp area for API uploads, kept out of the watched inbox
}

// ReviewConfig holds the confidence thresholds for the status classifier.
type ReviewConfig struct {
	// Below MinConfidence an extraction is flagged as low confidence.
	MinConfidence float64 `yaml:"min_confidence"`
	// At or above OKConfidence a complete extraction is accepted without review.
	OKConfidence float64 `yaml:"ok_confidence"`
}

// VATConfig holds the UAE VAT rate used for reconciliation.
type VATConfig struct {
	Rate float64 `yaml:"rate"`
}

type AIConfig struct {
	DefaultProvider string       `yaml:"default_provider"` // openai, gemini, ollama
	OpenAI          OpenAIConfig `yaml:"openai"`
	Gemini          GeminiConfig `yaml:"gemini"`
	Ollama          OllamaConfig `yaml:"ollama"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type OCRConfig struct {
	Languages string `yaml:"languages"` // tesseract -l value, e.g. "eng+ara"
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Tenant    string `yaml:"tenant"` // object key prefix
}

type SheetsConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	WorksheetName   string `yaml:"worksheet_name"`
}

type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	TokenHours  int    `yaml:"token_hours"`
	DisableAuth bool   `yaml:"disable_auth"`
}

type WorkerConfig struct {
	Concurrency     int `yaml:"concurrency"`
	SyncIntervalMin int `yaml:"sync_interval_min"` // sheet reverse-sync tick, 0 disables
}

// Load reads the YAML file at path (if it exists), applies defaults and
// environment overrides, and returns the result.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	applyEnv(cfg)

	if cfg.Review.MinConfidence <= 0 {
		cfg.Review.MinConfidence = 0.6
	}
	if cfg.Review.OKConfidence <= 0 {
		cfg.Review.OKConfidence = 0.75
	}
	if cfg.VAT.Rate <= 0 {
		cfg.VAT.Rate = 0.05
	}
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 3
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Paths: PathsConfig{
			Inbox:     "./inbox",
			Organized: "./organized",
			Uploads:   "./uploads",
		},
		Review: ReviewConfig{MinConfidence: 0.6, OKConfidence: 0.75},
		VAT:    VATConfig{Rate: 0.05},
		AI: AIConfig{
			DefaultProvider: "openai",
			OpenAI:          OpenAIConfig{Model: "gpt-4o-mini"},
			Gemini:          GeminiConfig{Model: "gemini-1.5-flash"},
			Ollama:          OllamaConfig{BaseURL: "http://localhost:11434", Model: "mistral"},
		},
		OCR:    OCRConfig{Languages: "eng+ara"},
		Auth:   AuthConfig{TokenHours: 24},
		Worker: WorkerConfig{Concurrency: 3, SyncIntervalMin: 0},
		Sheets: SheetsConfig{WorksheetName: "Invoices"},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("INBOX_DIR"); v != "" {
		cfg.Paths.Inbox = v
	}
	if v := os.Getenv("ORGANIZED_DIR"); v != "" {
		cfg.Paths.Organized = v
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.Paths.Uploads = v
	}
	if v := os.Getenv("AI_PROVIDER"); v != "" {
		cfg.AI.DefaultProvider = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.AI.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.AI.OpenAI.Model = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.AI.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.AI.Gemini.Model = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.AI.Ollama.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.AI.Ollama.Model = v
	}
	if v := os.Getenv("OCR_LANGUAGES"); v != "" {
		cfg.OCR.Languages = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		cfg.Storage.UseSSL = v == "true" || v == "1"
	}
	if v := os.Getenv("MINIO_TENANT"); v != "" {
		cfg.Storage.Tenant = v
	}
	if v := os.Getenv("SHEETS_CREDENTIALS_FILE"); v != "" {
		cfg.Sheets.CredentialsFile = v
	}
	if v := os.Getenv("SHEETS_SPREADSHEET_ID"); v != "" {
		cfg.Sheets.SpreadsheetID = v
	}
	if v := os.Getenv("SHEETS_WORKSHEET_NAME"); v != "" {
		cfg.Sheets.WorksheetName = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("DISABLE_AUTH"); v != "" {
		cfg.Auth.DisableAuth = v == "true" || v == "1"
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("SHEETS_SYNC_INTERVAL_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Worker.SyncIntervalMin = n
		}
	}
}
