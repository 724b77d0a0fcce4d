package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // "mysql" | "postgres"
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"` // postgres only
	} `yaml:"database"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	OCR struct {
		Tesseract   string `yaml:"tesseract"`
		Pdftotext   string `yaml:"pdftotext"`
		Pdftoppm    string `yaml:"pdftoppm"`
		Lang        string `yaml:"lang"`
		DPI         int    `yaml:"dpi"`
		MaxPages    int    `yaml:"maxPages"`
		PageWorkers int    `yaml:"pageWorkers"`
	} `yaml:"ocr"`

	LLM struct {
		APIKey         string `yaml:"apiKey"`
		Model          string `yaml:"model"`
		BaseURL        string `yaml:"baseURL"`
		TimeoutSeconds int    `yaml:"timeoutSeconds"`
		MaxRetries     int    `yaml:"maxRetries"`
	} `yaml:"llm"`

	Chain struct {
		Mode           string `yaml:"mode"` // "gateway" | "embedded"
		GatewayURL     string `yaml:"gatewayURL"`
		TimeoutSeconds int    `yaml:"timeoutSeconds"`
		DataDir        string `yaml:"dataDir"` // embedded mode ledger path
	} `yaml:"chain"`

	Pipeline struct {
		ExtractRetries int `yaml:"extractRetries"`
	} `yaml:"pipeline"`

	RateLimit struct {
		Capacity   int `yaml:"capacity"`
		RefillRate int `yaml:"refillRate"`
	} `yaml:"rateLimit"`
}

// Load baca file config.yaml
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	return &cfg, nil
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// Helper untuk build DSN Postgres
func (c *Config) PostgresDSN() string {
	ssl := c.Database.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		ssl,
	)
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

func (c *Config) ChainTimeout() time.Duration {
	return time.Duration(c.Chain.TimeoutSeconds) * time.Second
}
