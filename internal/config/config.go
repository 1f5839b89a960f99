// Package config загружает настройки сервера из переменных окружения
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/kelseyhightower/envconfig"
)

// Prefix префикс переменных окружения (UPLOAD_PORT, UPLOAD_ROOT, ...)
const Prefix = "upload"

// Config настройки сервера загрузки
type Config struct {
	Host string `envconfig:"HOST" default:""`
	Port int    `envconfig:"PORT" default:"3001"`

	// Root корневая директория загрузок, все состояние хранится в ней
	Root string `envconfig:"ROOT" default:"./target"`

	// MetaPath путь к файлу реестра сессий (по умолчанию <Root>/.meta.db)
	MetaPath string `envconfig:"META_PATH"`

	// MaxChunkSize максимальный размер одного чанка, например "64MB"
	MaxChunkSize string `envconfig:"MAX_CHUNK_SIZE" default:"64MB"`

	MergeConcurrency int           `envconfig:"MERGE_CONCURRENCY" default:"8"`
	ReadTimeout      time.Duration `envconfig:"READ_TIMEOUT" default:"300s"`
	WriteTimeout     time.Duration `envconfig:"WRITE_TIMEOUT" default:"300s"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`

	maxChunkBytes int64
}

// Load читает конфигурацию из окружения и проверяет ее
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate проверяет значения и заполняет вычисляемые поля
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.Root == "" {
		return errors.New("upload root is required")
	}

	if c.MergeConcurrency <= 0 {
		return fmt.Errorf("merge concurrency must be positive, got %d", c.MergeConcurrency)
	}

	size, err := units.RAMInBytes(c.MaxChunkSize)
	if err != nil {
		return fmt.Errorf("invalid max chunk size %q: %w", c.MaxChunkSize, err)
	}
	if size <= 0 {
		return fmt.Errorf("max chunk size must be positive, got %q", c.MaxChunkSize)
	}
	c.maxChunkBytes = size

	if c.MetaPath == "" {
		c.MetaPath = filepath.Join(c.Root, ".meta.db")
	}

	return nil
}

// MaxChunkBytes возвращает MaxChunkSize в байтах (после Validate)
func (c *Config) MaxChunkBytes() int64 {
	return c.maxChunkBytes
}

// Addr адрес для http.Server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
