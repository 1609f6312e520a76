// Package config loads ardetect settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/ardetect/internal/detector"
)

// Config is the full application configuration.
type Config struct {
	Detector detector.Options `yaml:"detector"`
	Camera   CameraConfig     `yaml:"camera"`
	Server   ServerConfig     `yaml:"server"`
	Store    StoreConfig      `yaml:"store"`
	Log      LogConfig        `yaml:"log"`
}

// CameraConfig selects the capture device.
type CameraConfig struct {
	DeviceID int `yaml:"device_id"`
	FPS      int `yaml:"fps"`
	// Rotation is the sensor orientation in degrees, passed to every Detect.
	Rotation int `yaml:"rotation"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// AllowedOrigins lists browser origins allowed to call the API.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Detector: detector.DefaultOptions(),
		Camera:   CameraConfig{DeviceID: 0, FPS: 5},
		Server:   ServerConfig{Addr: ":8080"},
		Store:    StoreConfig{Path: "ardetect.db"},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays ARDETECT_* variables onto cfg.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	if v, ok := lookup("ARDETECT_THRESHOLD"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("ARDETECT_THRESHOLD: %w", err))
		} else {
			cfg.Detector.Threshold = float32(f)
		}
	}
	num("ARDETECT_NUM_THREADS", &cfg.Detector.NumThreads)
	num("ARDETECT_MAX_RESULTS", &cfg.Detector.MaxResults)
	if v, ok := lookup("ARDETECT_DELEGATE"); ok {
		d, err := detector.ParseDelegate(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("ARDETECT_DELEGATE: %w", err))
		} else {
			cfg.Detector.Delegate = d
		}
	}
	if v, ok := lookup("ARDETECT_MODEL"); ok {
		m, err := detector.ParseModel(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("ARDETECT_MODEL: %w", err))
		} else {
			cfg.Detector.Model = m
		}
	}
	str("ARDETECT_MODEL_DIR", &cfg.Detector.ModelDir)
	num("ARDETECT_CAMERA", &cfg.Camera.DeviceID)
	num("ARDETECT_CAMERA_FPS", &cfg.Camera.FPS)
	num("ARDETECT_ROTATION", &cfg.Camera.Rotation)
	str("ARDETECT_ADDR", &cfg.Server.Addr)
	str("ARDETECT_DB", &cfg.Store.Path)
	str("ARDETECT_LOG_LEVEL", &cfg.Log.Level)

	return errors.Join(errs...)
}

// Validate checks cfg for values the detector cannot use.
func Validate(cfg Config) error {
	var errs []error
	if err := ValidateDetector(cfg.Detector); err != nil {
		errs = append(errs, err)
	}
	if cfg.Camera.FPS <= 0 {
		errs = append(errs, fmt.Errorf("camera.fps must be positive, got %d", cfg.Camera.FPS))
	}
	if cfg.Camera.Rotation%90 != 0 {
		errs = append(errs, fmt.Errorf("camera.rotation must be a multiple of 90, got %d", cfg.Camera.Rotation))
	}
	return errors.Join(errs...)
}

// ValidateDetector checks detector options.
func ValidateDetector(o detector.Options) error {
	var errs []error
	if o.Threshold < 0 || o.Threshold > 1 {
		errs = append(errs, fmt.Errorf("detector.threshold must be within [0,1], got %v", o.Threshold))
	}
	if o.NumThreads < 1 {
		errs = append(errs, fmt.Errorf("detector.num_threads must be at least 1, got %d", o.NumThreads))
	}
	if o.MaxResults < 0 {
		errs = append(errs, fmt.Errorf("detector.max_results must not be negative, got %d", o.MaxResults))
	}
	if !o.Delegate.Valid() {
		errs = append(errs, fmt.Errorf("detector.delegate %d is unknown", int(o.Delegate)))
	}
	if !o.Model.Valid() {
		errs = append(errs, fmt.Errorf("detector.model %d is unknown", int(o.Model)))
	}
	return errors.Join(errs...)
}
