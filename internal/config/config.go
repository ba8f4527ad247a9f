/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the voice bridge
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	STT      STTConfig      `yaml:"stt"`
	Audio    AudioConfig    `yaml:"audio"`
	TTS      TTSConfig      `yaml:"tts"`
	Logging  LoggingConfig  `yaml:"logging"`
	NATS     NATSConfig     `yaml:"nats"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Database DatabaseConfig `yaml:"database"`
	Relay    RelayConfig    `yaml:"relay"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	GRPCPort     int           `yaml:"grpc_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// BridgeConfig holds the settings applied to the recognition handle and utterances
type BridgeConfig struct {
	Language           string  `yaml:"language"`            // Locale tag given to the recognizer
	SpeechRate         float32 `yaml:"speech_rate"`         // Rate multiplier for every utterance
	Recognizer         string  `yaml:"recognizer"`          // Preferred recognizer name
	FallbackRecognizer string  `yaml:"fallback_recognizer"` // Looked up when the preferred one is absent
}

// STTConfig holds Speech-to-Text backend configuration
type STTConfig struct {
	URL              string        `yaml:"url"`   // REST API URL for OpenAI-compatible STT service
	Model            string        `yaml:"model"` // Model name sent to the REST service
	Timeout          time.Duration `yaml:"timeout"`
	SampleRate       int           `yaml:"sample_rate"`
	SessionTimeout   time.Duration `yaml:"session_timeout"` // Recognition sessions end after this long
	WhisperModelPath string        `yaml:"whisper_model_path"`
	GoogleEnabled    bool          `yaml:"google_enabled"`
}

// AudioConfig holds microphone / file capture configuration
type AudioConfig struct {
	Source            string        `yaml:"source"` // "wav" or "mic"
	WAVPath           string        `yaml:"wav_path"`
	FrameSize         int           `yaml:"frame_size"`
	SilenceThreshold  float64       `yaml:"silence_threshold"` // RMS below this counts as silence
	SilenceDuration   time.Duration `yaml:"silence_duration"`  // Silence that closes an utterance
	MinSpeechDuration time.Duration `yaml:"min_speech_duration"`
	Realtime          bool          `yaml:"realtime"` // Pace WAV playback at its sample rate
}

// TTSConfig holds Text-to-Speech service configuration
type TTSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Backend        string        `yaml:"backend"`         // "kokoro" or "openai"
	URL            string        `yaml:"url"`             // REST API URL for OpenAI-compatible TTS service
	Voice          string        `yaml:"voice"`           // Default voice to use (e.g., "af_bella")
	Speed          float32       `yaml:"speed"`           // Base speech speed (1.0 = normal)
	ResponseFormat string        `yaml:"response_format"` // Audio format (mp3, wav, opus, flac)
	Normalize      bool          `yaml:"normalize"`       // Enable text normalization
	MaxConcurrent  int           `yaml:"max_concurrent"`  // Maximum concurrent TTS requests
	Timeout        time.Duration `yaml:"timeout"`         // Request timeout
	QueueSize      int           `yaml:"queue_size"`      // Pending utterances before Speak rejects
	OutputDir      string        `yaml:"output_dir"`      // Where synthesized audio is written
	Sink           string        `yaml:"sink"`            // "file" or "nats"
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NATSConfig holds NATS messaging configuration
type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	MaxReconnect  int           `yaml:"max_reconnect"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// KafkaConfig holds the optional Kafka event sink configuration
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// DatabaseConfig holds SQLite configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RelayConfig holds event fan-out configuration
type RelayConfig struct {
	Workers int `yaml:"workers"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         3100,
			GRPCPort:     50061,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Bridge: BridgeConfig{
			Language:           "en-US",
			SpeechRate:         0.9,
			Recognizer:         "rest",
			FallbackRecognizer: "whisper",
		},
		STT: STTConfig{
			URL:            "http://localhost:8000",
			Model:          "tiny",
			Timeout:        30 * time.Second,
			SampleRate:     16000,
			SessionTimeout: 60 * time.Second,
		},
		Audio: AudioConfig{
			Source:            "mic",
			FrameSize:         512,
			SilenceThreshold:  0.01,
			SilenceDuration:   700 * time.Millisecond,
			MinSpeechDuration: 200 * time.Millisecond,
			Realtime:          true,
		},
		TTS: TTSConfig{
			Enabled:        true,
			Backend:        "kokoro",
			URL:            "http://localhost:8880/v1",
			Voice:          "af_bella",
			Speed:          1.0,
			ResponseFormat: "mp3",
			Normalize:      true,
			MaxConcurrent:  4,
			Timeout:        10 * time.Second,
			QueueSize:      16,
			OutputDir:      "./data/speech",
			Sink:           "file",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		NATS: NATSConfig{
			Enabled:       true,
			URL:           "nats://localhost:4222",
			SubjectPrefix: "voice.bridge",
			MaxReconnect:  -1,
			ReconnectWait: 2 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic: "voice-bridge-events",
		},
		Database: DatabaseConfig{
			Path: "./data/voice-bridge.db",
		},
		Relay: RelayConfig{
			Workers: 1,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// VOICE_BRIDGE_CONFIG, and environment variables, in that order of precedence
func Load() (*Config, error) {
	config := Default()

	if path := os.Getenv("VOICE_BRIDGE_CONFIG"); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}

	config.applyEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFile overlays values from a YAML file
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// applyEnv overlays values from environment variables
func (c *Config) applyEnv() {
	c.Server.Host = getEnvString("VOICE_BRIDGE_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("VOICE_BRIDGE_PORT", c.Server.Port)
	c.Server.GRPCPort = getEnvInt("VOICE_BRIDGE_GRPC_PORT", c.Server.GRPCPort)
	c.Server.ReadTimeout = getEnvDuration("VOICE_BRIDGE_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("VOICE_BRIDGE_WRITE_TIMEOUT", c.Server.WriteTimeout)

	c.Bridge.Language = getEnvString("BRIDGE_LANGUAGE", c.Bridge.Language)
	c.Bridge.SpeechRate = getEnvFloat32("BRIDGE_SPEECH_RATE", c.Bridge.SpeechRate)
	c.Bridge.Recognizer = getEnvString("BRIDGE_RECOGNIZER", c.Bridge.Recognizer)
	c.Bridge.FallbackRecognizer = getEnvString("BRIDGE_FALLBACK_RECOGNIZER", c.Bridge.FallbackRecognizer)

	c.STT.URL = getEnvString("STT_URL", c.STT.URL)
	c.STT.Model = getEnvString("STT_MODEL", c.STT.Model)
	c.STT.Timeout = getEnvDuration("STT_TIMEOUT", c.STT.Timeout)
	c.STT.SampleRate = getEnvInt("STT_SAMPLE_RATE", c.STT.SampleRate)
	c.STT.SessionTimeout = getEnvDuration("STT_SESSION_TIMEOUT", c.STT.SessionTimeout)
	c.STT.WhisperModelPath = getEnvString("WHISPER_MODEL_PATH", c.STT.WhisperModelPath)
	c.STT.GoogleEnabled = getEnvBool("STT_GOOGLE_ENABLED", c.STT.GoogleEnabled)

	c.Audio.Source = getEnvString("AUDIO_SOURCE", c.Audio.Source)
	c.Audio.WAVPath = getEnvString("AUDIO_WAV_PATH", c.Audio.WAVPath)
	c.Audio.FrameSize = getEnvInt("AUDIO_FRAME_SIZE", c.Audio.FrameSize)
	c.Audio.SilenceThreshold = getEnvFloat64("AUDIO_SILENCE_THRESHOLD", c.Audio.SilenceThreshold)
	c.Audio.SilenceDuration = getEnvDuration("AUDIO_SILENCE_DURATION", c.Audio.SilenceDuration)
	c.Audio.MinSpeechDuration = getEnvDuration("AUDIO_MIN_SPEECH_DURATION", c.Audio.MinSpeechDuration)
	c.Audio.Realtime = getEnvBool("AUDIO_REALTIME", c.Audio.Realtime)

	c.TTS.Enabled = getEnvBool("TTS_ENABLED", c.TTS.Enabled)
	c.TTS.Backend = getEnvString("TTS_BACKEND", c.TTS.Backend)
	c.TTS.URL = getEnvString("TTS_URL", c.TTS.URL)
	c.TTS.Voice = getEnvString("TTS_VOICE", c.TTS.Voice)
	c.TTS.Speed = getEnvFloat32("TTS_SPEED", c.TTS.Speed)
	c.TTS.ResponseFormat = getEnvString("TTS_FORMAT", c.TTS.ResponseFormat)
	c.TTS.Normalize = getEnvBool("TTS_NORMALIZE", c.TTS.Normalize)
	c.TTS.MaxConcurrent = getEnvInt("TTS_MAX_CONCURRENT", c.TTS.MaxConcurrent)
	c.TTS.Timeout = getEnvDuration("TTS_TIMEOUT", c.TTS.Timeout)
	c.TTS.QueueSize = getEnvInt("TTS_QUEUE_SIZE", c.TTS.QueueSize)
	c.TTS.OutputDir = getEnvString("TTS_OUTPUT_DIR", c.TTS.OutputDir)
	c.TTS.Sink = getEnvString("TTS_SINK", c.TTS.Sink)

	c.Logging.Level = getEnvString("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvString("LOG_FORMAT", c.Logging.Format)

	c.NATS.Enabled = getEnvBool("NATS_ENABLED", c.NATS.Enabled)
	c.NATS.URL = getEnvString("NATS_URL", c.NATS.URL)
	c.NATS.SubjectPrefix = getEnvString("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)
	c.NATS.MaxReconnect = getEnvInt("NATS_MAX_RECONNECT", c.NATS.MaxReconnect)
	c.NATS.ReconnectWait = getEnvDuration("NATS_RECONNECT_WAIT", c.NATS.ReconnectWait)

	c.Kafka.Enabled = getEnvBool("KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = getEnvList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = getEnvString("KAFKA_TOPIC", c.Kafka.Topic)

	c.Database.Path = getEnvString("DB_PATH", c.Database.Path)

	c.Relay.Workers = getEnvInt("RELAY_WORKERS", c.Relay.Workers)
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}

	if c.Bridge.Language == "" {
		return fmt.Errorf("bridge language must be provided")
	}

	if c.Bridge.SpeechRate <= 0 {
		return fmt.Errorf("bridge speech rate must be positive: %f", c.Bridge.SpeechRate)
	}

	if c.STT.SampleRate <= 0 {
		return fmt.Errorf("STT sample rate must be positive: %d", c.STT.SampleRate)
	}

	switch c.Audio.Source {
	case "mic":
	case "wav":
		if c.Audio.WAVPath == "" {
			return fmt.Errorf("audio source wav requires AUDIO_WAV_PATH")
		}
	default:
		return fmt.Errorf("unknown audio source: %q", c.Audio.Source)
	}

	if c.Audio.FrameSize <= 0 {
		return fmt.Errorf("audio frame size must be positive: %d", c.Audio.FrameSize)
	}

	if c.TTS.Enabled {
		if c.TTS.URL == "" {
			return fmt.Errorf("TTS URL must be provided")
		}
		if c.TTS.Backend != "kokoro" && c.TTS.Backend != "openai" {
			return fmt.Errorf("unknown TTS backend: %q", c.TTS.Backend)
		}
		if c.TTS.MaxConcurrent <= 0 {
			return fmt.Errorf("TTS max concurrent must be positive: %d", c.TTS.MaxConcurrent)
		}
		if c.TTS.Speed <= 0 {
			return fmt.Errorf("TTS speed must be positive: %f", c.TTS.Speed)
		}
		if c.TTS.QueueSize <= 0 {
			return fmt.Errorf("TTS queue size must be positive: %d", c.TTS.QueueSize)
		}
		switch c.TTS.Sink {
		case "file":
		case "nats":
			if !c.NATS.Enabled {
				return fmt.Errorf("TTS sink nats requires NATS to be enabled")
			}
		default:
			return fmt.Errorf("unknown TTS sink: %q", c.TTS.Sink)
		}
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled but no brokers configured")
	}

	if c.Relay.Workers <= 0 {
		return fmt.Errorf("relay workers must be positive: %d", c.Relay.Workers)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatValue)
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
