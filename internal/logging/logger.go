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

package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
)

var (
	// Global logger instance
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json", "console"
}

// Initialize sets up the global logger based on environment variables
func Initialize() error {
	config := LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Format: getEnvOrDefault("LOG_FORMAT", "console"),
	}

	return InitializeWithConfig(config)
}

// InitializeWithConfig sets up the global logger with provided configuration
func InitializeWithConfig(config LogConfig) error {
	var zapConfig zap.Config

	switch strings.ToLower(config.Format) {
	case "json":
		zapConfig = zap.NewProductionConfig()
	default:
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(strings.ToLower(config.Level))
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapConfig.Level = level

	logger, err := zapConfig.Build(
		zap.AddCallerSkip(1), // Skip the wrapper functions
		zap.AddStacktrace(zap.ErrorLevel),
	)
	if err != nil {
		return err
	}

	SetLogger(logger)

	Sugar.Infof("🚀 Structured logging initialized (level: %s, format: %s)",
		config.Level, config.Format)

	return nil
}

// SetLogger replaces the global logger. Tests use it to install an observer core.
func SetLogger(logger *zap.Logger) {
	Logger = logger
	if logger == nil {
		Sugar = nil
		return
	}
	Sugar = logger.Sugar()
}

// Sync flushes any buffered log entries
func Sync() {
	if Logger != nil {
		// Sync fails on stdout/stderr for some platforms; nothing useful to do about it.
		_ = Logger.Sync()
	}
}

// Close cleans up the logger
func Close() {
	Sync()
}

// LogRecognitionEvent logs a speech recognition lifecycle event
func LogRecognitionEvent(event string, fields ...zap.Field) {
	if Logger == nil {
		return
	}

	baseFields := []zap.Field{
		zap.String("component", "recognition"),
		zap.String("event", event),
	}

	Logger.Info("Recognition event", append(baseFields, fields...)...)
}

// LogSynthesisOperation logs text-to-speech operations
func LogSynthesisOperation(operation string, fields ...zap.Field) {
	if Logger == nil {
		return
	}

	baseFields := []zap.Field{
		zap.String("component", "synthesis"),
		zap.String("operation", operation),
	}

	Logger.Info("Synthesis operation", append(baseFields, fields...)...)
}

// LogNATSEvent logs NATS messaging events
func LogNATSEvent(subject, action string, fields ...zap.Field) {
	if Logger == nil {
		return
	}

	baseFields := []zap.Field{
		zap.String("component", "messaging"),
		zap.String("subject", subject),
		zap.String("action", action),
	}

	Logger.Info("NATS event", append(baseFields, fields...)...)
}

// LogDatabaseOperation logs database operations
func LogDatabaseOperation(operation, table string, fields ...zap.Field) {
	if Logger == nil {
		return
	}

	baseFields := []zap.Field{
		zap.String("component", "database"),
		zap.String("operation", operation),
		zap.String("table", table),
	}

	Logger.Info("Database operation", append(baseFields, fields...)...)
}

// LogError logs errors with context
func LogError(err error, message string, fields ...zap.Field) {
	if Logger == nil {
		return
	}

	Logger.Error(message, append([]zap.Field{zap.Error(err)}, fields...)...)
}

// LogInfo logs informational messages with context
func LogInfo(message string, fields ...zap.Field) {
	if Logger == nil {
		return
	}

	Logger.Info(message, fields...)
}

// LogWarn logs warnings with context
func LogWarn(message string, fields ...zap.Field) {
	if Logger == nil {
		return
	}

	Logger.Warn(message, fields...)
}

// LogDebug logs debug messages with context
func LogDebug(message string, fields ...zap.Field) {
	if Logger == nil {
		return
	}

	Logger.Debug(message, fields...)
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
