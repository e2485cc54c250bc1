// Package logging provides structured logging channels for Curator widget
// runtime operations.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Channel represents a logical logging channel for different system components
type Channel string

const (
	// System channels
	ChannelSystem   Channel = "system"   // General system operations
	ChannelStartup  Channel = "startup"  // Application startup and initialization
	ChannelShutdown Channel = "shutdown" // Application shutdown and cleanup

	// Business logic channels
	ChannelOrchestrator Channel = "orchestrator" // Session workflow state machine
	ChannelExperiments  Channel = "experiments"  // Experiment assignment and caching
	ChannelTelemetry    Channel = "telemetry"    // Exposure and widget event emission

	// Infrastructure channels
	ChannelBackend Channel = "backend" // Upstream recommendation backend calls
	ChannelStorage Channel = "storage" // Key-value store operations
	ChannelSSE     Channel = "sse"     // Server-sent events to the widget

	// Development and debugging channels
	ChannelDebug Channel = "debug" // Debug information
)

// ChanneledLogger provides structured logging with multiple channels
type ChanneledLogger struct {
	channels map[Channel]*slog.Logger
	config   *LoggerConfig
}

// LoggerConfig contains configuration options for the channeled logger
type LoggerConfig struct {
	OutputToFile    bool                   `json:"outputToFile"`    // Whether to write logs to files
	OutputToConsole bool                   `json:"outputToConsole"` // Whether to write logs to console
	LogDirectory    string                 `json:"logDirectory"`    // Directory for log files
	JSONFormat      bool                   `json:"jsonFormat"`      // Use JSON format for structured logging
	DefaultLevel    slog.Level             `json:"defaultLevel"`    // Default log level
	ChannelLevels   map[Channel]slog.Level `json:"channelLevels"`   // Per-channel log levels
}

// DefaultLoggerConfig returns a sensible default configuration
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		OutputToFile:    false,
		OutputToConsole: true,
		LogDirectory:    "logs",
		JSONFormat:      true,
		DefaultLevel:    slog.LevelInfo,
		ChannelLevels:   make(map[Channel]slog.Level),
	}
}

// NewChanneledLogger creates a new channeled logger with the given configuration
func NewChanneledLogger(config *LoggerConfig) (*ChanneledLogger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}

	logger := &ChanneledLogger{
		channels: make(map[Channel]*slog.Logger),
		config:   config,
	}

	if config.OutputToFile {
		if err := os.MkdirAll(config.LogDirectory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	channels := []Channel{
		ChannelSystem, ChannelStartup, ChannelShutdown,
		ChannelOrchestrator, ChannelExperiments, ChannelTelemetry,
		ChannelBackend, ChannelStorage, ChannelSSE,
		ChannelDebug,
	}

	for _, channel := range channels {
		channelLogger, err := logger.createChannelLogger(channel)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger for channel %s: %w", channel, err)
		}
		logger.channels[channel] = channelLogger
	}

	return logger, nil
}

// NewTestLogger returns a logger that discards all output, for use in tests.
func NewTestLogger() *ChanneledLogger {
	logger, _ := NewChanneledLogger(&LoggerConfig{
		OutputToFile:    false,
		OutputToConsole: false,
		DefaultLevel:    slog.LevelError,
		ChannelLevels:   make(map[Channel]slog.Level),
	})
	return logger
}

// createChannelLogger creates a slog.Logger for a specific channel
func (cl *ChanneledLogger) createChannelLogger(channel Channel) (*slog.Logger, error) {
	level := cl.config.DefaultLevel
	if channelLevel, exists := cl.config.ChannelLevels[channel]; exists {
		level = channelLevel
	}

	var writers []io.Writer

	if cl.config.OutputToConsole {
		writers = append(writers, os.Stdout)
	}

	if cl.config.OutputToFile {
		filename := fmt.Sprintf("%s.log", string(channel))
		path := filepath.Join(cl.config.LogDirectory, filename)

		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		writers = append(writers, file)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cl.config.JSONFormat {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	} else {
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	return slog.New(handler).With(slog.String("channel", string(channel))), nil
}

func (cl *ChanneledLogger) System() *slog.Logger       { return cl.channels[ChannelSystem] }
func (cl *ChanneledLogger) Startup() *slog.Logger      { return cl.channels[ChannelStartup] }
func (cl *ChanneledLogger) Shutdown() *slog.Logger     { return cl.channels[ChannelShutdown] }
func (cl *ChanneledLogger) Orchestrator() *slog.Logger { return cl.channels[ChannelOrchestrator] }
func (cl *ChanneledLogger) Experiments() *slog.Logger  { return cl.channels[ChannelExperiments] }
func (cl *ChanneledLogger) Telemetry() *slog.Logger    { return cl.channels[ChannelTelemetry] }
func (cl *ChanneledLogger) Backend() *slog.Logger      { return cl.channels[ChannelBackend] }
func (cl *ChanneledLogger) Storage() *slog.Logger      { return cl.channels[ChannelStorage] }
func (cl *ChanneledLogger) SSE() *slog.Logger          { return cl.channels[ChannelSSE] }
func (cl *ChanneledLogger) Debug() *slog.Logger        { return cl.channels[ChannelDebug] }

// GetChannel returns a logger for a specific channel
func (cl *ChanneledLogger) GetChannel(channel Channel) *slog.Logger {
	if logger, exists := cl.channels[channel]; exists {
		return logger
	}
	return cl.channels[ChannelSystem]
}

// WithWorkflow returns a logger with workflow context
func (cl *ChanneledLogger) WithWorkflow(channel Channel, workflowID string) *slog.Logger {
	return cl.GetChannel(channel).With(slog.String("workflowId", workflowID))
}

// WithVisitor returns a logger with visitor context
func (cl *ChanneledLogger) WithVisitor(channel Channel, visitorID string) *slog.Logger {
	return cl.GetChannel(channel).With(slog.String("visitorId", visitorID))
}
