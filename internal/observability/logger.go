package observability

import (
	"io"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{logger: logger}
}

// WithUnit adds the peer's MAC address to logger context.
func (l *Logger) WithUnit(mac net.HardwareAddr) *Logger {
	return &Logger{logger: l.logger.With().Str("unit_mac", mac.String()).Logger()}
}

// WithChunk adds a chunk hash (hex) to logger context.
func (l *Logger) WithChunk(hashHex string) *Logger {
	return &Logger{logger: l.logger.With().Str("chunk_hash", hashHex).Logger()}
}

// WithSession adds a session identifier to logger context.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{logger: l.logger.With().Str("session_id", sessionID).Logger()}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// ChunkStored logs a successful add_chunk.
func (l *Logger) ChunkStored(hashHex string, size, csize int) {
	l.logger.Debug().
		Str("chunk_hash", hashHex).
		Int("size", size).
		Int("csize", csize).
		Msg("chunk stored")
}

// ChunkBroadcast logs one chunk's emission over the broadcast engine.
func (l *Logger) ChunkBroadcast(hashHex string, dataPackets, parityPackets int) {
	l.logger.Debug().
		Str("chunk_hash", hashHex).
		Int("data_packets", dataPackets).
		Int("parity_packets", parityPackets).
		Msg("chunk broadcast")
}

// UnitRegistered logs a successful unit registration.
func (l *Logger) UnitRegistered(mac net.HardwareAddr, group uint8, row, col uint16, image string) {
	l.logger.Info().
		Str("unit_mac", mac.String()).
		Uint8("group", group).
		Uint16("row", row).
		Uint16("col", col).
		Str("image", image).
		Msg("unit registered")
}

// ActionAssigned logs an action transition for a unit.
func (l *Logger) ActionAssigned(mac net.HardwareAddr, action string) {
	l.logger.Info().
		Str("unit_mac", mac.String()).
		Str("action", action).
		Msg("action assigned")
}

// TransferProgress logs store/flash progress for a unit.
func (l *Logger) TransferProgress(mac net.HardwareAddr, kind string, done, total uint64) {
	var pct float64
	if total > 0 {
		pct = float64(done) / float64(total) * 100.0
	}
	l.logger.Info().
		Str("unit_mac", mac.String()).
		Str("kind", kind).
		Uint64("done", done).
		Uint64("total", total).
		Float64("progress_percent", pct).
		Msg("transfer progress")
}

// GCCompleted logs a chunk store garbage collection pass.
func (l *Logger) GCCompleted(removed int, reclaimed uint64, duration time.Duration) {
	l.logger.Info().
		Int("chunks_removed", removed).
		Uint64("bytes_reclaimed", reclaimed).
		Dur("duration", duration).
		Msg("gc completed")
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
