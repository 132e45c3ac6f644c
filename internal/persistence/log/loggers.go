package log

import (
	"path/filepath"

	"spacegame.io/internal/sim/worker"
)

// FrameLogger writes one JSONL entry per worker frame (compressed).
type FrameLogger struct{ w *JSONLZstdWriter }

func NewFrameLogger(workerDir string) *FrameLogger {
	return &FrameLogger{w: NewJSONLZstdWriter(filepath.Join(workerDir, "frames"), "frames")}
}

func (l *FrameLogger) WriteFrame(v worker.FrameLogEntry) error { return l.w.Write(v) }
func (l *FrameLogger) Close() error                            { return l.w.Close() }

// Writer exposes the underlying file writer, e.g. to hook file rotation.
func (l *FrameLogger) Writer() *JSONLZstdWriter { return l.w }

// CommandLogger writes one audit entry per answered command (compressed).
type CommandLogger struct{ w *JSONLZstdWriter }

func NewCommandLogger(workerDir string) *CommandLogger {
	return &CommandLogger{w: NewJSONLZstdWriter(filepath.Join(workerDir, "commands"), "commands")}
}

func (l *CommandLogger) WriteCommand(v worker.CommandLogEntry) error { return l.w.Write(v) }
func (l *CommandLogger) Close() error                                { return l.w.Close() }
func (l *CommandLogger) Writer() *JSONLZstdWriter                    { return l.w }
