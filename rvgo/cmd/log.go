package cmd

import (
	"fmt"
	"io"
	"strings"

	"log/slog"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
)

func Logger(w io.Writer, lvl slog.Level) log.Logger {
	return log.NewLogger(log.LogfmtHandlerWithLevel(w, lvl))
}

// ParseLevel parses a log level name as accepted by --log.level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "trace", "trce":
		return log.LevelTrace, nil
	case "debug", "dbug":
		return log.LevelDebug, nil
	case "info":
		return log.LevelInfo, nil
	case "warn":
		return log.LevelWarn, nil
	case "error", "eror":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// LoggingWriter turns guest output into log records. Every write becomes one record
// with Name as message, printable output as "text" and anything else hex encoded as "data".
type LoggingWriter struct {
	Name string
	Log  log.Logger
}

func printable(s string) bool {
	for _, c := range s {
		if c == '\n' || c == '\t' {
			continue
		}
		if c < 0x20 || c >= 0x7F {
			return false
		}
	}
	return true
}

func (lw *LoggingWriter) Write(b []byte) (int, error) {
	if s := string(b); printable(s) {
		lw.Log.Info(lw.Name, "text", s)
	} else {
		lw.Log.Info(lw.Name, "data", hexutil.Bytes(b))
	}
	return len(b), nil
}

// HexU64 prints an address as 16 hex digits, both in logs and in text output.
type HexU64 uint64

func (v HexU64) String() string {
	return fmt.Sprintf("%016x", uint64(v))
}

func (v HexU64) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}
