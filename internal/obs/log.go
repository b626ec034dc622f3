package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// Emit writes a structured JSON log line. A "ts" field is added when absent.
func Emit(entry map[string]any) {
	if entry == nil {
		entry = map[string]any{}
	}
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"ts":"error","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

// Info emits an informational event with optional fields.
func Info(msg string, fields map[string]any) { emitLevel("info", msg, fields) }

// Warn emits a warning event with optional fields.
func Warn(msg string, fields map[string]any) { emitLevel("warning", msg, fields) }

// Error emits an error event with optional fields.
func Error(msg string, fields map[string]any) { emitLevel("error", msg, fields) }

// Critical emits a critical event with optional fields.
func Critical(msg string, fields map[string]any) { emitLevel("critical", msg, fields) }

func emitLevel(level, msg string, fields map[string]any) {
	entry := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["level"] = level
	entry["msg"] = msg
	Emit(entry)
}
