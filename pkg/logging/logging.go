// Package logging builds the zap loggers shared by the drumgen commands.
package logging

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// New returns a console logger writing to stderr. Verbose enables debug
// output such as per-file extraction details.
func New(verbose bool) *zap.Logger {
	level := "info"
	if verbose {
		level = "debug"
	}

	rawJSON := []byte(fmt.Sprintf(`{
	  "level": %q,
	  "encoding": "console",
	  "outputPaths": ["stderr"],
	  "errorOutputPaths": ["stderr"],
	  "encoderConfig": {
	    "messageKey": "message",
	    "levelKey": "level",
	    "levelEncoder": "capital",
	    "timeKey": "ts",
	    "timeEncoder": "iso8601"
	  }
	}`, level))

	var cfg zap.Config
	if err := json.Unmarshal(rawJSON, &cfg); err != nil {
		panic(err)
	}
	return zap.Must(cfg.Build())
}

// NewTestLogger returns a logger plus the observed logs for assertions.
func NewTestLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, recorded := observer.New(zap.DebugLevel)
	return zap.New(core), recorded
}
