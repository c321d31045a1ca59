// Package logger builds the process-wide slog logger from the
// configured environment. Local runs log to stdout; dev and prod
// append to a log file so restarts keep history.
package logger

import (
	"log"
	"log/slog"
	"os"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"

	defaultLogPath = "recloud.log"
)

// SetupLogger returns a logger for env. Debug level everywhere except
// prod, which logs info and above. An unknown env is fatal so a typo in
// the config never ships a silent logger.
func SetupLogger(env, logPath string) *slog.Logger {
	if env == envLocal {
		return slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	if logPath == "" {
		logPath = defaultLogPath
	}
	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatal("error opening log file: ", err)
	}
	log.Printf("env: %s; log file: %s", env, logPath)

	level := slog.LevelDebug
	switch env {
	case envDev:
	case envProd:
		level = slog.LevelInfo
	default:
		log.Fatal("invalid environment: ", env)
	}

	return slog.New(
		slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: level}),
	)
}
