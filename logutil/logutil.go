// Package logutil sets up the rotating, non-blocking process logger
package logutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
	"github.com/rs/zerolog/log"
)

// GetFolder creates the folder if needed and returns it
func GetFolder(s string) string {
	err := os.MkdirAll(s, os.ModePerm)
	if err != nil {
		fmt.Printf("Unable to create folder %s, %v", s, err)
	}
	return s
}

// GetLogFolder returns the per-application log folder
func GetLogFolder(applicationName string) string {
	return GetFolder(filepath.Join("logs", applicationName))
}

// InitLogger initializes the logger with zerolog, diode, and a rotating logger.
func InitLogger(applicationName, logFile, logLevel string) (diode.Writer, error) {
	rotatingLogger := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10,   // Max size in MB before rotation
		MaxBackups: 3,    // Max number of old log files to keep
		MaxAge:     28,   // Max number of days to retain old log files
		Compress:   true, // Compress rotated files
	}

	// Wrap Lumberjack with Diode for non-blocking logging
	bufferedWriter := diode.NewWriter(rotatingLogger, 1000, 0, func(missed int) {
		fmt.Printf("Dropped %d log messages due to buffer overflow\n", missed)
	})

	log.Logger = zerolog.New(bufferedWriter).With().Timestamp().Logger()

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		fmt.Printf("Invalid log level: %s\n", logLevel)
		return bufferedWriter, err
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Msgf("App started %s %s", applicationName, Version())
	return bufferedWriter, nil
}
