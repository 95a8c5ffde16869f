package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/maxaizer/jobsync/internal/config"
	"github.com/maxaizer/jobsync/pkg/loki"
	log "github.com/sirupsen/logrus"
)

const ErrorTypeField = "error_type"

const (
	ErrorTypeBackendApi = "backend_api"
	ErrorTypeStorage    = "storage"
	ErrorTypePipeline   = "pipeline"
	ErrorTypeMutation   = "mutation"
)

var (
	logFile    *os.File
	lokiPusher *loki.Pusher
)

func Setup(cfg config.LoggerConfig) {

	var output io.Writer = os.Stdout

	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0755); err != nil {
			log.Fatalf("Failed to create log directory: %v", err)
		}

		file, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		logFile = file
		output = io.MultiWriter(os.Stdout, logFile)
	}

	log.SetOutput(output)

	customFormatter := &log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000 -0700",
	}
	log.SetFormatter(customFormatter)

	level := log.InfoLevel
	switch cfg.LogLevel {
	case config.LevelDebug:
		level = log.DebugLevel
	case config.LevelWarning:
		level = log.WarnLevel
	case config.LevelError:
		level = log.ErrorLevel
	case config.LevelFatal:
		level = log.FatalLevel
	}
	log.SetLevel(level)

	addPrometheusHook()

	if cfg.LokiURL == "" {
		return
	}

	lokiCfg := loki.Config{
		Url:      cfg.LokiURL,
		Username: cfg.LokiUser,
		Password: cfg.LokiPassword,
		Labels:   map[string]string{"app": cfg.AppName},
	}
	if err := addLokiHook(context.Background(), lokiCfg, level); err != nil {
		log.Errorf("Failed to enable Loki logging: %v", err)
	}
}

func Cleanup() {
	if lokiPusher != nil {
		lokiPusher.Stop()
	}
	if logFile != nil {
		_ = logFile.Close()
	}
}
