package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFilePath names the per-run log sink deterministically from the job
// id and run date, so retention cleanup can match files back to jobs.
func LogFilePath(logDir string, jobID uint, t time.Time) string {
	return filepath.Join(logDir, fmt.Sprintf("%d-%s.log", jobID, t.Format("20060102")))
}

// OpenRunLog opens a structured append-only log for one job run, one JSON
// entry per notable event. The caller must invoke the returned closer
// when the run ends.
func OpenRunLog(path string) (*zap.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log dir: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50,
		MaxBackups: 3,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(sink),
		zapcore.InfoLevel,
	)

	log := zap.New(core)
	closer := func() {
		_ = log.Sync()
		_ = sink.Close()
	}

	return log, closer, nil
}
