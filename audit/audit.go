/*
Package audit provides the file-backed audit trail for policy accounting.

PURPOSE:
  Implements accounting.AuditLogger. Every entry lands in a per-policy
  JSON-lines file so an operator can read one policy's history in isolation.

FILES:
  <dir>/policy_id_<id>.log   one file per policy
  <dir>/policy_id_X.log      entries with no policy (id 0)

ENTRY FORMAT (one JSON object per line):
  {"level":"error","timestamp":"2015-02-01T10:00:00.000Z","msg":"...",
   "policy_id":"2","entry_id":"<uuid>"}

SWITCHING:
  Disable() suppresses all writes until Enable(). Bulk loads (seeding) turn
  the trail off so it only records real activity.

PURGE:
  Purge(password) removes every policy log. The password is checked against
  a bcrypt hash taken at construction; a wrong password removes nothing.

ERRORS:
  accounting.AuditLogger methods cannot fail. Write failures are reported to
  the process logger and otherwise dropped; the audit trail is never required
  for accounting correctness.
*/
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/policy-accounting/accounting"
	"github.com/warp/policy-accounting/logger"
)

// ErrInvalidPassword is returned by Purge when the password does not match.
var ErrInvalidPassword = errors.New("audit: invalid purge password")

const filePattern = "policy_id_*.log"

// FileLogger writes audit entries to per-policy files.
type FileLogger struct {
	dir     string
	pwHash  []byte
	enabled atomic.Bool
	log     *logger.Logger

	// mu serializes file writes against Purge.
	mu      sync.Mutex
	encoder zapcore.EncoderConfig
}

// NewFileLogger creates dir if needed and returns an enabled logger whose
// Purge accepts purgePassword. log receives write failures; nil discards them.
func NewFileLogger(dir, purgePassword string, log *logger.Logger) (*FileLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create audit dir %s", dir)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(purgePassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash purge password")
	}
	if log == nil {
		log = logger.NewNop()
	}

	encoder := zap.NewProductionEncoderConfig()
	encoder.TimeKey = "timestamp"
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder.CallerKey = ""
	encoder.StacktraceKey = ""

	l := &FileLogger{dir: dir, pwHash: hash, log: log, encoder: encoder}
	l.enabled.Store(true)
	return l, nil
}

// Enable resumes writing.
func (l *FileLogger) Enable() { l.enabled.Store(true) }

// Disable suppresses writing until Enable.
func (l *FileLogger) Disable() { l.enabled.Store(false) }

// Enabled reports whether entries are being written.
func (l *FileLogger) Enabled() bool { return l.enabled.Load() }

// Dir returns the directory holding the policy logs.
func (l *FileLogger) Dir() string { return l.dir }

// PathFor returns the log file of policyID.
func (l *FileLogger) PathFor(policyID accounting.PolicyID) string {
	return filepath.Join(l.dir, "policy_id_"+policyLabel(policyID)+".log")
}

// Log appends message at level to the policy's file.
func (l *FileLogger) Log(message string, level accounting.Level, policyID accounting.PolicyID) {
	if !l.Enabled() {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.PathFor(policyID)
	sink, closeSink, err := zap.Open(path)
	if err != nil {
		l.log.Warnw("audit write failed", "path", path, "error", err)
		return
	}
	defer closeSink()

	core := zapcore.NewCore(zapcore.NewJSONEncoder(l.encoder), sink, zapcore.DebugLevel)
	zap.New(core).Log(zapLevel(level), message,
		zap.String("policy_id", policyLabel(policyID)),
		zap.String("entry_id", uuid.NewString()),
	)
}

// LogKnownError logs the fixed message of code at Error level.
func (l *FileLogger) LogKnownError(code accounting.ErrorCode, policyID accounting.PolicyID) {
	l.Log(code.Message(), accounting.LevelError, policyID)
}

// Purge deletes every policy log file when password matches.
func (l *FileLogger) Purge(password string) (int, error) {
	if err := bcrypt.CompareHashAndPassword(l.pwHash, []byte(password)); err != nil {
		return 0, ErrInvalidPassword
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(l.dir, filePattern))
	if err != nil {
		return 0, errors.Wrap(err, "list audit files")
	}
	removed := 0
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return removed, errors.Wrapf(err, "remove %s", f)
		}
		removed++
	}
	return removed, nil
}

func policyLabel(id accounting.PolicyID) string {
	if id == 0 {
		return "X"
	}
	return fmt.Sprintf("%d", id)
}

func zapLevel(level accounting.Level) zapcore.Level {
	switch level {
	case accounting.LevelDebug:
		return zapcore.DebugLevel
	case accounting.LevelWarning:
		return zapcore.WarnLevel
	case accounting.LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
