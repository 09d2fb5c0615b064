// Package debug provides the kernel's label-selected logging and the
// kernel panic.
//
// Debug output is controlled by the GOKERNDEBUG environment variable,
// which holds a list of labels (e.g., "SYSCALL;FORK"). Messages logged
// with the ALWAYS label are printed unconditionally.
package debug

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envLabels = "GOKERNDEBUG"

var (
	logger atomic.Pointer[zap.SugaredLogger]

	mu     sync.RWMutex
	labels map[Tselector]bool
)

func init() {
	logger.Store(newLogger().Sugar())
	SetLabels(os.Getenv(envLabels))
}

func newLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// SetLogger replaces the backend logger.
func SetLogger(l *zap.Logger) {
	logger.Store(l.Sugar())
}

// Logger returns the backend logger.
func Logger() *zap.Logger {
	return logger.Load().Desugar()
}

// SetLabels replaces the enabled label set with the semicolon
// separated list s.
func SetLabels(s string) {
	m := make(map[Tselector]bool)
	for _, l := range strings.Split(s, ";") {
		if l = strings.TrimSpace(l); l != "" {
			m[Tselector(l)] = true
		}
	}
	mu.Lock()
	labels = m
	mu.Unlock()
}

// IsLabelSet reports whether messages for label are printed.
func IsLabelSet(label Tselector) bool {
	if label == ALWAYS {
		return true
	}
	mu.RLock()
	defer mu.RUnlock()
	return labels[label]
}

func DPrintf(label Tselector, format string, v ...interface{}) {
	if !IsLabelSet(label) {
		return
	}
	logger.Load().Infow(fmt.Sprintf(format, v...), "label", string(label))
}

// Panic is the value DFatalf panics with.
type Panic struct {
	Where string
	Msg   string
}

func (p *Panic) Error() string {
	return fmt.Sprintf("panic: %v %v", p.Where, p.Msg)
}

// DFatalf reports a kernel invariant violation and halts the calling
// thread by panicking. It never returns.
func DFatalf(format string, v ...interface{}) {
	p := &Panic{Msg: fmt.Sprintf(format, v...)}
	pc, file, line, ok := runtime.Caller(1)
	if fn := runtime.FuncForPC(pc); ok && fn != nil {
		p.Where = fmt.Sprintf("%v %v:%v", fn.Name(), file, line)
	} else {
		p.Where = "(missing details)"
	}
	logger.Load().Errorw("FATAL "+p.Msg, "where", p.Where)
	panic(p)
}
