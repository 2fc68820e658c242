package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dop251/goja"
	esbuild "github.com/evanw/esbuild/pkg/api"
)

// ErrScriptTimeout is returned when a script runs past the configured limit.
var ErrScriptTimeout = errors.New("script timeout")

// scriptEnv is a JavaScript runtime for one document or one executed script.
// A runtime is not safe for concurrent use; Content only touches it from its
// own goroutine.
type scriptEnv struct {
	vm      *goja.Runtime
	timeout time.Duration
	logger  *slog.Logger
}

func newScriptEnv(page, title string, timeout time.Duration, logger *slog.Logger) *scriptEnv {
	env := &scriptEnv{
		vm:      goja.New(),
		timeout: timeout,
		logger:  logger.With("page", page),
	}

	console := env.vm.NewObject()
	_ = console.Set("log", env.console(slog.LevelInfo))
	_ = console.Set("info", env.console(slog.LevelInfo))
	_ = console.Set("debug", env.console(slog.LevelDebug))
	_ = console.Set("warn", env.console(slog.LevelWarn))
	_ = console.Set("error", env.console(slog.LevelError))
	_ = env.vm.Set("console", console)

	document := env.vm.NewObject()
	_ = document.Set("URL", page)
	_ = document.Set("title", title)
	_ = env.vm.Set("document", document)

	return env
}

func (e *scriptEnv) console(level slog.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		e.logger.Log(context.Background(), level, "console", "message", strings.Join(parts, " "))
		return goja.Undefined()
	}
}

// lower rewrites src into the ES2015 syntax goja runs. Source esbuild cannot
// parse is returned unchanged so that goja reports the syntax error.
func lower(src string) string {
	res := esbuild.Transform(src, esbuild.TransformOptions{
		Loader: esbuild.LoaderJS,
		Target: esbuild.ES2015,
	})
	if len(res.Errors) > 0 {
		return src
	}
	return string(res.Code)
}

// run evaluates src, interrupting it once the timeout elapses.
func (e *scriptEnv) run(name, src string) error {
	src = lower(src)

	var timer *time.Timer
	fired := make(chan struct{})
	if e.timeout > 0 {
		timer = time.AfterFunc(e.timeout, func() {
			e.vm.Interrupt(ErrScriptTimeout)
			close(fired)
		})
	}

	_, err := e.vm.RunScript(name, src)
	// A timer that already fired must finish its Interrupt before the clear,
	// or the next script starts interrupted.
	if timer != nil && !timer.Stop() {
		<-fired
	}
	e.vm.ClearInterrupt()
	if err == nil {
		return nil
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("run %s: %w", name, ErrScriptTimeout)
	}
	return fmt.Errorf("run %s: %w", name, err)
}
