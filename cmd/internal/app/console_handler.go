package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"docrelay/cmd/internal/auth/session"
)

// consoleHandler writes one line per record for local development:
//
//	15:04:05.000 INF session.signin.ok kind=interactive email=ada@example.com (service.go:312)
//
// Attributes docrelay logs often (session status, failure reason, action,
// context ids, elapsed times) get their own rendering; everything else is
// printed as key=value with quoting where needed.
type consoleHandler struct {
	w      io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	source bool
	color  bool

	prefix string // dotted group path, with trailing dot
	pre    string // rendered WithAttrs output
}

func newConsoleHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &consoleHandler{w: w, mu: &sync.Mutex{}, level: slog.LevelInfo, color: color}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.source = opts.AddSource
	}
	return h
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	b.WriteString(paint(ts.Format("15:04:05.000"), ansiDim, h.color))
	b.WriteByte(' ')
	b.WriteString(levelLabel(r.Level, h.color))
	b.WriteByte(' ')
	b.WriteString(paint(r.Message, ansiBright, h.color))
	b.WriteString(h.pre)

	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&b, h.prefix, a)
		return true
	})

	if h.source && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			loc := fmt.Sprintf("(%s:%d)", filepath.Base(frame.File), frame.Line)
			b.WriteByte(' ')
			b.WriteString(paint(loc, ansiDim, h.color))
		}
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.pre)
	for _, a := range attrs {
		h.writeAttr(&b, h.prefix, a)
	}
	cp := *h
	cp.pre = b.String()
	return &cp
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *consoleHandler) writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	if key == "" || a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.writeAttr(b, prefix+key+".", ga)
		}
		return
	}

	label, render := key, renderPlain
	if r, ok := consoleRenderers[key]; ok {
		label, render = r.label, r.render
	}

	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(label)
	b.WriteByte('=')
	b.WriteString(render(a.Value, h.color))
}

type consoleRenderer struct {
	label  string
	render func(v slog.Value, color bool) string
}

// consoleRenderers is keyed by the attribute name as logged.
var consoleRenderers = map[string]consoleRenderer{
	"status":       {"status", renderStatus},
	"from":         {"from", renderStatus},
	"to":           {"to", renderStatus},
	"reason":       {"reason", renderReason},
	"err":          {"err", renderErr},
	"action":       {"action", renderTinted(ansiCyan)},
	"kind":         {"kind", renderTinted(ansiMagenta)},
	"context_id":   {"ctx", renderTinted(ansiDim)},
	"request_id":   {"req", renderTinted(ansiDim)},
	"document_id":  {"doc", renderTinted(ansiCyan)},
	"elapsed_ms":   {"elapsed", renderMillis},
	"duration_ms":  {"duration", renderMillis},
	"method":       {"method", renderMethod},
	"path":         {"path", renderTinted(ansiCyan)},
	"status_class": {"class", renderStatusClass},
	"result":       {"result", renderResult},
}

func renderPlain(v slog.Value, _ bool) string {
	return quoteIfNeeded(valueToString(v))
}

func renderTinted(code string) func(slog.Value, bool) string {
	return func(v slog.Value, color bool) string {
		return paint(quoteIfNeeded(valueToString(v)), code, color)
	}
}

// renderStatus covers both HTTP status codes and session statuses.
func renderStatus(v slog.Value, color bool) string {
	if n, ok := valueToInt64(v); ok {
		return paint(strconv.FormatInt(n, 10), httpStatusColor(int(n)), color)
	}
	s := valueToString(v)
	switch session.Status(s) {
	case session.StatusSignedIn:
		return paint(s, ansiGreen, color)
	case session.StatusAuthenticating:
		return paint(s, ansiYellow, color)
	case session.StatusSignedOut:
		return paint(s, ansiDim, color)
	}
	return quoteIfNeeded(s)
}

// renderReason paints the failure reasons carried in relay responses.
func renderReason(v slog.Value, color bool) string {
	s := valueToString(v)
	switch s {
	case "":
		return `""`
	case "InternalError":
		return paint(s, ansiRed, color)
	default:
		return paint(quoteIfNeeded(s), ansiYellow, color)
	}
}

func renderErr(v slog.Value, color bool) string {
	return paint(quoteIfNeeded(valueToString(v)), ansiRed, color)
}

func renderMillis(v slog.Value, color bool) string {
	ms, ok := valueToInt64(v)
	if !ok {
		return renderPlain(v, color)
	}
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return paint(s, ansiRed, color)
	case ms >= 250:
		return paint(s, ansiYellow, color)
	default:
		return paint(s, ansiDim, color)
	}
}

func renderMethod(v slog.Value, color bool) string {
	m := strings.ToUpper(strings.TrimSpace(valueToString(v)))
	switch m {
	case "GET", "HEAD":
		return paint(m, ansiGreen, color)
	case "POST", "PUT", "PATCH":
		return paint(m, ansiYellow, color)
	case "DELETE":
		return paint(m, ansiRed, color)
	default:
		return paint(m, ansiMagenta, color)
	}
}

func renderStatusClass(v slog.Value, color bool) string {
	class := strings.TrimSpace(valueToString(v))
	if class == "" {
		return `""`
	}
	return paint(class, httpStatusColor(int(class[0]-'0')*100), color)
}

func renderResult(v slog.Value, color bool) string {
	s := strings.ToLower(strings.TrimSpace(valueToString(v)))
	switch s {
	case "success", "ok", "started":
		return paint(s, ansiGreen, color)
	case "client_error", "redirect":
		return paint(s, ansiYellow, color)
	case "server_error":
		return paint(s, ansiRed, color)
	}
	return quoteIfNeeded(s)
}

func httpStatusColor(code int) string {
	switch {
	case code >= 500:
		return ansiRed
	case code >= 400:
		return ansiYellow
	case code >= 300:
		return ansiCyan
	default:
		return ansiGreen
	}
}

func levelLabel(level slog.Level, color bool) string {
	switch {
	case level >= slog.LevelError:
		return paint("ERR", ansiRed, color)
	case level >= slog.LevelWarn:
		return paint("WRN", ansiYellow, color)
	case level >= slog.LevelInfo:
		return paint("INF", ansiBlue, color)
	default:
		return paint("DBG", ansiMagenta, color)
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		// Int64, Uint64, Float64, Bool and Duration stringify as slog does.
		return v.String()
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	default:
		return 0, false
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

func paint(s, code string, color bool) string {
	if !color || code == "" {
		return s
	}
	return code + s + ansiReset
}

// stripANSI removes SGR escape sequences.
func stripANSI(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && s[j] != 'm' {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
