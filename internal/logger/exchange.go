package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	exchangeMu  sync.Mutex
	exchangeLog *log.Logger
)

// SetExchangeWriter 设置外部策略子进程 stdin/stdout 的转储目标；nil 关闭转储。
func SetExchangeWriter(w io.Writer) {
	exchangeMu.Lock()
	defer exchangeMu.Unlock()
	if w == nil {
		exchangeLog = nil
		return
	}
	exchangeLog = log.New(w, "", log.LstdFlags)
}

// ExchangeDumpEnabled reports whether LogExchange writes anything.
func ExchangeDumpEnabled() bool {
	exchangeMu.Lock()
	defer exchangeMu.Unlock()
	return exchangeLog != nil
}

// LogExchange writes one request/response pair as titled sections.
func LogExchange(tags []string, request, response string) {
	exchangeMu.Lock()
	out := exchangeLog
	exchangeMu.Unlock()
	if out == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[EXIT]")
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			b.WriteString("[")
			b.WriteString(tag)
			b.WriteString("]")
		}
	}
	b.WriteString("\n")
	writeSection(&b, "REQUEST", request)
	writeSection(&b, "RESPONSE", response)
	b.WriteString("=====\n")
	out.Print(b.String())
}

func writeSection(b *strings.Builder, title, body string) {
	b.WriteString("--- ")
	b.WriteString(title)
	b.WriteString(" ---\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
}
