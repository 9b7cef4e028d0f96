package logx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

const (
	chatLineMax  = 3500
	chatValueMax = 600
)

// chatWriter is the zerolog sink for the chat. MultiLevelWriter calls
// WriteLevel; Write only serves plain io.Writer callers.
type chatWriter struct{ svc *Service }

func (w chatWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w chatWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	w.svc.offer(level, p)
	return len(p), nil
}

// formatChatLine turns a JSON log line into "[LEVEL] message" followed by
// one "- key=value" line per field, keys sorted. Non-JSON input is sent
// trimmed.
func formatChatLine(p []byte) string {
	p = bytes.TrimSpace(p)
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(string(p), chatLineMax)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
		default:
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(m[k]), chatValueMax))
	}
	return truncate(b.String(), chatLineMax)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
