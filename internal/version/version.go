package version

import "fmt"

// Заполняются через -ldflags "-X github.com/vladislavdragonenkov/market/internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// Version возвращает только номер версии, он же уходит в /healthz.
func Version() string { return version }

// Fields отдаёт версию в виде полей для структурного лога при старте сервиса.
func Fields() map[string]any {
	return map[string]any{
		"version": version,
		"commit":  commit,
		"date":    date,
	}
}

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
