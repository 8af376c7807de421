// Command offering appends one offering line to the bridge log, the way the
// chat bridge does when a viewer redeems points.
//
//	offering <actor> <favor|wrath> <god> <points> <cost>
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/talgya/pantheon/internal/claims"
	"github.com/talgya/pantheon/internal/config"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 6 {
		fmt.Fprintln(os.Stderr, "usage: offering <actor> <favor|wrath> <god> <points> <cost>")
		os.Exit(2)
	}
	line := strings.Join(os.Args[1:], " ")
	c, ok := claims.Parse(line)
	if !ok {
		slog.Error("not a valid offering", "line", line)
		os.Exit(2)
	}

	logPath := os.Getenv("PANTHEON_LOG")
	if logPath == "" {
		settings, err := config.LoadSettings(envOrDefault("PANTHEON_CONFIG", "data/settings.xml"))
		if err != nil {
			slog.Error("failed to load settings", "error", err)
			os.Exit(1)
		}
		logPath = settings.LogPath
	}

	// The real bridge caps its log; OFFERING_MAX_LINES mimics that.
	maxLines := envIntOrDefault("OFFERING_MAX_LINES", 0)
	if err := appendLine(logPath, line, maxLines); err != nil {
		slog.Error("failed to write offering", "path", logPath, "error", err)
		os.Exit(1)
	}
	slog.Info("offering written",
		"path", logPath,
		"actor", c.Actor,
		"favor", c.Favor,
		"god", c.God,
		"points", c.Points,
		"cost", c.Cost,
	)
}

// appendLine adds line to path. With maxLines > 0 the oldest lines are
// dropped so the file never holds more than maxLines.
func appendLine(path, line string, maxLines int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if maxLines <= 0 {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(f, line); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}

	lines, err := readLines(path)
	if err != nil {
		return err
	}
	lines = append(lines, line)
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
