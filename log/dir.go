package log

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "shadowmaster"

// getDefaultDir is the per-OS log location: ~/Library/Logs on macOS,
// %LOCALAPPDATA% on Windows and the XDG config dir elsewhere.
func getDefaultDir() (string, error) {
	return defaultDirFor(runtime.GOOS, os.Getenv, os.UserHomeDir)
}

func defaultDirFor(goos string, getenv func(string) string, home func() (string, error)) (string, error) {
	if goos == "windows" {
		if v := getenv("LOCALAPPDATA"); v != "" {
			return filepath.Join(v, appName, "logs"), nil
		}
	}
	h, err := home()
	if err != nil {
		return "", err
	}
	switch goos {
	case "darwin":
		return filepath.Join(h, "Library", "Logs", appName), nil
	case "windows":
		return filepath.Join(h, "AppData", "Local", appName, "logs"), nil
	}
	base := getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(h, ".config")
	}
	return filepath.Join(base, appName, "logs"), nil
}
