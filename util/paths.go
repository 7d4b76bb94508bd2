package util

import (
	"os"
	"path/filepath"
)

// DataDirEnv names the environment variable that overrides the data directory
const DataDirEnv = "BLETERA_DIR"

// GetDataDir returns the data directory path
func GetDataDir() string {
	if envDir := os.Getenv(DataDirEnv); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".bletera-data")
}

// GetDeviceDir returns the per-device directory (advertising data, GAP journal).
// The directory is created if missing.
func GetDeviceDir(deviceID string) string {
	dir := filepath.Join(GetDataDir(), deviceID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		panic(err)
	}
	return dir
}

// GetSocketDir returns the directory where Unix domain sockets are stored
func GetSocketDir() string {
	socketDir := filepath.Join(GetDataDir(), "sockets")
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		panic(err)
	}
	return socketDir
}
