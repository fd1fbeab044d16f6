package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectCached(t *testing.T) {
	p := Detect()
	assert.NotEmpty(t, p)
	assert.Equal(t, p, Detect())
}

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		goos        string
		wslDistro   string
		procVersion string
		want        Platform
	}{
		{"darwin", "darwin", "", "", PlatformMacOS},
		{"windows", "windows", "", "", PlatformWindows},
		{"freebsd", "freebsd", "", "", PlatformUnknown},
		{"native linux", "linux", "", "Linux version 6.8.0-45-generic (buildd@lcy02)", PlatformLinux},
		{"wsl2 kernel", "linux", "Ubuntu", "Linux version 5.15.153.1-microsoft-standard-WSL2", PlatformWSL2},
		{"wsl1 kernel", "linux", "", "Linux version 4.4.0-19041-Microsoft", PlatformWSL1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, detect(tt.goos, tt.wslDistro, tt.procVersion))
		})
	}
}

func TestPlatformString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		platform Platform
		expected string
	}{
		{PlatformMacOS, "macOS"},
		{PlatformLinux, "Linux"},
		{PlatformWSL1, "WSL1"},
		{PlatformWSL2, "WSL2"},
		{PlatformWindows, "Windows"},
		{PlatformUnknown, "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.platform.String())
	}
}

func TestHasProcfs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	assert.False(t, HasProcfs(root))
	assert.False(t, HasProcfs(filepath.Join(root, "missing")))

	assert.NoError(t, os.Mkdir(filepath.Join(root, "self"), 0o755))
	assert.True(t, HasProcfs(root))
}

func TestDockerCaveats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		platform Platform
		network  string
		gpus     string
		want     int
	}{
		{"linux host all", PlatformLinux, "host", "all", 0},
		{"wsl2 gpus", PlatformWSL2, "host", "all", 0},
		{"macos host gpus", PlatformMacOS, "host", "all", 2},
		{"macos bridge no gpus", PlatformMacOS, "bridge", "", 0},
		{"wsl1 gpus", PlatformWSL1, "bridge", "all", 1},
		{"windows host", PlatformWindows, "host", "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Len(t, DockerCaveats(tt.platform, tt.network, tt.gpus), tt.want)
		})
	}
}
