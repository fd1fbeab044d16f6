// Package platform reports which host the CLI runs on and what that host
// can give a container.
package platform

import (
	"os"
	"runtime"
	"strings"
	"sync"
)

// Platform represents the detected platform
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWSL1    Platform = "wsl1"
	PlatformWSL2    Platform = "wsl2"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

var (
	detectOnce       sync.Once
	detectedPlatform Platform
)

// Detect returns the current platform, caching the result.
func Detect() Platform {
	detectOnce.Do(func() {
		detectedPlatform = detect(runtime.GOOS, os.Getenv("WSL_DISTRO_NAME"), readProcVersion())
	})
	return detectedPlatform
}

func readProcVersion() string {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return ""
	}
	return string(data)
}

// detect classifies a host from its GOOS, the WSL distro variable, and the
// contents of /proc/version.
func detect(goos, wslDistro, procVersion string) Platform {
	switch goos {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
	default:
		return PlatformUnknown
	}

	isWSL := wslDistro != "" ||
		strings.Contains(procVersion, "microsoft") ||
		strings.Contains(procVersion, "Microsoft")
	if !isWSL {
		return PlatformLinux
	}
	// WSL2 kernels report "microsoft-standard"; WSL1 reports "Microsoft".
	if strings.Contains(procVersion, "microsoft-standard") {
		return PlatformWSL2
	}
	if strings.Contains(procVersion, "Microsoft") {
		return PlatformWSL1
	}
	if _, err := os.Stat("/run/WSL"); err == nil {
		return PlatformWSL2
	}
	// Unknown version: assume the more limited one.
	return PlatformWSL1
}

// HasProcfs reports whether procRoot looks like a mounted procfs. The probe
// subcommand cannot tell a missing /proc from an exited shell otherwise.
func HasProcfs(procRoot string) bool {
	info, err := os.Stat(procRoot + "/self")
	return err == nil && info.IsDir()
}

// DockerCaveats returns operator-facing warnings for container settings the
// platform is known to ignore or reject.
func DockerCaveats(p Platform, network, gpus string) []string {
	var warnings []string
	if network == "host" && (p == PlatformMacOS || p == PlatformWindows) {
		warnings = append(warnings, "--net=host is limited on Docker Desktop for "+p.String()+"; container ports are not shared with the host")
	}
	if gpus != "" {
		switch p {
		case PlatformMacOS:
			warnings = append(warnings, "GPU passthrough is not available on macOS; docker run may fail with --gpus="+gpus)
		case PlatformWSL1:
			warnings = append(warnings, "GPU passthrough requires WSL2; docker run may fail with --gpus="+gpus)
		}
	}
	return warnings
}

// String returns a human-readable platform name
func (p Platform) String() string {
	switch p {
	case PlatformMacOS:
		return "macOS"
	case PlatformLinux:
		return "Linux"
	case PlatformWSL1:
		return "WSL1"
	case PlatformWSL2:
		return "WSL2"
	case PlatformWindows:
		return "Windows"
	default:
		return "Unknown"
	}
}
