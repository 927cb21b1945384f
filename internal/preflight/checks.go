package preflight

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"ffarm/internal/api"
	"ffarm/internal/config"
)

const gib = 1 << 30

// Requirement names an external binary the worker relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
}

// EncoderRequirements lists the binaries needed by the configured encoder.
// The Drapto library drives ffmpeg and ffprobe itself, so both backends need
// them.
func EncoderRequirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{Name: "FFmpeg", Command: cfg.Worker.FFmpegBinary, Description: "Required for encoding"},
		{Name: "FFprobe", Command: cfg.Worker.FFprobeBinary, Description: "Required for progress tracking"},
	}
}

// CheckBinaries resolves each requirement on PATH.
func CheckBinaries(requirements []Requirement) []Result {
	results := make([]Result, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		if cmd == "" {
			results = append(results, Result{Name: req.Name, Detail: "command not configured"})
			continue
		}
		path, err := exec.LookPath(cmd)
		if err != nil {
			results = append(results, Result{Name: req.Name, Detail: fmt.Sprintf("binary %q not found", cmd)})
			continue
		}
		results = append(results, Result{Name: req.Name, Passed: true, Detail: path})
	}
	return results
}

// CheckDirectoryAccess creates path if needed and verifies it is readable
// and writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "path not configured"}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: create: %v)", path, err)}
	}
	info, err := os.Stat(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies at least minGiB is available to unprivileged users
// on the filesystem holding path.
func CheckFreeSpace(name, path string, minGiB int) Result {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := st.Bavail * uint64(st.Bsize)
	detail := fmt.Sprintf("%s free", humanize.IBytes(free))
	if minGiB > 0 && free < uint64(minGiB)*gib {
		return Result{Name: name, Detail: fmt.Sprintf("%s, need %d GiB", detail, minGiB)}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckMaster verifies the master answers its health endpoint.
func CheckMaster(ctx context.Context, client *api.Client) Result {
	const name = "Master"
	if err := client.Health(ctx); err != nil {
		if api.IsUnavailable(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s unreachable", client.BaseURL())}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s unhealthy (%v)", client.BaseURL(), err)}
	}
	return Result{Name: name, Passed: true, Detail: client.BaseURL()}
}
