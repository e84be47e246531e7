// Package tools runs the external media utilities (yt-dlp, ffmpeg, ffprobe)
// as bounded, cancellable subprocesses and classifies their failures.
package tools

import "time"

// Command describes one subprocess invocation.
type Command struct {
	Tool    string        // short name used in errors and logs
	Path    string        // executable; defaults to Tool
	Op      string        // logical step for error context
	Args    []string
	Timeout time.Duration // hard wall-clock limit; zero means none beyond ctx
}

// Result is the structured outcome of executing a subprocess.
type Result struct {
	ExitCode   int           `json:"exit_code"`
	Stdout     []byte        `json:"-"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}


// Capabilities reports which external tools are installed and their versions.
type Capabilities struct {
	Tools    map[string]ToolInfo `json:"tools"`
	ProbedAt time.Time           `json:"probed_at"`
}

// ToolInfo represents the availability status of a single tool.
type ToolInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CanClip is true when every tool the clip pipeline needs is present.
func (c *Capabilities) CanClip() bool {
	if c == nil {
		return false
	}
	for _, name := range []string{"yt-dlp", "ffmpeg", "ffprobe"} {
		if !c.Tools[name].Available {
			return false
		}
	}
	return true
}
