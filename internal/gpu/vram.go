// SPDX-License-Identifier: MIT

// Package gpu probes the local GPU via nvidia-smi. The probe is best
// effort: a missing binary or a headless host simply reports no GPU,
// and callers fall back to CPU execution.
package gpu

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/vodub/vodub/internal/log"
)

// Info describes the detected GPU, if any.
type Info struct {
	Present   bool   `json:"present"`
	Name      string `json:"name,omitempty"`
	TotalMB   int    `json:"vram_total_mb,omitempty"`
	FreeMB    int    `json:"vram_free_mb,omitempty"`
	UsedMB    int    `json:"vram_used_mb,omitempty"`
	DriverVer string `json:"driver_version,omitempty"`
}

// Prober queries GPU state. The zero value is unusable; use NewProber.
type Prober struct {
	bin     string
	timeout time.Duration
}

// NewProber creates a Prober using the given nvidia-smi binary.
func NewProber(bin string) *Prober {
	if bin == "" {
		bin = "nvidia-smi"
	}
	return &Prober{bin: bin, timeout: 10 * time.Second}
}

// Probe returns the first GPU's state. It never fails hard: any error
// yields Info{Present: false}.
func (p *Prober) Probe(ctx context.Context) Info {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// Argument vector only, no shell.
	cmd := exec.CommandContext(ctx, p.bin,
		"--query-gpu=name,memory.total,memory.free,memory.used,driver_version",
		"--format=csv,noheader,nounits")
	out, err := cmd.Output()
	if err != nil {
		l := log.WithComponent("gpu")
		l.Debug().Err(err).Msg("nvidia-smi probe failed, assuming no GPU")
		return Info{}
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	fields := strings.Split(line, ",")
	if len(fields) < 5 {
		return Info{}
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	total, _ := strconv.Atoi(fields[1])
	free, _ := strconv.Atoi(fields[2])
	used, _ := strconv.Atoi(fields[3])
	return Info{
		Present:   true,
		Name:      fields[0],
		TotalMB:   total,
		FreeMB:    free,
		UsedMB:    used,
		DriverVer: fields[4],
	}
}

// FreeMB reports the free VRAM in MB, or 0 when no GPU is present.
func (p *Prober) FreeMB(ctx context.Context) int {
	return p.Probe(ctx).FreeMB
}
