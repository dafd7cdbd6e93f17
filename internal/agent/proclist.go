package agent

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// SystemLister enumerates processes on the host.
type SystemLister struct{}

// Processes returns the current inventory. Processes that disappear or
// deny access mid-scan are skipped.
func (SystemLister) Processes(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}

	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		info := ProcessInfo{PID: int(p.Pid)}
		if name, err := p.NameWithContext(ctx); err == nil {
			info.Name = name
		}
		if exe, err := p.ExeWithContext(ctx); err == nil {
			info.Exe = exe
		}
		if cmd, err := p.CmdlineWithContext(ctx); err == nil {
			info.Cmdline = cmd
		}
		if info.Name == "" && info.Exe == "" && info.Cmdline == "" {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}
