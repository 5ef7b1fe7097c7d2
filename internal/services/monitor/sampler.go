package monitor

import (
	"context"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Sample is one reading of process and host state shown in a view.
type Sample struct {
	RSSBytes       uint64
	Threads        int32
	CPUPercent     float64
	HostUptime     time.Duration
	MemUsedPercent float64
}

// Sampler takes samples for the monitor view.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// hostSampler samples the current process and host through gopsutil.
type hostSampler struct {
	proc *process.Process
}

// NewHostSampler returns a Sampler for the running process.
func NewHostSampler() Sampler {
	return &hostSampler{proc: &process.Process{Pid: int32(os.Getpid())}}
}

// Sample collects every field it can. Fields that could not be read are left
// zero and their errors are returned together.
func (h *hostSampler) Sample(ctx context.Context) (Sample, error) {
	var s Sample
	var errs *multierror.Error

	if info, err := h.proc.MemoryInfoWithContext(ctx); err != nil {
		errs = multierror.Append(errs, err)
	} else {
		s.RSSBytes = info.RSS
	}

	if n, err := h.proc.NumThreadsWithContext(ctx); err != nil {
		errs = multierror.Append(errs, err)
	} else {
		s.Threads = n
	}

	if pct, err := h.proc.CPUPercentWithContext(ctx); err != nil {
		errs = multierror.Append(errs, err)
	} else {
		s.CPUPercent = pct
	}

	if secs, err := host.UptimeWithContext(ctx); err != nil {
		errs = multierror.Append(errs, err)
	} else {
		s.HostUptime = time.Duration(secs) * time.Second
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = multierror.Append(errs, err)
	} else {
		s.MemUsedPercent = vm.UsedPercent
	}

	return s, errs.ErrorOrNil()
}
