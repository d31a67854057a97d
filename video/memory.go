package video

import (
	"os"

	psprocess "github.com/shirou/gopsutil/v3/process"
)

// MemorySampler reports the resident memory of the capturing process.
type MemorySampler interface {
	Resident() (uint64, error)
}

type ProcessMemory struct {
	proc *psprocess.Process
}

// NewProcessMemory samples the current process.
func NewProcessMemory() (*ProcessMemory, error) {
	proc, err := psprocess.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ProcessMemory{proc: proc}, nil
}

func (p *ProcessMemory) Resident() (uint64, error) {
	info, err := p.proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
