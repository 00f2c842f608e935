package memproc

import (
	"github.com/shirou/gopsutil/v3/disk"
)

const defaultMinFreeDiskPercent = 10

// Version is the memproc release version.
const Version = "0.2.0"

// HasSufficientDiskSpace checks free space on the filesystem holding dir
// before a download run; memories exports easily reach tens of gigabytes.
// A minPercent of zero falls back to the default threshold.
func HasSufficientDiskSpace(dir string, minPercent int) (bool, error) {
	if minPercent <= 0 {
		minPercent = defaultMinFreeDiskPercent
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		return false, err
	}
	freePercent := usage.Free * 100 / usage.Total
	return freePercent >= uint64(minPercent), nil
}
