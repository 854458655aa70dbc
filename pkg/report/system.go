package report

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemInfo describes the host the report was generated on
type SystemInfo struct {
	Hostname     string
	OS           string
	Platform     string
	Architecture string
	CPUModel     string
	CPUCores     int
	TotalMemory  string
}

// GetSystemInfo gathers host information. Fields that cannot be read are
// left empty
func GetSystemInfo() SystemInfo {
	info := SystemInfo{Architecture: runtime.GOARCH, OS: runtime.GOOS}

	if hostInfo, err := host.Info(); err == nil {
		info.Hostname = hostInfo.Hostname
		info.OS = hostInfo.OS
		info.Platform = hostInfo.Platform
		if hostInfo.PlatformVersion != "" {
			info.Platform += " " + hostInfo.PlatformVersion
		}
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}
	info.CPUCores, _ = cpu.Counts(true)

	if vmStat, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = fmt.Sprintf("%.1f GB", float64(vmStat.Total)/(1024*1024*1024))
	}

	return info
}
