package config

import "golang.org/x/sys/unix"

// TotalRAMBytes reports total system RAM, used to derive the --cache_size
// default of RAM/10 (spec.md section 6). Falls back to a conservative 4GiB
// guess if the kernel call fails, rather than failing the whole run over a
// knob that only bounds memory pressure.
func TotalRAMBytes() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 4 << 30
	}
	return uint64(info.Totalram) * uint64(info.Unit)
}
