// disk_usage.go — свободное место в каталоге фрагментов.
// Платформозависимый код для Unix-подобных систем.
package main

import (
	"fmt"
	"syscall"
)

// bytesPerGB — 1 GB = 2^30 байт.
const bytesPerGB = 1 << 30

// availableGB возвращает свободный объём каталога в целых GB (округление вниз).
func availableGB(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("ошибка statfs %s: %w", path, err)
	}

	available := uint64(stat.Bavail) * uint64(stat.Bsize)
	return int64(available / bytesPerGB), nil
}
