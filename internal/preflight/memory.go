package preflight

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MinMemoryBytes is the available memory needed to hold the corpus, the
// vectors and the HNSW graph of a typical meal collection.
const MinMemoryBytes = 512 * 1024 * 1024

// meminfoPath is read for MemAvailable on Linux.
var meminfoPath = "/proc/meminfo"

// CheckMemory checks available system memory. Where it cannot be measured
// the check warns instead of failing.
func (c *Checker) CheckMemory() CheckResult {
	result := CheckResult{Name: "memory", Required: true}

	available, err := readMemAvailable(meminfoPath)
	if err != nil {
		result.Status = StatusWarn
		result.Message = "available memory unknown"
		result.Details = err.Error()
		return result
	}

	result.Message = fmt.Sprintf("%s available (minimum: %s)", formatBytes(available), formatBytes(MinMemoryBytes))
	if available < MinMemoryBytes {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}

// readMemAvailable parses the MemAvailable line of a meminfo file.
func readMemAvailable(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("read meminfo: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "MemAvailable:" {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse MemAvailable %q: %w", fields[1], err)
		}
		return kb * 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read meminfo: %w", err)
	}
	return 0, fmt.Errorf("MemAvailable not found in %s", path)
}
