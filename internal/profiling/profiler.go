// Package profiling writes pprof CPU, heap and allocation profiles and
// execution traces for a CLI run.
package profiling

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Options selects the profiles to write. Empty paths are skipped.
type Options struct {
	CPU    string
	Heap   string
	Allocs string
	Trace  string
}

// Enabled reports whether any profile is requested.
func (o Options) Enabled() bool {
	return o.CPU != "" || o.Heap != "" || o.Allocs != "" || o.Trace != ""
}

// Profiler manages the profiles of one run.
type Profiler struct {
	cpuFile   *os.File
	traceFile *os.File
}

// NewProfiler creates a Profiler.
func NewProfiler() *Profiler {
	return &Profiler{}
}

// Start begins the continuous profiles in opts. The returned stop function
// ends them and writes the snapshot profiles; it is safe to call once.
func Start(opts Options) (stop func() error, err error) {
	p := NewProfiler()
	var cleanups []func()

	if opts.CPU != "" {
		c, err := p.StartCPU(opts.CPU)
		if err != nil {
			return nil, err
		}
		cleanups = append(cleanups, c)
	}
	if opts.Trace != "" {
		c, err := p.StartTrace(opts.Trace)
		if err != nil {
			for _, c := range cleanups {
				c()
			}
			return nil, err
		}
		cleanups = append(cleanups, c)
	}

	return func() error {
		for _, c := range cleanups {
			c()
		}
		var errs []error
		if opts.Heap != "" {
			errs = append(errs, p.WriteHeap(opts.Heap))
		}
		if opts.Allocs != "" {
			errs = append(errs, p.WriteAllocs(opts.Allocs))
		}
		return errors.Join(errs...)
	}, nil
}

// StartCPU starts CPU profiling to path. The cleanup stops and flushes it.
func (p *Profiler) StartCPU(path string) (cleanup func(), err error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
	}

	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to start CPU profile: %w", err)
	}
	p.cpuFile = f

	return func() {
		pprof.StopCPUProfile()
		_ = p.cpuFile.Close()
		p.cpuFile = nil
	}, nil
}

// StartTrace starts execution tracing to path. The cleanup stops it.
func (p *Profiler) StartTrace(path string) (cleanup func(), err error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}

	if err := trace.Start(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to start trace: %w", err)
	}
	p.traceFile = f

	return func() {
		trace.Stop()
		_ = p.traceFile.Close()
		p.traceFile = nil
	}, nil
}

// WriteHeap writes a heap snapshot after a GC.
func (p *Profiler) WriteHeap(path string) error {
	runtime.GC()
	return writeLookup("heap", path, 0)
}

// WriteAllocs writes every allocation since start, not just live objects.
func (p *Profiler) WriteAllocs(path string) error {
	runtime.GC()
	return writeLookup("allocs", path, 0)
}

func writeLookup(name, path string, debug int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s profile file: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	if err := pprof.Lookup(name).WriteTo(f, debug); err != nil {
		return fmt.Errorf("failed to write %s profile: %w", name, err)
	}
	return nil
}
