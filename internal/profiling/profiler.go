// Package profiling captures CPU, heap and execution-trace profiles around a
// single CLI invocation.
package profiling

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"

	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
)

// Options names the profile files to write. Empty paths are skipped.
type Options struct {
	CPU   string
	Heap  string
	Trace string
}

// Enabled reports whether any profile was requested.
func (o Options) Enabled() bool {
	return o.CPU != "" || o.Heap != "" || o.Trace != ""
}

// Session is a running set of profiles.
type Session struct {
	opts      Options
	cpuFile   *os.File
	traceFile *os.File
}

// Start begins the CPU profile and execution trace named in opts. The heap
// profile is written by Stop.
func Start(opts Options) (*Session, error) {
	s := &Session{opts: opts}

	if opts.CPU != "" {
		f, err := create(opts.CPU)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, lserrors.Wrap(lserrors.ErrCodeConfigInvalid, fmt.Errorf("start cpu profile: %w", err))
		}
		s.cpuFile = f
	}

	if opts.Trace != "" {
		f, err := create(opts.Trace)
		if err != nil {
			s.stopCPU()
			return nil, err
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			s.stopCPU()
			return nil, lserrors.Wrap(lserrors.ErrCodeConfigInvalid, fmt.Errorf("start trace: %w", err))
		}
		s.traceFile = f
	}

	slog.Debug("profiling_started",
		slog.String("cpu", opts.CPU),
		slog.String("heap", opts.Heap),
		slog.String("trace", opts.Trace))
	return s, nil
}

// Stop flushes the running profiles and writes the heap snapshot. It is safe
// to call more than once.
func (s *Session) Stop() error {
	if s == nil {
		return nil
	}
	s.stopCPU()
	if s.traceFile != nil {
		trace.Stop()
		_ = s.traceFile.Close()
		s.traceFile = nil
	}
	if s.opts.Heap == "" {
		return nil
	}
	path := s.opts.Heap
	s.opts.Heap = ""
	return WriteHeap(path)
}

func (s *Session) stopCPU() {
	if s.cpuFile == nil {
		return
	}
	pprof.StopCPUProfile()
	_ = s.cpuFile.Close()
	s.cpuFile = nil
}

// WriteHeap writes a heap profile after a forced GC.
func WriteHeap(path string) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return lserrors.Wrap(lserrors.ErrCodeConfigInvalid, fmt.Errorf("write heap profile: %w", err))
	}
	return nil
}

func create(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, lserrors.ConfigError("cannot create profile file "+path, err)
	}
	return f, nil
}
