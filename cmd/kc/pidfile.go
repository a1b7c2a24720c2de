package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// pidFile records the daemon's process ID in the data directory.
type pidFile string

func pidFileIn(dataDir string) pidFile {
	return pidFile(filepath.Join(dataDir, "kc.pid"))
}

func (p pidFile) write() error {
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(string(p), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func (p pidFile) read() (int, error) {
	raw, err := os.ReadFile(string(p))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pid file %s", p)
	}
	return pid, nil
}

func (p pidFile) remove() {
	if err := os.Remove(string(p)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		printWarning("removing %s: %v", p, err)
	}
}

// signal sends sig to the recorded process. A stale file whose process is
// gone is removed.
func (p pidFile) signal(sig syscall.Signal) (int, error) {
	pid, err := p.read()
	if err != nil {
		return 0, err
	}
	proc, err := os.FindProcess(pid)
	if err == nil {
		err = proc.Signal(sig)
	}
	if errors.Is(err, os.ErrProcessDone) {
		p.remove()
	}
	return pid, err
}
