//go:build linux

package probe

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/verte-zerg/rolens/internal/model"
)

// NewBackend returns the procfs/process_vm_readv backend, used when the client runs under Wine.
func NewBackend() Backend {
	return linuxBackend{}
}

type linuxBackend struct{}

func (linuxBackend) ListProcesses(executable string) ([]model.Process, error) {
	procs, err := procfs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("read process table: %w", err)
	}
	out := []model.Process{}
	for _, p := range procs {
		name, ok := matchProcess(p, executable)
		if !ok {
			continue
		}
		out = append(out, model.Process{PID: uint32(p.PID), Name: name})
	}
	return out, nil
}

// matchProcess checks comm first, then the first argv element, which under Wine is the Windows path.
func matchProcess(p procfs.Proc, executable string) (string, bool) {
	if comm, err := p.Comm(); err == nil && strings.EqualFold(comm, executable) {
		return comm, true
	}
	args, err := p.CmdLine()
	if err != nil || len(args) == 0 {
		return "", false
	}
	name := baseName(args[0])
	if strings.EqualFold(name, executable) {
		return name, true
	}
	return "", false
}

func (linuxBackend) ModuleBase(pid uint32, module string) (uintptr, error) {
	maps, err := procMaps(pid)
	if err != nil {
		return 0, err
	}
	return findModule(maps, module, pid)
}

func findModule(maps []*procfs.ProcMap, module string, pid uint32) (uintptr, error) {
	var base uintptr
	for _, m := range maps {
		if m.Pathname == "" || !strings.EqualFold(baseName(m.Pathname), module) {
			continue
		}
		if base == 0 || m.StartAddr < base {
			base = m.StartAddr
		}
	}
	if base == 0 {
		return 0, fmt.Errorf("%s in pid %d: %w", module, pid, ErrModuleNotFound)
	}
	return base, nil
}

func (linuxBackend) Open(pid uint32) (Memory, error) {
	// Reading maps needs the same ptrace access as process_vm_readv, so it doubles as the open check.
	if _, err := procMaps(pid); err != nil {
		return nil, err
	}
	return &linuxMemory{pid: int(pid)}, nil
}

func procMaps(pid uint32) ([]*procfs.ProcMap, error) {
	proc, err := procfs.NewProc(int(pid))
	if err != nil {
		return nil, fmt.Errorf("pid %d: %w", pid, err)
	}
	maps, err := proc.ProcMaps()
	if err != nil {
		if isPermission(err) {
			return nil, ErrProcessOpenDenied
		}
		return nil, fmt.Errorf("read maps pid %d: %w", pid, err)
	}
	return maps, nil
}

type linuxMemory struct {
	pid int
}

func (m *linuxMemory) ReadBytes(addr uintptr, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid read length %d", n)
	}
	buf := make([]byte, n)
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(n)
	remote := []unix.RemoteIovec{{Base: addr, Len: n}}
	read, err := unix.ProcessVMReadv(m.pid, local, remote, 0)
	if err != nil {
		if isPermission(err) {
			return nil, ErrProcessOpenDenied
		}
		return nil, err
	}
	return buf[:read], nil
}

func (m *linuxMemory) Close() error {
	return nil
}

func isPermission(err error) bool {
	return errors.Is(err, os.ErrPermission) || errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES)
}
