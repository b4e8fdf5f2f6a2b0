//go:build windows

package probe

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/verte-zerg/rolens/internal/model"
)

// NewBackend returns the Toolhelp32/ReadProcessMemory backend.
func NewBackend() Backend {
	return windowsBackend{}
}

type windowsBackend struct{}

func (windowsBackend) ListProcesses(executable string) ([]model.Process, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("process snapshot: %w", err)
	}
	defer func() {
		_ = windows.CloseHandle(snapshot)
	}()

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	procs := []model.Process{}
	for err = windows.Process32First(snapshot, &entry); err == nil; err = windows.Process32Next(snapshot, &entry) {
		name := windows.UTF16ToString(entry.ExeFile[:])
		if strings.EqualFold(name, executable) {
			procs = append(procs, model.Process{PID: entry.ProcessID, Name: name})
		}
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return nil, fmt.Errorf("walk processes: %w", err)
	}
	return procs, nil
}

func (windowsBackend) ModuleBase(pid uint32, module string) (uintptr, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, pid)
	if err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return 0, fmt.Errorf("module snapshot pid %d: %w", pid, ErrProcessOpenDenied)
		}
		return 0, fmt.Errorf("module snapshot pid %d: %w", pid, err)
	}
	defer func() {
		_ = windows.CloseHandle(snapshot)
	}()

	var entry windows.ModuleEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	for err = windows.Module32First(snapshot, &entry); err == nil; err = windows.Module32Next(snapshot, &entry) {
		if strings.EqualFold(windows.UTF16ToString(entry.Module[:]), module) {
			return entry.ModBaseAddr, nil
		}
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return 0, fmt.Errorf("walk modules pid %d: %w", pid, err)
	}
	return 0, fmt.Errorf("%s in pid %d: %w", module, pid, ErrModuleNotFound)
}

func (windowsBackend) Open(pid uint32) (Memory, error) {
	const access = windows.PROCESS_VM_READ | windows.PROCESS_QUERY_LIMITED_INFORMATION
	handle, err := windows.OpenProcess(access, false, pid)
	if err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return nil, ErrProcessOpenDenied
		}
		return nil, err
	}
	return &windowsMemory{handle: handle}, nil
}

type windowsMemory struct {
	handle windows.Handle
}

func (m *windowsMemory) ReadBytes(addr uintptr, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid read length %d", n)
	}
	buf := make([]byte, n)
	var read uintptr
	if err := windows.ReadProcessMemory(m.handle, addr, &buf[0], uintptr(n), &read); err != nil {
		return nil, err
	}
	return buf[:read], nil
}

func (m *windowsMemory) Close() error {
	return windows.CloseHandle(m.handle)
}
