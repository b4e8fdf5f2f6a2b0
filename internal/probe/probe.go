// Package probe reads live character state out of a running game client.
package probe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/verte-zerg/rolens/internal/model"
)

// DefaultExecutable is the client executable and module name.
const DefaultExecutable = "Ragexe.exe"

var (
	// ErrProcessOpenDenied means the process could not be opened for reading,
	// usually because the tool is not running with elevated privileges.
	ErrProcessOpenDenied = errors.New("process open denied (try running as administrator)")
	// ErrModuleNotFound means the module is not loaded in the target process.
	ErrModuleNotFound = errors.New("module not found")
	// ErrReadFailed is matched by every *ReadError.
	ErrReadFailed = errors.New("memory read failed")
	// ErrUnsupportedPlatform is returned by the backend on platforms without a reader.
	ErrUnsupportedPlatform = errors.New("memory probing is not supported on this platform")
)

// ReadError reports the field whose read failed.
type ReadError struct {
	Field  string
	Offset uintptr
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s at +%#x: %v", e.Field, e.Offset, e.Err)
}

// Unwrap exposes the underlying OS error.
func (e *ReadError) Unwrap() error {
	return e.Err
}

// Is makes every ReadError match ErrReadFailed.
func (e *ReadError) Is(target error) bool {
	return target == ErrReadFailed
}

// Backend is the platform-specific capability the Probe is built on.
type Backend interface {
	// ListProcesses returns processes whose executable matches name, case-insensitively.
	ListProcesses(executable string) ([]model.Process, error)
	// ModuleBase returns the load address of the first module matching name, case-insensitively.
	ModuleBase(pid uint32, module string) (uintptr, error)
	// Open acquires read access to the process memory.
	Open(pid uint32) (Memory, error)
}

// Memory is an open read handle on a process. Callers must Close it.
type Memory interface {
	ReadBytes(addr uintptr, n int) ([]byte, error)
	Close() error
}

// Probe reads Snapshots using a fixed memory layout.
// It holds no mutable state; calls for the same pid may be issued back to back.
type Probe struct {
	backend    Backend
	executable string
	module     string
	layout     Layout
}

// Option customizes a Probe.
type Option func(*Probe)

// WithExecutable sets the executable name used for process discovery.
func WithExecutable(name string) Option {
	return func(p *Probe) {
		if name != "" {
			p.executable = name
		}
	}
}

// WithModule sets the module whose base address anchors the layout offsets.
func WithModule(name string) Option {
	return func(p *Probe) {
		if name != "" {
			p.module = name
		}
	}
}

// WithLayout overrides the offset table.
func WithLayout(layout Layout) Option {
	return func(p *Probe) {
		p.layout = layout
	}
}

// New returns a Probe over the given backend.
func New(backend Backend, opts ...Option) *Probe {
	p := &Probe{
		backend:    backend,
		executable: DefaultExecutable,
		module:     DefaultExecutable,
		layout:     DefaultLayout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ListProcesses returns candidate client processes. No match is an empty slice, not an error.
func (p *Probe) ListProcesses() ([]model.Process, error) {
	procs, err := p.backend.ListProcesses(p.executable)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	if procs == nil {
		procs = []model.Process{}
	}
	return procs, nil
}

// ResolveModuleBase returns the base address of the configured module inside pid.
func (p *Probe) ResolveModuleBase(pid uint32) (uintptr, error) {
	base, err := p.backend.ModuleBase(pid, p.module)
	if err != nil {
		return 0, err
	}
	if base == 0 {
		return 0, fmt.Errorf("%s in pid %d: %w", p.module, pid, ErrModuleNotFound)
	}
	return base, nil
}

// ReadSnapshot performs one full read of every tracked field.
// It returns either a complete Snapshot or an error; a partial read never yields a Snapshot.
func (p *Probe) ReadSnapshot(pid uint32) (model.Snapshot, error) {
	mem, err := p.backend.Open(pid)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("open pid %d: %w", pid, err)
	}
	defer func() {
		if cerr := mem.Close(); cerr != nil {
			// Best-effort handle close.
			_ = cerr
		}
	}()

	base, err := p.ResolveModuleBase(pid)
	if err != nil {
		return model.Snapshot{}, err
	}

	r := fieldReader{mem: mem, base: base}
	snap := model.Snapshot{
		BaseXP:     r.u32("baseXP", p.layout.BaseXP),
		JobXP:      r.u32("jobXP", p.layout.JobXP),
		HP:         r.u32("hp", p.layout.HP),
		SP:         r.u32("sp", p.layout.SP),
		BaseLevel:  r.u8("baseLevel", p.layout.BaseLevel),
		JobLevel:   r.u8("jobLevel", p.layout.JobLevel),
		HPMax:      r.u32("hpMax", p.layout.HPMax),
		SPMax:      r.u32("spMax", p.layout.SPMax),
		Name:       r.text("name", p.layout.Name, p.layout.NameLen),
		ModuleBase: base,
	}
	if r.err != nil {
		return model.Snapshot{}, r.err
	}
	return snap, nil
}

// fieldReader stops at the first failed read and remembers it.
type fieldReader struct {
	mem  Memory
	base uintptr
	err  error
}

func (r *fieldReader) read(field string, offset uintptr, n int) []byte {
	if r.err != nil {
		return nil
	}
	buf, err := r.mem.ReadBytes(r.base+offset, n)
	if err == nil && len(buf) != n {
		err = fmt.Errorf("short read: got %d of %d bytes", len(buf), n)
	}
	if err != nil {
		r.err = &ReadError{Field: field, Offset: offset, Err: err}
		return nil
	}
	return buf
}

func (r *fieldReader) u32(field string, offset uintptr) uint32 {
	buf := r.read(field, offset, 4)
	if buf == nil {
		return 0
	}
	// Stored as little-endian int32; negative values are reinterpreted, not clamped.
	return uint32(int32(binary.LittleEndian.Uint32(buf)))
}

func (r *fieldReader) u8(field string, offset uintptr) uint8 {
	buf := r.read(field, offset, 1)
	if buf == nil {
		return 0
	}
	return buf[0]
}

func (r *fieldReader) text(field string, offset uintptr, n int) string {
	buf := r.read(field, offset, n)
	if buf == nil {
		return ""
	}
	return decodeName(buf)
}

func decodeName(buf []byte) string {
	if i := indexNUL(buf); i >= 0 {
		buf = buf[:i]
	}
	s := string(buf)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return s
}

func indexNUL(buf []byte) int {
	for i, b := range buf {
		if b == 0 {
			return i
		}
	}
	return -1
}

// baseName returns the final path element of a Windows or POSIX path.
func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
