// Package shm provides a small fixed-length, MAP_SHARED memory region
// holding N signed 32-bit integers, visible across process boundaries that
// share the backing file descriptor. This is the cross-process PID array:
// each slot has exactly one writer (its owning worker) and the reader (the
// supervisor's signal handler) tolerates racy reads — a stale PID sent a
// SIGTERM is harmless if the process has already exited (ESRCH).
package shm

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

const int32Size = 4

// PIDArray is a MAP_SHARED region of n int32 slots.
type PIDArray struct {
	fd   int
	n    int
	data []byte
}

// Create allocates a new anonymous shared memory segment (via
// memfd_create) sized for n slots, zeroes it, and maps it MAP_SHARED. The
// returned array's FD can be inherited by re-exec'd child processes
// (os/exec's ExtraFiles) so that Open can map the very same memory there.
func Create(n int) (*PIDArray, error) {
	fd, err := unix.MemfdCreate("buildroot-autobuild-pids", 0)
	if err != nil {
		return nil, xerrors.Errorf("memfd_create: %w", err)
	}
	size := int64(n * int32Size)
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, xerrors.Errorf("ftruncate: %w", err)
	}
	return mapFD(fd, n)
}

// Open maps an existing shared memory segment (inherited from the parent
// process via a well-known file descriptor number) for n slots.
func Open(fd, n int) (*PIDArray, error) {
	return mapFD(fd, n)
}

func mapFD(fd, n int) (*PIDArray, error) {
	size := n * int32Size
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, xerrors.Errorf("mmap: %w", err)
	}
	return &PIDArray{fd: fd, n: n, data: data}, nil
}

// FD returns the underlying file descriptor, for passing to a child
// process via exec.Cmd.ExtraFiles.
func (a *PIDArray) FD() int { return a.fd }

// Set publishes the live PID for slot i (0 once the build has completed).
func (a *PIDArray) Set(i int, pid int) {
	ptr := (*int32)(unsafe.Pointer(&a.data[i*int32Size]))
	atomic.StoreInt32(ptr, int32(pid))
}

// Get returns the most recently published PID for slot i.
func (a *PIDArray) Get(i int) int {
	ptr := (*int32)(unsafe.Pointer(&a.data[i*int32Size]))
	return int(atomic.LoadInt32(ptr))
}

// Len returns the number of slots.
func (a *PIDArray) Len() int { return a.n }

// Close unmaps the region. It does not close the fd: the owner of the
// original Create call is responsible for that once every mapping process
// has exited.
func (a *PIDArray) Close() error {
	return unix.Munmap(a.data)
}

// KillAll sends SIGTERM directly to every non-zero PID currently published,
// tolerating ESRCH (the process has already exited) as success. Direct PID
// signalling — not a process-group signal to the worker — is required
// because the build runs under the external `timeout` helper, which places
// its own child in a new process group.
func (a *PIDArray) KillAll() {
	for i := 0; i < a.n; i++ {
		pid := a.Get(i)
		if pid == 0 {
			continue
		}
		if err := unix.Kill(pid, unix.SIGTERM); err != nil && err != unix.ESRCH {
			// Best-effort: a failure here must never block the rest of
			// shutdown.
			continue
		}
	}
}
