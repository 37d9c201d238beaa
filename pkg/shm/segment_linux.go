//go:build linux

package shm

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ProjectID is the ftok project byte used for the run segment.
const ProjectID = 'A'

// Segment is one attachment of a System V shared-memory segment.
type Segment struct {
	ID   int
	Key  int
	Size int

	mem   []byte
	owner bool

	detachOnce sync.Once
	detachErr  error
	removeOnce sync.Once
	removeErr  error
}

// Key derives an IPC key from path the way ftok(3) does: the low bits of
// the inode, the low byte of the device and the project byte.
func Key(path string, proj byte) (int, error) {
	if path == "" {
		return 0, ErrInvalidTokenPath
	}
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, fmt.Errorf("stat token %s: %w", path, err)
	}
	key := int(uint32(st.Ino&0xffff) | uint32(uint64(st.Dev)&0xff)<<16 | uint32(proj)<<24)
	return key, nil
}

// Create makes a fresh segment keyed by the token path, creating the token
// file if needed, and attaches it. The caller owns the segment and must
// Close it. A segment already registered under the same key is an error.
func Create(tokenPath string) (*Segment, error) {
	if tokenPath == "" {
		return nil, ErrInvalidTokenPath
	}
	f, err := os.OpenFile(tokenPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open token %s: %w", tokenPath, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close token %s: %w", tokenPath, err)
	}

	key, err := Key(tokenPath, ProjectID)
	if err != nil {
		return nil, err
	}

	id, err := unix.SysvShmGet(key, SegmentSize, unix.IPC_CREAT|unix.IPC_EXCL|0o600)
	if err != nil {
		return nil, fmt.Errorf("shmget key %#x: %w", key, err)
	}

	mem, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		_, rmErr := unix.SysvShmCtl(id, unix.IPC_RMID, nil)
		return nil, errors.Join(fmt.Errorf("shmat id %d: %w", id, err), rmErr)
	}

	return &Segment{ID: id, Key: key, Size: len(mem), mem: mem, owner: true}, nil
}

// Attach maps an existing segment by id. Worker processes use it and only
// ever Detach.
func Attach(id int) (*Segment, error) {
	mem, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("shmat id %d: %w", id, err)
	}
	return &Segment{ID: id, Size: len(mem), mem: mem}, nil
}

// Bytes is the mapped region. It is invalid after Detach.
func (s *Segment) Bytes() []byte { return s.mem }

func (s *Segment) Detach() error {
	s.detachOnce.Do(func() {
		if s.mem == nil {
			s.detachErr = ErrSegmentDetached
			return
		}
		if err := unix.SysvShmDetach(s.mem); err != nil {
			s.detachErr = fmt.Errorf("shmdt id %d: %w", s.ID, err)
			return
		}
		s.mem = nil
	})
	return s.detachErr
}

// Remove marks the segment for destruction in the kernel namespace.
func (s *Segment) Remove() error {
	if !s.owner {
		return ErrNotSegmentOwner
	}
	s.removeOnce.Do(func() {
		if _, err := unix.SysvShmCtl(s.ID, unix.IPC_RMID, nil); err != nil {
			s.removeErr = fmt.Errorf("shmctl IPC_RMID id %d: %w", s.ID, err)
		}
	})
	return s.removeErr
}

// Close detaches and, for the owner, removes the segment. Both steps run
// even if the first fails.
func (s *Segment) Close() error {
	err := s.Detach()
	if s.owner {
		err = errors.Join(err, s.Remove())
	}
	return err
}

// Exists reports whether the kernel still knows segment id.
func Exists(id int) bool {
	var desc unix.SysvShmDesc
	_, err := unix.SysvShmCtl(id, unix.IPC_STAT, &desc)
	return err == nil
}
