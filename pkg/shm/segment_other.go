//go:build !linux

package shm

const ProjectID = 'A'

type Segment struct {
	ID   int
	Key  int
	Size int
}

func Key(string, byte) (int, error) { return 0, ErrUnsupported }
func Create(string) (*Segment, error) { return nil, ErrUnsupported }
func Attach(int) (*Segment, error) { return nil, ErrUnsupported }
func (s *Segment) Bytes() []byte { return nil }
func (s *Segment) Detach() error { return ErrUnsupported }
func (s *Segment) Remove() error { return ErrUnsupported }
func (s *Segment) Close() error { return ErrUnsupported }
func Exists(int) bool { return false }
