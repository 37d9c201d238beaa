//go:build linux

package shm

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/qcserestipy/gopi/pkg/accumulator"
)

func createTestSegment(t *testing.T) *Segment {
	t.Helper()
	seg, err := Create(filepath.Join(t.TempDir(), "token"))
	if err != nil {
		t.Skipf("System V shared memory unavailable: %v", err)
	}
	return seg
}

func TestKey_StableForSamePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	seg, err := Create(path)
	if err != nil {
		t.Skipf("System V shared memory unavailable: %v", err)
	}
	defer seg.Close()

	k1, err := Key(path, ProjectID)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if k1 != seg.Key {
		t.Errorf("expected key %#x, got %#x", seg.Key, k1)
	}
	if k1>>24 != ProjectID {
		t.Errorf("expected project byte %#x in key %#x", ProjectID, k1)
	}
	k2, _ := Key(path, 'B')
	if k1 == k2 {
		t.Error("expected project byte to change the key")
	}
}

func TestKey_MissingPath(t *testing.T) {
	if _, err := Key(filepath.Join(t.TempDir(), "absent"), ProjectID); err == nil {
		t.Error("expected error for missing token file")
	}
	if _, err := Key("", ProjectID); !errors.Is(err, ErrInvalidTokenPath) {
		t.Errorf("expected ErrInvalidTokenPath, got %v", err)
	}
}

func TestCreate_RejectsDuplicateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	seg, err := Create(path)
	if err != nil {
		t.Skipf("System V shared memory unavailable: %v", err)
	}
	defer seg.Close()

	if dup, err := Create(path); err == nil {
		dup.Close()
		t.Fatal("expected second Create on the same token to fail")
	}
}

func TestSegment_AttachSharesAccumulator(t *testing.T) {
	seg := createTestSegment(t)
	defer seg.Close()

	if seg.Size < SegmentSize {
		t.Fatalf("expected at least %d bytes, got %d", SegmentSize, seg.Size)
	}
	owner, err := NewAccumulator(seg.Bytes())
	if err != nil {
		t.Fatalf("overlay: %v", err)
	}
	if err := owner.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	peer, err := Attach(seg.ID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	view, err := NewAccumulator(peer.Bytes())
	if err != nil {
		t.Fatalf("overlay peer: %v", err)
	}
	if err := accumulator.Deposit(view, 0.75); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := peer.Detach(); err != nil {
		t.Fatalf("peer detach: %v", err)
	}
	if err := peer.Remove(); !errors.Is(err, ErrNotSegmentOwner) {
		t.Errorf("expected ErrNotSegmentOwner, got %v", err)
	}

	if got := owner.Value(); got != 0.75 {
		t.Errorf("expected 0.75, got %v", got)
	}
}

func TestSegment_CloseRemovesOnce(t *testing.T) {
	seg := createTestSegment(t)
	id := seg.ID

	if !Exists(id) {
		t.Fatalf("expected segment %d to exist", id)
	}
	if err := seg.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if Exists(id) {
		t.Errorf("expected segment %d to be removed", id)
	}
	if err := seg.Close(); err != nil {
		t.Errorf("expected repeated Close to report the first outcome, got %v", err)
	}
}
