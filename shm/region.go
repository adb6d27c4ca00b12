package shm

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/tensorpool/tpool/tpcmn/cos"
	"github.com/tensorpool/tpool/tpcmn/nlog"
)

// hugetlbfs's f_type per statfs(2) on Linux.
const hugetlbfsMagic = 0x958458f6

// Region is the exclusive owner of a mapped SHM file: it holds the open fd
// and the mapping and releases both on Unmap (spec §9 "Ownership of
// regions"). Callers never see a raw pointer, only the borrowed []byte view
// returned by View.
type Region struct {
	f        *os.File
	data     []byte
	writable bool
}

// View returns the borrowed byte-slice view of the whole mapped file. The
// slice must not be retained beyond Unmap.
func (r *Region) View() []byte { return r.data }

func (r *Region) Writable() bool { return r.writable }

// TouchActivity refreshes the superblock's activity_timestamp_ns field; the
// producer calls this once per announce period (spec §5 "Shared-resource
// discipline"). Supplemented from the original's tp_shm_touch_activity.
func (r *Region) TouchActivity(nowNs uint64) {
	if !r.writable || len(r.data) < SuperblockSize {
		return
	}
	const off = 56
	putU64(r.data[off:off+8], nowNs)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Unmap releases the mapping and closes the fd. Idempotent.
func (r *Region) Unmap(log bool) error {
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil && log {
			nlog.Warningf("shm: munmap failed: %v", err)
		}
		r.data = nil
	}
	if r.f != nil {
		err := r.f.Close()
		r.f = nil
		return err
	}
	return nil
}

// Map opens and maps the file described by the URI, after verifying it is a
// regular file under one of the allowed base directories, not reached
// through a symlink in its final component, and -- if require_hugepages is
// set -- backed by hugetlbfs (spec §4.1).
func Map(rawURI string, writable bool, allowedBases []string) (*Region, error) {
	u, err := ParseURI(rawURI)
	if err != nil {
		return nil, err
	}
	if err := checkAllowlisted(u.Path, allowedBases); err != nil {
		return nil, err
	}
	if err := checkRegularNoSymlink(u.Path); err != nil {
		return nil, err
	}
	if u.RequireHugepages {
		if err := checkHugetlbfs(u.Path); err != nil {
			return nil, err
		}
	}
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(u.Path, flag, 0)
	if err != nil {
		return nil, cos.NewIoErr(err, "shm: open %s", u.Path)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, cos.NewIoErr(err, "shm: stat %s", u.Path)
	}
	if fi.Size() < SuperblockSize {
		f.Close()
		return nil, cos.NewTooSmallErr("shm: %s is %d bytes, below superblock size", u.Path, fi.Size())
	}
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), prot, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, cos.NewIoErr(err, "shm: mmap %s", u.Path)
	}
	return &Region{f: f, data: data, writable: writable}, nil
}

// Create allocates a new SHM-backed file at the URI's path, sized for
// nslots*slotOrStride plus the superblock, writes sb as its header, and
// returns the mapped, writable Region. Used by cmd/tp-shmctl's create
// command and by test setup; a production producer normally inherits an
// already-created region from its orchestrator instead.
func Create(rawURI string, nslots, slotOrStride uint32, sb *Superblock, allowedBases []string) (*Region, error) {
	u, err := ParseURI(rawURI)
	if err != nil {
		return nil, err
	}
	if err := checkAllowlisted(u.Path, allowedBases); err != nil {
		return nil, err
	}
	size := RegionSize(nslots, slotOrStride)
	f, err := os.OpenFile(u.Path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, cos.NewIoErr(err, "shm: create %s", u.Path)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(u.Path)
		return nil, cos.NewIoErr(err, "shm: truncate %s to %d", u.Path, size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(u.Path)
		return nil, cos.NewIoErr(err, "shm: mmap %s", u.Path)
	}
	EncodeSuperblock(data, sb)
	return &Region{f: f, data: data, writable: true}, nil
}

func checkAllowlisted(path string, bases []string) error {
	real, err := filepath.EvalSymlinks(filepath.Dir(path))
	if err != nil {
		return cos.NewNotAllowedErr("shm: cannot resolve parent of %s: %v", path, err)
	}
	realPath := filepath.Join(real, filepath.Base(path))
	for _, base := range bases {
		absBase, err := filepath.Abs(base)
		if err != nil {
			continue
		}
		if realPath == absBase || strings.HasPrefix(realPath, absBase+string(filepath.Separator)) {
			return nil
		}
	}
	return cos.NewNotAllowedErr("shm: %s is outside allowlisted base paths", path)
}

func checkRegularNoSymlink(path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		return cos.NewIoErr(err, "shm: lstat %s", path)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return cos.NewNotAllowedErr("shm: %s is a symlink", path)
	}
	if !fi.Mode().IsRegular() {
		return cos.NewNotRegularErr("shm: %s is not a regular file", path)
	}
	return nil
}

func checkHugetlbfs(path string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(path), &st); err != nil {
		return cos.NewIoErr(err, "shm: statfs %s", path)
	}
	if int64(st.Type) != hugetlbfsMagic {
		return cos.NewConfigErr("shm: %s is not on a hugetlbfs filesystem", path)
	}
	return nil
}
