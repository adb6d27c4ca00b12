// Package shm is the SHM region manager (spec §4.1): maps and validates
// superblock-prefixed files, enforces allowlisted base paths, symlink
// rejection, regular-file type, and optional hugepages backing.
package shm

import (
	"encoding/binary"

	"github.com/tensorpool/tpool/tpcmn/cos"
	"github.com/tensorpool/tpool/tpcmn/nlog"
)

type RegionType uint16

const (
	HeaderRing RegionType = iota
	PayloadPool
)

const (
	Magic          = "TPOLSHM1"
	SuperblockSize = 64
)

// Superblock is the common 64-byte header at offset 0 of every SHM region.
type Superblock struct {
	Magic                [8]byte
	LayoutVersion        uint32
	Epoch                uint64
	StreamID             uint32
	RegionType           RegionType
	PoolID               uint16
	NSlots               uint32
	SlotBytes            uint32
	StrideBytes          uint32
	Pid                  uint64
	StartTimestampNs      uint64
	ActivityTimestampNs   uint64
}

func EncodeSuperblock(b []byte, s *Superblock) {
	if len(b) < SuperblockSize {
		panic("shm: superblock buffer too small")
	}
	copy(b[0:8], []byte(Magic))
	binary.LittleEndian.PutUint32(b[8:12], s.LayoutVersion)
	binary.LittleEndian.PutUint64(b[12:20], s.Epoch)
	binary.LittleEndian.PutUint32(b[20:24], s.StreamID)
	binary.LittleEndian.PutUint16(b[24:26], uint16(s.RegionType))
	binary.LittleEndian.PutUint16(b[26:28], s.PoolID)
	binary.LittleEndian.PutUint32(b[28:32], s.NSlots)
	binary.LittleEndian.PutUint32(b[32:36], s.SlotBytes)
	binary.LittleEndian.PutUint32(b[36:40], s.StrideBytes)
	binary.LittleEndian.PutUint64(b[40:48], s.Pid)
	binary.LittleEndian.PutUint64(b[48:56], s.StartTimestampNs)
	binary.LittleEndian.PutUint64(b[56:64], s.ActivityTimestampNs)
}

func DecodeSuperblock(b []byte) (*Superblock, error) {
	if len(b) < SuperblockSize {
		return nil, cos.NewTooSmallErr("shm: region smaller than superblock: %d bytes", len(b))
	}
	var s Superblock
	copy(s.Magic[:], b[0:8])
	s.LayoutVersion = binary.LittleEndian.Uint32(b[8:12])
	s.Epoch = binary.LittleEndian.Uint64(b[12:20])
	s.StreamID = binary.LittleEndian.Uint32(b[20:24])
	s.RegionType = RegionType(binary.LittleEndian.Uint16(b[24:26]))
	s.PoolID = binary.LittleEndian.Uint16(b[26:28])
	s.NSlots = binary.LittleEndian.Uint32(b[28:32])
	s.SlotBytes = binary.LittleEndian.Uint32(b[32:36])
	s.StrideBytes = binary.LittleEndian.Uint32(b[36:40])
	s.Pid = binary.LittleEndian.Uint64(b[40:48])
	s.StartTimestampNs = binary.LittleEndian.Uint64(b[48:56])
	s.ActivityTimestampNs = binary.LittleEndian.Uint64(b[56:64])
	if string(s.Magic[:]) != Magic {
		return nil, cos.NewLayoutMismatchErr("shm: bad magic %q", s.Magic[:])
	}
	return &s, nil
}

// RegionSize computes the total file size for a region: 64 + nslots*slotOrStride.
// Carried from the original's tp_shm_region_size helper (spec SPEC_FULL.md §3.1).
func RegionSize(nslots uint32, slotOrStride uint32) int64 {
	return SuperblockSize + int64(nslots)*int64(slotOrStride)
}

// IsPowerOfTwo reports whether n is a nonzero power of two (spec §8 property).
func IsPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

// Expected is the optional set of fields validate_superblock enforces
// against an observed superblock (spec §4.1). A nil pointer field means
// "don't check".
type Expected struct {
	StreamID      *uint32
	LayoutVersion *uint32
	Epoch         *uint64
	RegionType    *RegionType
	PoolID        *uint16
	NSlots        *uint32
	SlotBytes     *uint32
	StrideBytes   *uint32
}

// ValidateSuperblock checks magic and, if exp is non-nil, every set field
// of exp against the decoded superblock, plus the region-type-specific
// rules (header ring: slot_bytes==256; pool: stride_bytes>0). A pool stride
// that is not cache-line aligned is logged as a warning, not rejected.
func ValidateSuperblock(region []byte, exp *Expected) (*Superblock, error) {
	sb, err := DecodeSuperblock(region)
	if err != nil {
		return nil, err
	}
	if exp != nil {
		if exp.StreamID != nil && *exp.StreamID != sb.StreamID {
			return nil, cos.NewLayoutMismatchErr("shm: stream_id mismatch: want %d got %d", *exp.StreamID, sb.StreamID)
		}
		if exp.LayoutVersion != nil && *exp.LayoutVersion != sb.LayoutVersion {
			return nil, cos.NewLayoutMismatchErr("shm: layout_version mismatch: want %d got %d", *exp.LayoutVersion, sb.LayoutVersion)
		}
		if exp.Epoch != nil && *exp.Epoch != sb.Epoch {
			return nil, cos.NewLayoutMismatchErr("shm: epoch mismatch: want %d got %d", *exp.Epoch, sb.Epoch)
		}
		if exp.RegionType != nil && *exp.RegionType != sb.RegionType {
			return nil, cos.NewLayoutMismatchErr("shm: region_type mismatch: want %d got %d", *exp.RegionType, sb.RegionType)
		}
		if exp.PoolID != nil && *exp.PoolID != sb.PoolID {
			return nil, cos.NewLayoutMismatchErr("shm: pool_id mismatch: want %d got %d", *exp.PoolID, sb.PoolID)
		}
		if exp.NSlots != nil && *exp.NSlots != sb.NSlots {
			return nil, cos.NewLayoutMismatchErr("shm: nslots mismatch: want %d got %d", *exp.NSlots, sb.NSlots)
		}
		if exp.SlotBytes != nil && *exp.SlotBytes != sb.SlotBytes {
			return nil, cos.NewLayoutMismatchErr("shm: slot_bytes mismatch: want %d got %d", *exp.SlotBytes, sb.SlotBytes)
		}
		if exp.StrideBytes != nil && *exp.StrideBytes != sb.StrideBytes {
			return nil, cos.NewLayoutMismatchErr("shm: stride_bytes mismatch: want %d got %d", *exp.StrideBytes, sb.StrideBytes)
		}
	}
	if !IsPowerOfTwo(sb.NSlots) {
		return nil, cos.NewLayoutMismatchErr("shm: nslots %d is not a power of two", sb.NSlots)
	}
	switch sb.RegionType {
	case HeaderRing:
		if sb.SlotBytes != seqlockSlotBytes {
			return nil, cos.NewLayoutMismatchErr("shm: header ring slot_bytes must be %d, got %d", seqlockSlotBytes, sb.SlotBytes)
		}
	case PayloadPool:
		if sb.StrideBytes == 0 {
			return nil, cos.NewLayoutMismatchErr("shm: pool stride_bytes must be > 0")
		}
		if sb.StrideBytes%64 != 0 {
			nlog.Warningf("shm: pool stride_bytes %d is not cache-line (64) aligned", sb.StrideBytes)
		}
	}
	return sb, nil
}

const seqlockSlotBytes = 256
