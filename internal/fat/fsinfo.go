package fat

import (
	"encoding/binary"
	"fmt"

	ferrors "github.com/dargueta/fat32/errors"
)

// FSInfo signature constants, fixed values defined by the FAT32 on-disk
// format. Unlike the boot sector's BPB, nothing here varies by volume.
const (
	fsInfoLeadSignature  = 0x41615252
	fsInfoStructSig      = 0x61417272
	fsInfoTrailSignature = 0xAA550000

	// UnknownCount is the sentinel value meaning "this count has not been
	// computed"; readers must not trust it and should recompute by scanning
	// the FAT.
	UnknownCount = 0xFFFFFFFF
)

// FSInfo mirrors the single FSInfo sector of a FAT32 volume: a cached free
// cluster count and a hint for where to resume an allocation scan. Neither
// field is authoritative -- the FAT table itself is -- but a correctly
// maintained FSInfo lets mount and allocate skip scanning the whole table.
type FSInfo struct {
	FreeClusterCount uint32
	NextFreeCluster  uint32
}

// ParseFSInfo validates and decodes the contents of the FSInfo sector.
func ParseFSInfo(buf []byte) (*FSInfo, error) {
	if len(buf) < 512 {
		return nil, ferrors.ErrIO.WithMessage(
			fmt.Sprintf("FSInfo buffer too short: need 512 bytes, got %d", len(buf)))
	}

	leadSig := binary.LittleEndian.Uint32(buf[0:4])
	structSig := binary.LittleEndian.Uint32(buf[484:488])
	trailSig := binary.LittleEndian.Uint32(buf[508:512])

	if leadSig != fsInfoLeadSignature || structSig != fsInfoStructSig || trailSig != fsInfoTrailSignature {
		return nil, ferrors.ErrInvalid.WithMessage("FSInfo sector has invalid signature, volume may be corrupt")
	}

	return &FSInfo{
		FreeClusterCount: binary.LittleEndian.Uint32(buf[488:492]),
		NextFreeCluster:  binary.LittleEndian.Uint32(buf[492:496]),
	}, nil
}

// Encode serializes the FSInfo sector into buf, which must be at least 512
// bytes. Bytes outside the three signature fields and the two counters are
// zeroed; real FAT32 volumes leave this reserved space unused.
func (fi *FSInfo) Encode(buf []byte) error {
	if len(buf) < 512 {
		return ferrors.ErrIO.WithMessage(
			fmt.Sprintf("FSInfo buffer too short: need 512 bytes, got %d", len(buf)))
	}

	for i := range buf {
		buf[i] = 0
	}

	binary.LittleEndian.PutUint32(buf[0:4], fsInfoLeadSignature)
	binary.LittleEndian.PutUint32(buf[484:488], fsInfoStructSig)
	binary.LittleEndian.PutUint32(buf[488:492], fi.FreeClusterCount)
	binary.LittleEndian.PutUint32(buf[492:496], fi.NextFreeCluster)
	binary.LittleEndian.PutUint32(buf[508:512], fsInfoTrailSignature)
	return nil
}
