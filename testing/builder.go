package testing

import (
	"encoding/binary"
	"testing"
)

// FreshImageParams configures a synthetic, from-scratch FAT32 volume for
// tests, standing in for a real mkfs.fat32 invocation -- disk formatting is
// explicitly out of this module's scope, so tests that need a mountable
// image build one directly instead of shelling out.
type FreshImageParams struct {
	BytesPerSector    uint
	SectorsPerCluster uint
	ReservedSectors   uint
	NumFATs           uint
	// DataClusters is the number of usable data clusters (cluster 2 and
	// up) the volume should have room for, including the one the root
	// directory occupies.
	DataClusters uint
}

// DefaultFreshImageParams returns a small but FAT32-shaped geometry: 512
// byte sectors, one sector per cluster, two FAT copies, and enough data
// clusters for ordinary file/directory exercises without the image running
// into megabytes.
func DefaultFreshImageParams() FreshImageParams {
	return FreshImageParams{
		BytesPerSector:    512,
		SectorsPerCluster: 1,
		ReservedSectors:   32,
		NumFATs:           2,
		DataClusters:      4096,
	}
}

const (
	fsInfoSectorOffset     = 1
	backupBootSectorOffset = 6
	rootDirCluster         = 2
)

// BuildFreshImage lays out a minimal, spec-conformant FAT32 volume in
// memory: boot sector, FSInfo sector, p.NumFATs identical copies of the FAT
// (the root directory's cluster marked end-of-chain, everything else
// free), and a zero-filled root directory cluster. It plants no files;
// tests build on top of it via the public Volume API after mounting.
// totalSectors is returned alongside the image so callers can size a
// MemoryBlockDevice without re-deriving the geometry math.
func BuildFreshImage(t *testing.T, p FreshImageParams) (image []byte, totalSectors uint) {
	t.Helper()

	entriesNeeded := uint32(p.DataClusters) + 2 // clusters 0 and 1 are reserved
	fatBytes := entriesNeeded * 4
	fatSectors := (fatBytes + uint32(p.BytesPerSector) - 1) / uint32(p.BytesPerSector)

	dataSectors := uint32(p.DataClusters) * uint32(p.SectorsPerCluster)
	firstDataSector := uint32(p.ReservedSectors) + uint32(p.NumFATs)*fatSectors
	total := firstDataSector + dataSectors

	image = make([]byte, uint(total)*p.BytesPerSector)

	writeBootSector(image, p, fatSectors, total)
	writeFSInfo(image[fsInfoSectorOffset*p.BytesPerSector:], uint32(p.DataClusters)-1, rootDirCluster+1)

	for fatIndex := uint(0); fatIndex < p.NumFATs; fatIndex++ {
		fatStart := (uint32(p.ReservedSectors) + uint32(fatIndex)*fatSectors) * uint32(p.BytesPerSector)
		binary.LittleEndian.PutUint32(image[fatStart+rootDirCluster*4:], 0x0FFFFFFF)
	}

	return image, uint(total)
}

func writeBootSector(image []byte, p FreshImageParams, fatSectors, totalSectors uint32) {
	buf := image[0:p.BytesPerSector]

	copy(buf[0:3], []byte{0xEB, 0x58, 0x90}) // JmpBoot, conventional FAT32 opcode
	copy(buf[3:11], []byte("MSWIN4.1"))
	binary.LittleEndian.PutUint16(buf[11:13], uint16(p.BytesPerSector))
	buf[13] = uint8(p.SectorsPerCluster)
	binary.LittleEndian.PutUint16(buf[14:16], uint16(p.ReservedSectors))
	buf[16] = uint8(p.NumFATs)
	// RootEntryCount, totalSectors16, sectorsPerFAT16 all stay zero, as
	// FAT32 requires.
	buf[21] = 0xF8 // Media: fixed disk
	binary.LittleEndian.PutUint16(buf[24:26], 32)
	binary.LittleEndian.PutUint16(buf[26:28], 2)
	binary.LittleEndian.PutUint32(buf[32:36], totalSectors)

	binary.LittleEndian.PutUint32(buf[36:40], fatSectors)
	binary.LittleEndian.PutUint32(buf[44:48], rootDirCluster)
	binary.LittleEndian.PutUint16(buf[48:50], fsInfoSectorOffset)
	binary.LittleEndian.PutUint16(buf[50:52], backupBootSectorOffset)
	buf[66] = 0x29 // ExtBootSignature
	binary.LittleEndian.PutUint32(buf[67:71], 0xDEADBEEF)
	copy(buf[71:82], []byte("NO NAME    "))
	copy(buf[82:90], []byte("FAT32   "))

	binary.LittleEndian.PutUint16(buf[0x1FE:0x200], 0xAA55)

	// The backup boot sector is a byte-identical copy at a fixed offset;
	// this engine's mount path never reads it, but writing it keeps the
	// image plausible for inspection with other tools.
	if uint(backupBootSectorOffset+1)*p.BytesPerSector <= uint(len(image)) {
		copy(image[backupBootSectorOffset*p.BytesPerSector:(backupBootSectorOffset+1)*p.BytesPerSector], buf)
	}
}

func writeFSInfo(buf []byte, freeClusterCount, nextFreeCluster uint32) {
	binary.LittleEndian.PutUint32(buf[0:4], 0x41615252)
	binary.LittleEndian.PutUint32(buf[484:488], 0x61417272)
	binary.LittleEndian.PutUint32(buf[488:492], freeClusterCount)
	binary.LittleEndian.PutUint32(buf[492:496], nextFreeCluster)
	binary.LittleEndian.PutUint32(buf[508:512], 0xAA550000)
}
