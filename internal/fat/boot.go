// Adapted from github.com/dargueta/disko's drivers/fat/common.go and
// drivers/fat/fat32.go. The teacher's RawFATBootSectorWithBPB/FATBootSector
// pair covered FAT12/16/32 with a runtime version check; this package only
// ever deals with FAT32, so the BPB and the FAT32-specific extended BPB are
// merged into one on-disk struct and the version-dispatch logic is gone.
package fat

import (
	"encoding/binary"
	"fmt"
	"strings"

	ferrors "github.com/dargueta/fat32/errors"
)

// BootSectorSize is the size in bytes of the boot sector structure read from
// (and written to) logical sector 0, and mirrored at BackupBootSector.
const BootSectorSize = 90

// rawBootSector is the byte-for-byte on-disk layout of a FAT32 volume's boot
// sector, BIOS Parameter Block and FAT32 extended BPB combined. Fields are
// little-endian, matching the on-disk format exactly; Go's struct field
// order is not guaranteed to match memory layout, so parsing is done by
// explicit offset with encoding/binary rather than a single binary.Read.
type rawBootSector struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	totalSectors16    uint16
	Media             uint8
	sectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	totalSectors32    uint32

	// FAT32 extended BPB.
	SectorsPerFAT32  uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	reserved         [12]byte
	DriveNumber      uint8
	ntReserved       uint8
	ExtBootSignature uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FileSystemType   [8]byte
}

// BootSector holds the parsed, validated contents of a FAT32 volume's boot
// sector along with every geometry value derived from it.
type BootSector struct {
	BytesPerSector    uint
	SectorsPerCluster uint
	ReservedSectors   uint
	NumFATs           uint
	Media             uint8
	SectorsPerTrack   uint
	NumHeads          uint
	HiddenSectors     uint32
	TotalSectors      uint32

	SectorsPerFAT    uint32
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	DriveNumber      uint8
	VolumeID         uint32
	VolumeLabel      string
	FileSystemType   string

	FirstFATSector  uint32
	FirstDataSector uint32
	TotalClusters   uint32
	BytesPerCluster uint
}

// bootSignatureOffset and bootSignatureValue locate and validate the
// 0xAA55 marker every sector-0 boot sector must end with, regardless of the
// volume's actual BytesPerSector.
const (
	bootSignatureOffset = 0x1FE
	bootSignatureValue  = 0xAA55
)

func decodeRawBootSector(buf []byte) (rawBootSector, error) {
	var raw rawBootSector
	if len(buf) < bootSignatureOffset+2 {
		return raw, ferrors.ErrIO.WithMessage(
			fmt.Sprintf("boot sector buffer too short: need %d bytes, got %d", bootSignatureOffset+2, len(buf)))
	}

	signature := binary.LittleEndian.Uint16(buf[bootSignatureOffset : bootSignatureOffset+2])
	if signature != bootSignatureValue {
		return raw, ferrors.ErrInvalid.WithMessage(
			fmt.Sprintf("bad boot sector signature: want 0x%04X, got 0x%04X", bootSignatureValue, signature))
	}

	copy(raw.JmpBoot[:], buf[0:3])
	copy(raw.OEMName[:], buf[3:11])
	raw.BytesPerSector = binary.LittleEndian.Uint16(buf[11:13])
	raw.SectorsPerCluster = buf[13]
	raw.ReservedSectors = binary.LittleEndian.Uint16(buf[14:16])
	raw.NumFATs = buf[16]
	raw.RootEntryCount = binary.LittleEndian.Uint16(buf[17:19])
	raw.totalSectors16 = binary.LittleEndian.Uint16(buf[19:21])
	raw.Media = buf[21]
	raw.sectorsPerFAT16 = binary.LittleEndian.Uint16(buf[22:24])
	raw.SectorsPerTrack = binary.LittleEndian.Uint16(buf[24:26])
	raw.NumHeads = binary.LittleEndian.Uint16(buf[26:28])
	raw.HiddenSectors = binary.LittleEndian.Uint32(buf[28:32])
	raw.totalSectors32 = binary.LittleEndian.Uint32(buf[32:36])

	raw.SectorsPerFAT32 = binary.LittleEndian.Uint32(buf[36:40])
	raw.ExtFlags = binary.LittleEndian.Uint16(buf[40:42])
	raw.FSVersion = binary.LittleEndian.Uint16(buf[42:44])
	raw.RootCluster = binary.LittleEndian.Uint32(buf[44:48])
	raw.FSInfoSector = binary.LittleEndian.Uint16(buf[48:50])
	raw.BackupBootSector = binary.LittleEndian.Uint16(buf[50:52])
	raw.DriveNumber = buf[64]
	raw.ntReserved = buf[65]
	raw.ExtBootSignature = buf[66]
	raw.VolumeID = binary.LittleEndian.Uint32(buf[67:71])
	copy(raw.VolumeLabel[:], buf[71:82])
	copy(raw.FileSystemType[:], buf[82:90])

	return raw, nil
}

// ParseBootSector validates and converts the raw contents of logical sector
// 0 into a BootSector with all derived geometry filled in.
func ParseBootSector(buf []byte) (*BootSector, error) {
	raw, err := decodeRawBootSector(buf)
	if err != nil {
		return nil, err
	}

	switch raw.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return nil, ferrors.ErrInvalid.WithMessage(
			fmt.Sprintf("bad value for BytesPerSector: need 512, 1024, 2048, or 4096, got %d", raw.BytesPerSector))
	}

	switch raw.SectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return nil, ferrors.ErrInvalid.WithMessage(
			fmt.Sprintf("corruption detected: SectorsPerCluster must be a power of 2 in 1-128, got %d", raw.SectorsPerCluster))
	}

	if raw.RootEntryCount != 0 {
		return nil, ferrors.ErrInvalid.WithMessage(
			"corruption detected: RootEntryCount is nonzero on a FAT32 volume")
	}
	if raw.sectorsPerFAT16 != 0 {
		return nil, ferrors.ErrInvalid.WithMessage(
			"corruption detected: 16-bit SectorsPerFAT field is nonzero on a FAT32 volume")
	}
	if raw.SectorsPerFAT32 == 0 {
		return nil, ferrors.ErrInvalid.WithMessage("corruption detected: SectorsPerFAT32 is zero")
	}
	if raw.NumFATs == 0 {
		return nil, ferrors.ErrInvalid.WithMessage("corruption detected: NumFATs is zero")
	}

	var totalSectors uint32
	if raw.totalSectors16 != 0 {
		totalSectors = uint32(raw.totalSectors16)
	} else {
		totalSectors = raw.totalSectors32
	}
	if totalSectors == 0 {
		return nil, ferrors.ErrInvalid.WithMessage("corruption detected: total sector count is zero")
	}

	firstFATSector := uint32(raw.ReservedSectors)
	totalFATSectors := uint32(raw.NumFATs) * raw.SectorsPerFAT32
	firstDataSector := firstFATSector + totalFATSectors
	dataSectors := totalSectors - firstDataSector
	totalClusters := dataSectors / uint32(raw.SectorsPerCluster)

	bytesPerCluster := uint(raw.BytesPerSector) * uint(raw.SectorsPerCluster)
	if bytesPerCluster > 32768 {
		return nil, ferrors.ErrInvalid.WithMessage(
			fmt.Sprintf("corruption detected: BytesPerCluster cannot exceed 32768, got %d", bytesPerCluster))
	}

	return &BootSector{
		BytesPerSector:    uint(raw.BytesPerSector),
		SectorsPerCluster: uint(raw.SectorsPerCluster),
		ReservedSectors:   uint(raw.ReservedSectors),
		NumFATs:           uint(raw.NumFATs),
		Media:             raw.Media,
		SectorsPerTrack:   uint(raw.SectorsPerTrack),
		NumHeads:          uint(raw.NumHeads),
		HiddenSectors:     raw.HiddenSectors,
		TotalSectors:      totalSectors,

		SectorsPerFAT:    raw.SectorsPerFAT32,
		RootCluster:      raw.RootCluster,
		FSInfoSector:     raw.FSInfoSector,
		BackupBootSector: raw.BackupBootSector,
		DriveNumber:      raw.DriveNumber,
		VolumeID:         raw.VolumeID,
		VolumeLabel:      strings.TrimRight(string(raw.VolumeLabel[:]), " "),
		FileSystemType:   strings.TrimRight(string(raw.FileSystemType[:]), " "),

		FirstFATSector:  firstFATSector,
		FirstDataSector: firstDataSector,
		TotalClusters:   totalClusters,
		BytesPerCluster: bytesPerCluster,
	}, nil
}
