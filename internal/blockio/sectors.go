// Package blockio adapts the engine's abstract, sector-granular BlockDevice
// into cluster-granular I/O and provides the sector-level cache
// (SectorCache) the rest of the FAT engine is built on.
//
// Adapted from github.com/dargueta/disko's drivers/common/blockdevice.go,
// blockstream.go, and clusterio.go, collapsed into a single geometry type
// because the FAT engine only ever deals with one block device abstraction
// (a sector stream), not disko's more general notion of an arbitrary block
// size with an independent cluster stream layered on top.
package blockio

import (
	"fmt"

	ferrors "github.com/dargueta/fat32/errors"
)

// Device is the minimal sector I/O contract consumed by this package. It is
// satisfied by fat32.BlockDevice; defined again here (structurally
// identical) so this package doesn't import the root package and create an
// import cycle.
type Device interface {
	ReadSectors(sector uint32, count uint, buf []byte) error
	WriteSectors(sector uint32, count uint, buf []byte) error
}

// Geometry describes a FAT32 volume's sector/cluster layout and provides
// cluster-granular read/write on top of a sector-granular Device.
type Geometry struct {
	Device            Device
	BytesPerSector    uint
	SectorsPerCluster uint
	// FirstDataSector is the absolute sector number of cluster 2, the first
	// data cluster on the volume.
	FirstDataSector uint32
	// TotalClusters is the number of addressable data clusters (cluster
	// numbers 2 through TotalClusters+1); the reserved cluster numbers 0
	// and 1 are not counted.
	TotalClusters uint32
}

// BytesPerCluster returns the size of one cluster, in bytes.
func (g *Geometry) BytesPerCluster() uint {
	return g.BytesPerSector * g.SectorsPerCluster
}

// ClusterToSector converts a data cluster number (>= 2) into the absolute
// sector number of its first sector.
func (g *Geometry) ClusterToSector(cluster uint32) (uint32, error) {
	if cluster < 2 {
		return 0, ferrors.ErrInvalid.WithMessage(
			fmt.Sprintf("cluster %d is reserved, not a data cluster", cluster))
	}
	return g.FirstDataSector + (cluster-2)*uint32(g.SectorsPerCluster), nil
}

// ReadCluster reads one whole cluster into buf, which must be exactly
// BytesPerCluster() bytes long.
func (g *Geometry) ReadCluster(cluster uint32, buf []byte) error {
	sector, err := g.ClusterToSector(cluster)
	if err != nil {
		return err
	}
	return g.Device.ReadSectors(sector, g.SectorsPerCluster, buf)
}

// WriteCluster writes one whole cluster from buf, which must be exactly
// BytesPerCluster() bytes long.
func (g *Geometry) WriteCluster(cluster uint32, buf []byte) error {
	sector, err := g.ClusterToSector(cluster)
	if err != nil {
		return err
	}
	return g.Device.WriteSectors(sector, g.SectorsPerCluster, buf)
}

// ReadSector reads a single absolute sector into buf (exactly
// BytesPerSector bytes).
func (g *Geometry) ReadSector(sector uint32, buf []byte) error {
	return g.Device.ReadSectors(sector, 1, buf)
}

// WriteSector writes a single absolute sector from buf (exactly
// BytesPerSector bytes).
func (g *Geometry) WriteSector(sector uint32, buf []byte) error {
	return g.Device.WriteSectors(sector, 1, buf)
}
