package fat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/fat32/internal/blockio"
	fatfs "github.com/dargueta/fat32/internal/fat"
	ftesting "github.com/dargueta/fat32/testing"
)

// newTestFatTable builds a FatTable over a small in-memory device with two
// FAT copies and every entry initially free, mirroring what RebuildFreeBitmap
// would see right after BuildFreshImage. It also returns the geometry and
// the per-copy FAT sector count so tests can peek at a specific FAT copy's
// raw bytes.
func newTestFatTable(t *testing.T, totalClusters uint32, numFATs uint) (*fatfs.FatTable, *blockio.Geometry, uint32) {
	t.Helper()

	const bytesPerSector = 512
	entriesNeeded := totalClusters + 2
	fatSectorsNeeded := (entriesNeeded*4 + bytesPerSector - 1) / bytesPerSector
	reservedSectors := uint32(1)
	firstDataSector := reservedSectors + uint32(numFATs)*fatSectorsNeeded
	totalSectors := firstDataSector + totalClusters

	device := ftesting.NewMemoryBlockDevice(bytesPerSector, uint(totalSectors), true, nil, t)

	geometry := &blockio.Geometry{
		Device:            device,
		BytesPerSector:    bytesPerSector,
		SectorsPerCluster: 1,
		FirstDataSector:   firstDataSector,
		TotalClusters:     totalClusters,
	}
	cache := blockio.NewSectorCache(geometry)

	boot := &fatfs.BootSector{
		BytesPerSector:  bytesPerSector,
		ReservedSectors: uint(reservedSectors),
		NumFATs:         numFATs,
		SectorsPerFAT:   fatSectorsNeeded,
		TotalClusters:   totalClusters,
	}

	table := fatfs.NewFatTable(geometry, cache, boot, 0)

	// Zero every FAT entry across every copy so the table starts out
	// entirely free, the same state a freshly formatted volume would have.
	zero := make([]byte, bytesPerSector)
	for copyIdx := uint32(0); copyIdx < uint32(numFATs); copyIdx++ {
		for s := uint32(0); s < fatSectorsNeeded; s++ {
			sector := reservedSectors + copyIdx*fatSectorsNeeded + s
			require.NoError(t, geometry.WriteSector(sector, zero))
		}
	}

	require.NoError(t, table.RebuildFreeBitmap())
	return table, geometry, fatSectorsNeeded
}

func TestFatTable_AllocateMarksEndOfChain(t *testing.T) {
	table, _, _ := newTestFatTable(t, 16, 2)

	before := table.FreeClusterCount()
	cluster, err := table.Allocate(0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cluster, uint32(2))
	assert.Equal(t, before-1, table.FreeClusterCount())

	state, _, err := table.GetNext(cluster)
	require.NoError(t, err)
	assert.Equal(t, fatfs.ClusterEndOfChain, state)
}

func TestFatTable_AllocateChainsLinksPrevious(t *testing.T) {
	table, _, _ := newTestFatTable(t, 16, 2)

	first, err := table.Allocate(0)
	require.NoError(t, err)
	second, err := table.Allocate(first)
	require.NoError(t, err)

	state, next, err := table.GetNext(first)
	require.NoError(t, err)
	assert.Equal(t, fatfs.ClusterNext, state)
	assert.Equal(t, second, next)
}

func TestFatTable_SetNextMirrorsAcrossFATCopies(t *testing.T) {
	table, geometry, fatSectors := newTestFatTable(t, 16, 2)

	cluster, err := table.Allocate(0)
	require.NoError(t, err)

	// FAT copy 0 starts at sector 1 (reservedSectors=1 in newTestFatTable);
	// copy 1 starts fatSectors later. Both must hold the identical
	// end-of-chain marker for this cluster's entry.
	primaryBuf := make([]byte, geometry.BytesPerSector)
	mirrorBuf := make([]byte, geometry.BytesPerSector)
	byteOffset := cluster * 4
	sectorWithinFAT := byteOffset / uint32(geometry.BytesPerSector)
	offset := byteOffset % uint32(geometry.BytesPerSector)

	require.NoError(t, geometry.ReadSector(1+sectorWithinFAT, primaryBuf))
	require.NoError(t, geometry.ReadSector(1+fatSectors+sectorWithinFAT, mirrorBuf))

	assert.Equal(t, primaryBuf[offset:offset+4], mirrorBuf[offset:offset+4],
		"SetNext must mirror the same bytes into every FAT copy")
}

func TestFatTable_FreeChainReturnsClustersToPool(t *testing.T) {
	table, _, _ := newTestFatTable(t, 16, 2)

	first, err := table.Allocate(0)
	require.NoError(t, err)
	second, err := table.Allocate(first)
	require.NoError(t, err)
	_, err = table.Allocate(second)
	require.NoError(t, err)

	freeBeforeRelease := table.FreeClusterCount()
	require.NoError(t, table.FreeChain(first))

	assert.Equal(t, freeBeforeRelease+3, table.FreeClusterCount())

	state, _, err := table.GetNext(first)
	require.NoError(t, err)
	assert.Equal(t, fatfs.ClusterFree, state)
}

func TestFatTable_AllocateFailsWhenFull(t *testing.T) {
	table, _, _ := newTestFatTable(t, 4, 2)

	var last uint32
	var err error
	for i := 0; i < 4; i++ {
		last, err = table.Allocate(last)
		require.NoError(t, err)
	}

	_, err = table.Allocate(last)
	assert.Error(t, err, "allocating past the last free cluster must fail")
}

func TestFatTable_FreeChainNoopOnZeroHead(t *testing.T) {
	table, _, _ := newTestFatTable(t, 16, 2)
	assert.NoError(t, table.FreeChain(0))
}
