// Package testing holds fixtures shared across this module's own test
// files: synthetic disk images and an in-memory BlockDevice, adapted from
// github.com/dargueta/disko's testing helpers (LoadDiskImage,
// CreateDefaultCache) to this engine's sector-granular BlockDevice instead
// of disko's generic block cache.
package testing

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/dargueta/fat32/utilities/compression"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// LoadDiskImage takes a compressed disk image and returns a stream to access
// the uncompressed data.
//
//   - Writes to the stream do not affect compressedImageBytes.
//   - The stream's size is fixed to sectorSize*totalSectors; writing past the
//     end of this buffer is an error.
func LoadDiskImage(
	t *testing.T, compressedImageBytes []byte, sectorSize, totalSectors uint,
) io.ReadWriteSeeker {
	compressedBuf := bytes.NewBuffer(compressedImageBytes)
	require.Greater(t, len(compressedImageBytes), 0, "compressed image is empty")

	imageBytes, err := compression.DecompressImageToBytes(compressedBuf)
	require.NoError(t, err)

	require.Equal(
		t,
		totalSectors*sectorSize,
		uint(len(imageBytes)),
		"uncompressed image is wrong size",
	)
	return bytesextra.NewReadWriteSeeker(imageBytes)
}

// CreateRandomImage returns bytesPerSector*totalSectors bytes of random
// data, suitable as the backing store for a from-scratch synthetic volume.
func CreateRandomImage(bytesPerSector, totalSectors uint, t *testing.T) []byte {
	backingData := make([]byte, bytesPerSector*totalSectors)

	_, err := rand.Read(backingData)
	require.NoErrorf(
		t,
		err,
		"failed to initialize %d sectors of size %d with random bytes",
		totalSectors,
		bytesPerSector,
	)
	return backingData
}
