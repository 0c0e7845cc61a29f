package fat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fatfs "github.com/dargueta/fat32/internal/fat"
)

func noCollisions(fatfs.ShortName) (bool, error) { return false, nil }

func TestDeriveShortName_ExactFit(t *testing.T) {
	sn, needsLFN, err := fatfs.DeriveShortName("README.TXT", noCollisions)
	require.NoError(t, err)
	assert.False(t, needsLFN)
	assert.Equal(t, "README.TXT", sn.String())
}

func TestDeriveShortName_LowercaseNeedsLFN(t *testing.T) {
	sn, needsLFN, err := fatfs.DeriveShortName("readme.txt", noCollisions)
	require.NoError(t, err)
	assert.True(t, needsLFN, "lowercase input round-trips to a different string, so it needs an LFN")
	assert.Equal(t, "README.TXT", sn.String())
}

func TestDeriveShortName_LongNameGetsNumericTail(t *testing.T) {
	sn, needsLFN, err := fatfs.DeriveShortName("A Really Long File Name.dat", noCollisions)
	require.NoError(t, err)
	assert.True(t, needsLFN)
	assert.Contains(t, sn.String(), "~1")
	assert.Contains(t, sn.String(), ".DAT")
}

func TestDeriveShortName_CollisionBumpsTail(t *testing.T) {
	seen := map[fatfs.ShortName]bool{}
	exists := func(candidate fatfs.ShortName) (bool, error) {
		return seen[candidate], nil
	}

	first, _, err := fatfs.DeriveShortName("My Document.txt", exists)
	require.NoError(t, err)
	seen[first] = true

	second, needsLFN, err := fatfs.DeriveShortName("My Document.txt", exists)
	require.NoError(t, err)
	assert.True(t, needsLFN)
	assert.NotEqual(t, first, second)
}

func TestShortNameChecksum_MatchesLFNFormula(t *testing.T) {
	sn, _, err := fatfs.DeriveShortName("TEST.TXT", noCollisions)
	require.NoError(t, err)

	var want byte
	for _, b := range sn {
		want = ((want >> 1) | (want << 7)) + b
	}
	assert.Equal(t, want, sn.Checksum())
}

func TestDeriveShortName_RejectsNothingButRecovers(t *testing.T) {
	// A name with forbidden punctuation still produces *some* valid short
	// name, sanitized and LFN-backed, rather than erroring out.
	sn, needsLFN, err := fatfs.DeriveShortName("weird:name?.txt", noCollisions)
	require.NoError(t, err)
	assert.True(t, needsLFN)
	assert.NotContains(t, sn.String(), ":")
	assert.NotContains(t, sn.String(), "?")
}
