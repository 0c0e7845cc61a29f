package fat_test

import (
	"testing"
	"time"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fatfs "github.com/dargueta/fat32/internal/fat"
)

func TestBuildAndCoalesceLFNChunks_RoundTrip(t *testing.T) {
	name := "A Really Long File Name.dat"
	units := utf16.Encode([]rune(name))

	sn, _, err := fatfs.DeriveShortName(name, nil)
	require.NoError(t, err)
	checksum := sn.Checksum()

	chunks := fatfs.BuildLFNChunks(units, checksum)
	require.NotEmpty(t, chunks)
	assert.True(t, chunks[0].IsLast())

	got, ok := fatfs.CoalesceLFNChunks(chunks, checksum)
	require.True(t, ok)
	assert.Equal(t, name, string(utf16.Decode(got)))
}

func TestCoalesceLFNChunks_RejectsChecksumMismatch(t *testing.T) {
	units := utf16.Encode([]rune("shortname.txt"))
	chunks := fatfs.BuildLFNChunks(units, 0x42)

	_, ok := fatfs.CoalesceLFNChunks(chunks, 0x99)
	assert.False(t, ok)
}

func TestCoalesceLFNChunks_RejectsWrongDeclaredCount(t *testing.T) {
	units := utf16.Encode([]rune("two chunks of long name data here"))
	chunks := fatfs.BuildLFNChunks(units, 0x10)
	require.Greater(t, len(chunks), 1)

	// Drop the last physical chunk (ordinal 1), leaving the declared count
	// in the first chunk's ordinal inconsistent with len(chunks).
	truncated := chunks[:len(chunks)-1]
	_, ok := fatfs.CoalesceLFNChunks(truncated, 0x10)
	assert.False(t, ok)
}

func TestShortEntryEncodeDecodeRoundTrip(t *testing.T) {
	var entry fatfs.RawShortEntry
	copy(entry.Name[:], "README  TXT")
	entry.Attr = fatfs.AttrArchive
	entry.SetFirstCluster(0x01234567)
	entry.FileSize = 4096

	buf := make([]byte, fatfs.EntrySize)
	entry.Encode(buf)

	decoded := fatfs.DecodeRawShortEntry(buf)
	assert.Equal(t, entry.Name, decoded.Name)
	assert.Equal(t, entry.Attr, decoded.Attr)
	assert.Equal(t, uint32(0x01234567), decoded.FirstCluster())
	assert.Equal(t, entry.FileSize, decoded.FileSize)
}

func TestFATDateTimeRoundTrip(t *testing.T) {
	ts := time.Date(2023, time.June, 15, 13, 42, 30, 0, time.UTC)

	date := fatfs.ToFATDate(ts)
	timePart := fatfs.ToFATTime(ts)

	gotYear, gotMonth, gotDay := fatfs.DateFromFAT(date)
	assert.Equal(t, 2023, gotYear)
	assert.Equal(t, time.June, gotMonth)
	assert.Equal(t, 15, gotDay)

	gotHour, gotMin, gotSec, _ := fatfs.TimeFromFAT(timePart, 0)
	assert.Equal(t, 13, gotHour)
	assert.Equal(t, 42, gotMin)
	assert.Equal(t, 30, gotSec) // even second, exact in the 2-second field
}

func TestNewDirentFromShort_RejectsFreeSlot(t *testing.T) {
	var entry fatfs.RawShortEntry // Name[0] defaults to 0x00, the free marker
	_, err := fatfs.NewDirentFromShort(entry, 2, 0)
	assert.Error(t, err)
}

func TestDirent_IsDirReflectsAttribute(t *testing.T) {
	var entry fatfs.RawShortEntry
	copy(entry.Name[:], "SUBDIR     ")
	entry.Attr = fatfs.AttrDirectory

	d, err := fatfs.NewDirentFromShort(entry, 2, 0)
	require.NoError(t, err)
	assert.True(t, d.IsDir())
}
