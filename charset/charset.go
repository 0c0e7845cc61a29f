// Package charset converts between Go's native UTF-8 strings and the
// UTF-16LE encoding VFAT long file names use on disk. This is the
// utf8_to_utf16le / utf16le_to_utf8 utility boundary named explicitly as an
// external collaborator in the engine's design; internal/fat and the root
// package never touch golang.org/x/text directly, they only ever call
// through EncodeUnits/DecodeUnits below.
package charset

import (
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var utf16LEEncoding = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeUTF16LE converts a UTF-8 Go string into its UTF-16LE byte
// representation, the form VFAT long-name chunks store on disk.
func EncodeUTF16LE(s string) ([]byte, error) {
	encoded, _, err := transform.String(utf16LEEncoding.NewEncoder(), s)
	if err != nil {
		return nil, err
	}
	return []byte(encoded), nil
}

// DecodeUTF16LE converts raw UTF-16LE bytes read from a VFAT long-name
// chunk group back into a UTF-8 Go string.
func DecodeUTF16LE(b []byte) (string, error) {
	decoded, _, err := transform.Bytes(utf16LEEncoding.NewDecoder(), b)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// EncodeUnits converts a UTF-8 Go string into the UTF-16LE code units an
// LFN chunk group stores, going through the same x/text transcoder as
// EncodeUTF16LE rather than the stdlib's surrogate-unaware rune-to-uint16
// cast.
func EncodeUnits(s string) ([]uint16, error) {
	raw, err := EncodeUTF16LE(s)
	if err != nil {
		return nil, err
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[2*i : 2*i+2])
	}
	return units, nil
}

// DecodeUnits converts UTF-16LE code units already coalesced from an LFN
// chunk group back into a UTF-8 Go string.
func DecodeUnits(units []uint16) (string, error) {
	raw := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(raw[2*i:2*i+2], u)
	}
	return DecodeUTF16LE(raw)
}
