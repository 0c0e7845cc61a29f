// Short-name derivation, validity rules, and the LFN checksum are grounded
// on stxent/YAF's common/fat32.c (the basis for the checksum formula used
// below) and cross-checked against the Go port in soypat-fat's fat.go
// (sum_sfn, gen_numname) for the ~N numeric-tail collision scheme, which
// the teacher repo's drivers/fat package never implements at all -- it has
// no LFN support of any kind.
package fat

import (
	"fmt"
	"strings"
)

// forbiddenShortNameChars are the characters FAT 8.3 short names may never
// contain, beyond control characters and codepoints above 0x7F.
const forbiddenShortNameChars = "\"*+,/:;<=>?[\\]|"

// ShortName is the on-disk 11-byte fixed-width short name (8 base + 3
// extension, space-padded, uppercase ASCII).
type ShortName [11]byte

// String renders the short name in dotted display form, e.g. "README.TXT".
func (s ShortName) String() string {
	base := strings.TrimRight(string(s[0:8]), " ")
	ext := strings.TrimRight(string(s[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// Checksum computes the LFN checksum byte over the 11-byte short name, per
// the formula shared by every LFN chunk belonging to this entry group.
func (s ShortName) Checksum() byte {
	var sum byte
	for _, b := range s {
		sum = ((sum >> 1) | (sum << 7)) + b
	}
	return sum
}

func isValidShortNameByte(b byte) bool {
	if b > 0x7F {
		return false
	}
	if b < 0x20 && b != 0x05 {
		return false
	}
	if strings.IndexByte(forbiddenShortNameChars, b) >= 0 {
		return false
	}
	return true
}

// mapAndValidate upper-cases ASCII letters, maps spaces to underscores, and
// rejects any byte short names can't represent. It reports ok=false if name
// contains a byte the 8.3 charset forbids outright (not just one requiring
// an LFN, like lowercase or a long body -- those are handled by the caller
// via fits8Dot3).
func mapAndValidate(name string) (string, bool) {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		b := name[i]
		if b >= 0x80 {
			return "", false
		}
		if b == ' ' {
			out = append(out, '_')
			continue
		}
		if !isValidShortNameByte(b) {
			return "", false
		}
		if b >= 'a' && b <= 'z' {
			b -= 'a' - 'A'
		}
		out = append(out, b)
	}
	return string(out), true
}

// fits8Dot3 reports whether mapped (already uppercased/space-mapped) splits
// cleanly into a base of at most 8 characters and an extension of at most 3
// characters after the final '.', with no other dots and no leading dot.
func fits8Dot3(mapped string) (base string, ext string, ok bool) {
	if mapped == "" || mapped[0] == '.' {
		return "", "", false
	}

	lastDot := strings.LastIndexByte(mapped, '.')
	if lastDot < 0 {
		if len(mapped) > 8 {
			return "", "", false
		}
		return mapped, "", true
	}

	base = mapped[:lastDot]
	ext = mapped[lastDot+1:]
	if strings.IndexByte(base, '.') >= 0 {
		return "", "", false
	}
	if len(base) == 0 || len(base) > 8 || len(ext) > 3 {
		return "", "", false
	}
	return base, ext, true
}

// pack11 lays out base (<=8 bytes) and ext (<=3 bytes) into the fixed
// 11-byte short-name field, space-padded.
func pack11(base, ext string) ShortName {
	var s ShortName
	for i := range s {
		s[i] = ' '
	}
	copy(s[0:8], base)
	copy(s[8:11], ext)
	return s
}

// ExistsFunc reports whether a candidate short name is already in use
// within the directory being written to, so DeriveShortName can pick a
// numeric tail that doesn't collide.
type ExistsFunc func(candidate ShortName) (bool, error)

// DeriveShortName computes the on-disk short name for a (possibly long or
// oddly-cased) input filename. If the uppercased input fits the 8.3 mold
// and no entry in the directory uses that short name yet, it is used
// directly: needsLFN is false when the input was already exactly that form,
// and true when it only fits after case folding (the LFN keeps the real
// case). Otherwise a `~N` numeric-tail derivative is generated and needsLFN
// is true, since the original name must still be recoverable via its LFN
// chunks.
func DeriveShortName(name string, exists ExistsFunc) (sn ShortName, needsLFN bool, err error) {
	mapped, validChars := mapAndValidate(name)
	if validChars {
		if base, ext, ok := fits8Dot3(mapped); ok {
			candidate := pack11(base, ext)
			// A name that round-trips exactly still needs checking: two
			// distinct inputs can map to the same uppercase short form
			// (e.g. "a.txt" and "A.TXT"), so the second one written still
			// needs a short name of its own, with an LFN carrying its real
			// case.
			collides, cerr := existsOrFalse(exists, candidate)
			if cerr != nil {
				return ShortName{}, false, cerr
			}
			if !collides && mapped == name {
				return candidate, false, nil
			}
			if !collides {
				return candidate, true, nil
			}
		}
	}

	base, ext := splitForTail(mapped, validChars, name)
	for seq := 1; seq <= 99999; seq++ {
		candidate := buildNumberedName(base, ext, seq)
		collides, cerr := existsOrFalse(exists, candidate)
		if cerr != nil {
			return ShortName{}, false, cerr
		}
		if !collides {
			return candidate, true, nil
		}
	}

	return ShortName{}, false, fmt.Errorf("exhausted numeric tail space deriving short name for %q", name)
}

func existsOrFalse(exists ExistsFunc, candidate ShortName) (bool, error) {
	if exists == nil {
		return false, nil
	}
	return exists(candidate)
}

// splitForTail derives the base/extension pair to append a numeric tail to,
// falling back to sanitized substrings of the raw name when the mapped form
// wasn't valid 8.3 charset at all.
func splitForTail(mapped string, validChars bool, raw string) (base, ext string) {
	source := mapped
	if !validChars {
		source, _ = mapAndValidate(sanitizeForTailFallback(raw))
	}

	lastDot := strings.LastIndexByte(source, '.')
	if lastDot < 0 {
		base = source
	} else {
		base = source[:lastDot]
		ext = source[lastDot+1:]
	}

	if len(ext) > 3 {
		ext = ext[:3]
	}
	if len(base) == 0 {
		base = "_"
	}
	return base, ext
}

// sanitizeForTailFallback strips bytes the 8.3 charset can never represent
// (non-ASCII, control, forbidden punctuation), and every '.', so a
// numeric-tail base can still be formed from an otherwise-unrepresentable
// name.
func sanitizeForTailFallback(raw string) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if b >= 0x80 || b < 0x20 || strings.IndexByte(forbiddenShortNameChars, b) >= 0 || b == '.' {
			continue
		}
		out = append(out, b)
	}
	return string(out)
}

// buildNumberedName appends "~N" to base, truncating base so the combined
// length stays within 8 characters, then packs it with ext.
func buildNumberedName(base, ext string, seq int) ShortName {
	tail := fmt.Sprintf("~%d", seq)
	maxBase := 8 - len(tail)
	if maxBase < 1 {
		maxBase = 1
	}
	if len(base) > maxBase {
		base = base[:maxBase]
	}
	return pack11(base+tail, ext)
}
