package fat32

import "time"

// FileStat is the platform-independent status shape the engine exposes,
// narrower than the teacher's syscall.Stat_t-shaped FileStat since FAT32
// has no notion of ownership, permission bits beyond read-only, or inode
// numbers distinct from directory entry location.
type FileStat struct {
	Type         ObjectType
	Size         int64
	LastAccessed time.Time
}

func (s FileStat) IsDir() bool  { return s.Type == TypeDir }
func (s FileStat) IsFile() bool { return s.Type == TypeFile }
