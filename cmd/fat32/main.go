// Command fat32 is a small interactive shell for mounting a FAT32 image and
// running read-only and write operations against it, the "interactive
// shell... present in source as examples" collaborator named out of scope
// by the engine's design. It never reaches into the engine's internals; it
// only calls the public Volume/File/Dir API, same as fuseadapter.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/dargueta/fat32"
	"github.com/dargueta/fat32/disks"
)

func main() {
	app := &cli.App{
		Name:  "fat32",
		Usage: "Inspect and manipulate FAT32 disk images",
		Commands: []*cli.Command{
			lsCommand,
			catCommand,
			statCommand,
			dfCommand,
			newImageCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err)
	}
}

func openVolume(imagePath string, writable bool) (*fat32.Volume, *os.File, error) {
	flags := os.O_RDONLY
	if writable {
		flags = os.O_RDWR
	}
	f, err := os.OpenFile(imagePath, flags, 0)
	if err != nil {
		return nil, nil, err
	}

	device := &fileBlockDevice{f: f, bytesPerSector: 512}
	config := fat32.DefaultConfig()
	config.EnableWrite = writable

	volume, err := fat32.Mount(device, config)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return volume, f, nil
}

var lsCommand = &cli.Command{
	Name:      "ls",
	Usage:     "List the contents of a directory",
	ArgsUsage: "IMAGE [PATH]",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 1 {
			return cli.Exit("usage: fat32 ls IMAGE [PATH]", 1)
		}
		path := "/"
		if c.Args().Len() > 1 {
			path = c.Args().Get(1)
		}

		volume, f, err := openVolume(c.Args().Get(0), false)
		if err != nil {
			return err
		}
		defer f.Close()
		defer volume.Unmount()

		dir, err := volume.OpenDir(path)
		if err != nil {
			return err
		}
		defer dir.Close()

		for {
			entry, ok, err := dir.ReadDir()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			kind := "-"
			if entry.Type == fat32.TypeDir {
				kind = "d"
			}
			fmt.Printf("%s %10s  %s\n", kind, humanize.Bytes(uint64(entry.Size)), entry.Name)
		}
		return nil
	},
}

var catCommand = &cli.Command{
	Name:      "cat",
	Usage:     "Print a file's contents to stdout",
	ArgsUsage: "IMAGE PATH",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 2 {
			return cli.Exit("usage: fat32 cat IMAGE PATH", 1)
		}

		volume, f, err := openVolume(c.Args().Get(0), false)
		if err != nil {
			return err
		}
		defer f.Close()
		defer volume.Unmount()

		file, err := volume.OpenFile(c.Args().Get(1), fat32.ModeRead)
		if err != nil {
			return err
		}
		defer file.Close()

		buf := make([]byte, 32*1024)
		for {
			n, err := file.Read(buf)
			if n > 0 {
				os.Stdout.Write(buf[:n])
			}
			if err != nil {
				break
			}
		}
		return nil
	},
}

var statCommand = &cli.Command{
	Name:      "stat",
	Usage:     "Show metadata about a file or directory",
	ArgsUsage: "IMAGE PATH",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 2 {
			return cli.Exit("usage: fat32 stat IMAGE PATH", 1)
		}

		volume, f, err := openVolume(c.Args().Get(0), false)
		if err != nil {
			return err
		}
		defer f.Close()
		defer volume.Unmount()

		info, err := volume.Stat(c.Args().Get(1))
		if err != nil {
			return err
		}

		kind := "file"
		if info.IsDir() {
			kind = "directory"
		}
		fmt.Printf("type: %s\nsize: %s (%d bytes)\n", kind, humanize.Bytes(uint64(info.Size)), info.Size)
		return nil
	},
}

var dfCommand = &cli.Command{
	Name:      "df",
	Usage:     "Show free space on the volume",
	ArgsUsage: "IMAGE",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 1 {
			return cli.Exit("usage: fat32 df IMAGE", 1)
		}

		volume, f, err := openVolume(c.Args().Get(0), false)
		if err != nil {
			return err
		}
		defer f.Close()
		defer volume.Unmount()

		label := strings.TrimSpace(volume.VolumeLabel())
		if label == "" {
			label = "(no label)"
		}
		fmt.Printf("volume: %s\nfree clusters: %d\n", label, volume.FreeClusters())
		return nil
	},
}

var newImageCommand = &cli.Command{
	Name:  "new-image",
	Usage: "Create a blank, zero-filled image file sized for a predefined disk geometry",
	Description: "This does not format the image as FAT32; it only allocates a file of " +
		"the right size. Use an external mkfs.fat32 (or similar) tool to lay down the boot " +
		"sector, FAT, and root directory before mounting it with this module.",
	ArgsUsage: "GEOMETRY-SLUG OUTPUT-FILE",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 2 {
			return cli.Exit("usage: fat32 new-image GEOMETRY-SLUG OUTPUT-FILE", 1)
		}

		geometry, err := disks.GetPredefinedDiskGeometry(c.Args().Get(0))
		if err != nil {
			return err
		}

		size := geometry.TotalSizeBytes()
		f, err := os.Create(c.Args().Get(1))
		if err != nil {
			return err
		}
		defer f.Close()

		if err := f.Truncate(size); err != nil {
			return err
		}

		fmt.Printf("created %s (%s) for geometry %q\n", c.Args().Get(1), humanize.Bytes(uint64(size)), geometry.Name)
		return nil
	},
}

// fileBlockDevice adapts an *os.File opened on a plain image file into a
// fat32.BlockDevice, the simplest possible collaborator for the CLI -- the
// teacher's mmapdevice and the engine's in-memory testing device cover the
// other two ways of satisfying this interface.
type fileBlockDevice struct {
	f              *os.File
	bytesPerSector uint
}

func (d *fileBlockDevice) ReadSectors(sector uint32, count uint, buf []byte) error {
	_, err := d.f.ReadAt(buf, int64(sector)*int64(d.bytesPerSector))
	return err
}

func (d *fileBlockDevice) WriteSectors(sector uint32, count uint, buf []byte) error {
	_, err := d.f.WriteAt(buf, int64(sector)*int64(d.bytesPerSector))
	return err
}

var _ fat32.BlockDevice = (*fileBlockDevice)(nil)
