//go:build linux

package linux

import (
	"crypto/md5"
	"debug/pe"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cvuchener/libdfs/process/memory_map"
)

// identityOfExe computes the build identifier of the executable at path:
// the 4-byte PE header timestamp for a Windows image, the whole-file MD5
// digest otherwise. Timestamp bytes are big-endian, the same order the
// symbol table's binary-timestamp values decode to.
func identityOfExe(path string) ([]byte, error) {
	if isPEImage(path) {
		ts, err := peTimestamp(path)
		if err != nil {
			return nil, fmt.Errorf("linuxproc: PE identity: %w", err)
		}
		return []byte{byte(ts >> 24), byte(ts >> 16), byte(ts >> 8), byte(ts)}, nil
	}
	digest, err := md5OfFile(path)
	if err != nil {
		return nil, fmt.Errorf("linuxproc: ELF identity: %w", err)
	}
	return digest, nil
}

// isPEImage reports whether path's first two bytes are the "MZ" DOS-header
// magic, i.e. the target is a Windows executable running under Wine rather
// than a native Linux ELF binary.
func isPEImage(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var magic [2]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return false
	}
	return magic[0] == 'M' && magic[1] == 'Z'
}

// peTimestamp returns the PE COFF file header's TimeDateStamp, the 4-byte
// identifier version tables key Windows/Wine targets on.
func peTimestamp(path string) (uint32, error) {
	f, err := pe.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.FileHeader.TimeDateStamp, nil
}

// peImageBase returns the PE optional header's declared (link-time) image
// base, from whichever of OptionalHeader32/OptionalHeader64 is populated.
func peImageBase(path string) (uint64, error) {
	f, err := pe.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		return uint64(oh.ImageBase), nil
	case *pe.OptionalHeader64:
		return oh.ImageBase, nil
	default:
		return 0, fmt.Errorf("linuxproc: unrecognized PE optional header type %T", f.OptionalHeader)
	}
}

// moduleLoadAddress finds the lowest mapped address of the region(s) backed
// by path's resolved target in the given memory map.
func moduleLoadAddress(path string, mm []memory_map.MemoryMapItem) (uint64, bool) {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		target = path
	}
	found := false
	var lowest uint64
	for _, item := range mm {
		if item.Pathname == "" {
			continue
		}
		resolved, err := filepath.EvalSymlinks(item.Pathname)
		if err != nil {
			resolved = item.Pathname
		}
		if resolved != target {
			continue
		}
		if !found || item.Address < lowest {
			lowest = item.Address
			found = true
		}
	}
	return lowest, found
}

// md5OfFile is the native-Linux identity: the whole-file MD5 digest of the
// target's main executable.
func md5OfFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
