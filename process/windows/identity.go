//go:build windows

package windows

import (
	"debug/pe"
	"fmt"
	"syscall"
	"unsafe"
)

// imagePath returns the target's main executable path.
func (p *WindowsProcess) imagePath() (string, error) {
	buf := make([]uint16, syscall.MAX_LONG_PATH)
	size := uint32(len(buf))
	ret, _, err := procQueryFullProcessImageNameW.Call(
		uintptr(p.handle),
		0,
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(unsafe.Pointer(&size)),
	)
	if ret == 0 {
		return "", fmt.Errorf("winproc: QueryFullProcessImageName: %v", err)
	}
	return syscall.UTF16ToString(buf[:size]), nil
}

// moduleInfo mirrors psapi's MODULEINFO.
type moduleInfo struct {
	BaseOfDll   uintptr
	SizeOfImage uint32
	EntryPoint  uintptr
}

// moduleBase returns the load address of the target's main module, the
// first entry EnumProcessModules reports.
func (p *WindowsProcess) moduleBase() (uint64, error) {
	var module syscall.Handle
	var needed uint32
	ret, _, err := procEnumProcessModules.Call(
		uintptr(p.handle),
		uintptr(unsafe.Pointer(&module)),
		unsafe.Sizeof(module),
		uintptr(unsafe.Pointer(&needed)),
	)
	if ret == 0 {
		return 0, fmt.Errorf("winproc: EnumProcessModules: %v", err)
	}
	var info moduleInfo
	ret, _, err = procGetModuleInformation.Call(
		uintptr(p.handle),
		uintptr(module),
		uintptr(unsafe.Pointer(&info)),
		unsafe.Sizeof(info),
	)
	if ret == 0 {
		return 0, fmt.Errorf("winproc: GetModuleInformation: %v", err)
	}
	return uint64(info.BaseOfDll), nil
}

// peTimestamp returns the PE COFF file header's TimeDateStamp, the 4-byte
// identifier version tables key Windows targets on.
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
		return 0, fmt.Errorf("winproc: unrecognized PE optional header type %T", f.OptionalHeader)
	}
}
