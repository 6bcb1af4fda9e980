// Package hexdump renders byte buffers as colorized terminal hex dumps,
// with optional pointer-plausibility annotations driven by a process memory
// map. It is a debugging aid for inspecting raw target memory next to the
// structured view the reader packages produce.
package hexdump

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/cvuchener/libdfs/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

// Options controls the dump's shape and coloring.
type Options struct {
	BytesPerLine int
	GroupSize    int
	ShowASCII    bool
	ShowOffset   bool

	// StartOffset is added to every line's offset column, so a dump of a
	// region reads with the target's own addresses.
	StartOffset uint64
	OffsetWidth int

	OffsetColor       coloransi.ColorCode
	HexColor          coloransi.ColorCode
	ASCIIColor        coloransi.ColorCode
	NonPrintableColor coloransi.ColorCode
	ZeroColor         coloransi.ColorCode

	// HighlightPattern marks every occurrence of a byte sequence.
	HighlightPattern         []byte
	HighlightColor           coloransi.ColorCode
	HighlightBackgroundColor coloransi.ColorCode

	// MaxLines truncates the dump, 0 means no limit.
	MaxLines int

	// ShowPointers annotates each line with the pointer-sized words at its
	// start that land inside a mapped region of MemoryMap.
	ShowPointers bool
	MemoryMap    []memory_map.MemoryMapItem
}

// DefaultOptions returns the standard 16-bytes-per-line colorized layout.
func DefaultOptions() Options {
	return Options{
		BytesPerLine:             16,
		GroupSize:                1,
		ShowASCII:                true,
		ShowOffset:               true,
		OffsetWidth:              8,
		OffsetColor:              coloransi.Cyan,
		HexColor:                 coloransi.Green,
		ASCIIColor:               coloransi.White,
		NonPrintableColor:        coloransi.BrightBlack,
		ZeroColor:                coloransi.BrightBlack,
		HighlightColor:           coloransi.Yellow,
		HighlightBackgroundColor: coloransi.Black,
	}
}

// Dump renders data with options and returns the result.
func Dump(data []byte, options Options) string {
	var buf bytes.Buffer
	DumpToWriter(&buf, data, options)
	return buf.String()
}

// DumpBytes renders data with DefaultOptions.
func DumpBytes(data []byte) string {
	return Dump(data, DefaultOptions())
}

// DumpBytesWithHighlight renders data with every occurrence of highlight
// marked.
func DumpBytesWithHighlight(data, highlight []byte) string {
	options := DefaultOptions()
	options.HighlightPattern = highlight
	return Dump(data, options)
}

// DumpToWriter renders data with options into w, line by line.
func DumpToWriter(w io.Writer, data []byte, options Options) {
	if options.BytesPerLine <= 0 {
		options.BytesPerLine = 16
	}
	if options.GroupSize <= 0 {
		options.GroupSize = 1
	}
	if options.OffsetWidth <= 0 {
		options.OffsetWidth = 8
	}

	highlighted := highlightSet(data, options.HighlightPattern)

	lines := 0
	for start := 0; start < len(data); start += options.BytesPerLine {
		if options.MaxLines > 0 && lines >= options.MaxLines {
			fmt.Fprintf(w, "... %d more bytes\n", len(data)-start)
			return
		}
		end := start + options.BytesPerLine
		if end > len(data) {
			end = len(data)
		}
		writeLine(w, data[start:end], start, highlighted, options)
		lines++
	}
}

// highlightSet marks every byte index covered by an occurrence of pattern.
func highlightSet(data, pattern []byte) map[int]bool {
	if len(pattern) == 0 {
		return nil
	}
	set := map[int]bool{}
	for i := 0; i+len(pattern) <= len(data); i++ {
		if bytes.Equal(data[i:i+len(pattern)], pattern) {
			for j := 0; j < len(pattern); j++ {
				set[i+j] = true
			}
		}
	}
	return set
}

func writeLine(w io.Writer, line []byte, lineStart int, highlighted map[int]bool, options Options) {
	if options.ShowOffset {
		offset := fmt.Sprintf("%0*x", options.OffsetWidth, options.StartOffset+uint64(lineStart))
		fmt.Fprint(w, coloransi.Foreground(options.OffsetColor, offset), "  ")
	}

	half := options.BytesPerLine / 2
	for i := 0; i < options.BytesPerLine; i++ {
		if i > 0 {
			if options.BytesPerLine >= 8 && i == half {
				fmt.Fprint(w, " | ")
			} else if i%options.GroupSize == 0 {
				fmt.Fprint(w, " ")
			}
		}
		if i >= len(line) {
			fmt.Fprint(w, "  ")
			continue
		}
		fmt.Fprint(w, hexByte(line[i], highlighted[lineStart+i], options))
	}

	if options.ShowASCII {
		fmt.Fprint(w, " | ")
		for i, b := range line {
			fmt.Fprint(w, asciiByte(b, highlighted[lineStart+i], options))
		}
	}

	if options.ShowPointers {
		writePointerNotes(w, line, options.MemoryMap)
	}
	fmt.Fprintln(w)
}

func hexByte(b byte, highlighted bool, options Options) string {
	text := fmt.Sprintf("%02x", b)
	switch {
	case highlighted:
		return coloransi.Color(options.HighlightColor, options.HighlightBackgroundColor, text)
	case b == 0:
		return coloransi.Foreground(options.ZeroColor, text)
	default:
		return coloransi.Foreground(options.HexColor, text)
	}
}

func asciiByte(b byte, highlighted bool, options Options) string {
	switch {
	case highlighted:
		return coloransi.Color(options.HighlightColor, options.HighlightBackgroundColor, string(rune(b)))
	case b == 0:
		return coloransi.Foreground(options.ZeroColor, ".")
	case !unicode.IsPrint(rune(b)):
		return coloransi.Foreground(options.NonPrintableColor, ".")
	default:
		return coloransi.Foreground(options.ASCIIColor, string(rune(b)))
	}
}

// writePointerNotes annotates the line with any of its first two 8-byte
// words that decode to an address inside a mapped region, the usual tell
// for a struct field holding a live pointer.
func writePointerNotes(w io.Writer, line []byte, mm []memory_map.MemoryMapItem) {
	var notes []string
	for _, at := range []int{0, 8} {
		if at+8 > len(line) {
			break
		}
		ptr := binary.LittleEndian.Uint64(line[at : at+8])
		if pointsIntoMap(ptr, mm) {
			notes = append(notes, coloransi.Foreground(coloransi.Yellow, fmt.Sprintf("0x%x", ptr)))
		}
	}
	if len(notes) > 0 {
		fmt.Fprint(w, " | ", strings.Join(notes, " "))
	}
}

func pointsIntoMap(ptr uint64, mm []memory_map.MemoryMapItem) bool {
	for _, item := range mm {
		if ptr >= item.Address && ptr < item.Address+uint64(item.Size) {
			return true
		}
	}
	return false
}
