package reader

// MemoryView is a window of already-fetched target bytes, tagged with the
// address they came from (needed by the GNU C++11 SSO string decoder's
// self-reference check). Item readers never issue reads themselves for
// in-line data; Sub slices out the part they need.
type MemoryView struct {
	Address uint64
	Data    []byte
}

// Sub returns the size bytes of v starting at offset, still tagged with
// their absolute address.
func (v MemoryView) Sub(offset, size int) MemoryView {
	return MemoryView{Address: v.Address + uint64(offset), Data: v.Data[offset : offset+size]}
}
