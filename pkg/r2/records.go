package r2

import (
	"encoding/json"
)

// Function is one entry of `aflj`
type Function struct {
	Name      string            `json:"name"`
	Offset    uint64            `json:"offset"`
	Addr      uint64            `json:"addr"`
	Size      int64             `json:"size"`
	Type      string            `json:"type"`
	NBBs      int               `json:"nbbs"`
	Indegree  int               `json:"indegree"`
	Outdegree int               `json:"outdegree"`
	CallRefs  []Ref             `json:"callrefs"`
	CodeXrefs []Ref             `json:"codexrefs"`
	DataXrefs []json.RawMessage `json:"dataxrefs"`
}

// Address returns the entry address; newer r2 releases renamed offset
// to addr
func (f Function) Address() uint64 {
	if f.Offset != 0 {
		return f.Offset
	}
	return f.Addr
}

// contains reports whether addr lies inside the function body
func (f Function) contains(addr uint64) bool {
	start := f.Address()
	return addr >= start && addr < start+uint64(max(f.Size, 1))
}

// Ref is a code reference. For callrefs Addr is the callee; for codexrefs
// Addr is the referencing instruction.
type Ref struct {
	Addr uint64 `json:"addr"`
	Type string `json:"type"`
	At   uint64 `json:"at"`
}

// StringEntry is one entry of `izj`
type StringEntry struct {
	VAddr   uint64 `json:"vaddr"`
	PAddr   uint64 `json:"paddr"`
	Ordinal int    `json:"ordinal"`
	Size    int    `json:"size"`
	Length  int    `json:"length"`
	Section string `json:"section"`
	Type    string `json:"type"`
	String  string `json:"string"`
}

// Import is one entry of `iij`
type Import struct {
	Ordinal int    `json:"ordinal"`
	Bind    string `json:"bind"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	PLT     uint64 `json:"plt"`
}

// Export is one entry of `iEj`
type Export struct {
	Name     string `json:"name"`
	RealName string `json:"realname"`
	Ordinal  int    `json:"ordinal"`
	Bind     string `json:"bind"`
	Type     string `json:"type"`
	Size     int64  `json:"size"`
	VAddr    uint64 `json:"vaddr"`
	PAddr    uint64 `json:"paddr"`
}

// decodeList parses a JSON array; malformed or empty output yields an
// empty, non-nil slice
func decodeList[T any](out string) ([]T, bool) {
	var items []T
	if err := json.Unmarshal([]byte(out), &items); err != nil || items == nil {
		return []T{}, false
	}
	return items, true
}
