package vm

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// DebugLineEntry is one <code_address, source_line> pair from a sidecar
// debug table.
type DebugLineEntry struct {
	Address uint32
	Line    int
}

// DebugLineTable maps bytecode addresses to source line numbers, loaded from
// the sidecar described in spec §4.E / §6. The table is advisory: absence or
// malformation of the sidecar is never fatal to the VM.
type DebugLineTable struct {
	entries []DebugLineEntry
}

// sidecarPath derives the debug sidecar path from a bytecode image path by
// replacing its extension with ".dbg" (or appending it if there is none),
// matching the original loader's load_debug_info exactly.
func sidecarPath(imagePath string) string {
	if dot := strings.LastIndex(imagePath, "."); dot >= 0 && dot > strings.LastIndexByte(imagePath, '/') {
		return imagePath[:dot] + ".dbg"
	}
	return imagePath + ".dbg"
}

// LoadDebugTable loads the sidecar next to imagePath. A missing or
// unreadable sidecar yields an empty, usable table and no error: the table
// is advisory (spec §4.E).
func LoadDebugTable(imagePath string) *DebugLineTable {
	table := &DebugLineTable{}

	f, err := os.Open(sidecarPath(imagePath))
	if err != nil {
		return table
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	loaded := 0
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue // malformed line, skip
		}
		addr, err1 := strconv.ParseUint(fields[0], 10, 32)
		line, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			continue
		}
		table.entries = append(table.entries, DebugLineEntry{Address: uint32(addr), Line: line})
		loaded++
	}

	if loaded > 0 {
		log.Debug().Str("sidecar", sidecarPath(imagePath)).Int("entries", loaded).Msg("loaded debug line table")
	}
	return table
}

// Lookup returns the source line of the last entry whose address is <= pc,
// or -1 if none (spec §4.E). Entries are assumed sorted ascending by
// address, as the sidecar format requires.
func (t *DebugLineTable) Lookup(pc uint32) int {
	best := -1
	for _, e := range t.entries {
		if e.Address <= pc {
			best = e.Line
		} else {
			break
		}
	}
	return best
}
