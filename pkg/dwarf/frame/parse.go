package frame

import (
	"encoding/binary"
	"fmt"
)

// Parse decodes a raw .debug_frame (or .eh_frame, same grammar for our
// purposes) section into a Table of FDEs, sharing CIEs by their section
// offset as the spec requires ("one CIE, replayed by every FDE that
// references it").
func Parse(data []byte, staticBase uint64) (*Table, error) {
	cies := map[uint64]*CIE{}
	var fdes []*FDE

	off := 0
	for off < len(data) {
		start := off
		if off+4 > len(data) {
			break
		}
		length := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		if length == 0 {
			break // zero terminator entry
		}
		if off+int(length) > len(data) {
			return nil, fmt.Errorf("frame: truncated entry at offset %#x", start)
		}
		entry := data[off : off+int(length)]
		entryOff := off
		off += int(length)

		if len(entry) < 4 {
			continue
		}
		cieID := binary.LittleEndian.Uint32(entry[0:4])
		if cieID == 0xffffffff || cieID == 0 {
			// CIE
			cie, err := parseCIE(entry[4:])
			if err != nil {
				return nil, err
			}
			cies[uint64(start)] = cie
		} else {
			// FDE: cieID is the distance back from this field's own offset to
			// the referenced CIE's record start, the .eh_frame convention.
			cieOffset := uint64(entryOff) - uint64(cieID)
			cie, ok := cies[cieOffset]
			if !ok {
				return nil, fmt.Errorf("frame: FDE at %#x references unknown CIE at %#x", entryOff, cieOffset)
			}
			rest := entry[4:]
			if len(rest) < 16 {
				return nil, fmt.Errorf("frame: truncated FDE at %#x", entryOff)
			}
			begin := binary.LittleEndian.Uint64(rest[0:8]) + staticBase
			rng := binary.LittleEndian.Uint64(rest[8:16])
			fdes = append(fdes, &FDE{
				CIE:          cie,
				Begin:        begin,
				End:          begin + rng,
				Instructions: rest[16:],
			})
		}
	}
	return NewTable(fdes), nil
}

func parseCIE(b []byte) (*CIE, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("frame: empty CIE")
	}
	version := b[0]
	i := 1
	var aug []byte
	for i < len(b) && b[i] != 0 {
		aug = append(aug, b[i])
		i++
	}
	i++ // skip nul
	caf, n := uleb(b[i:])
	i += n
	daf, n2 := sleb(b[i:])
	i += n2
	var retReg uint64
	if version == 1 {
		retReg = uint64(b[i])
		i++
	} else {
		retReg, n = uleb(b[i:])
		i += n
	}
	return &CIE{
		Version:               version,
		Augmentation:          string(aug),
		CodeAlignmentFactor:   caf,
		DataAlignmentFactor:   daf,
		ReturnAddressRegister: retReg,
		InitialInstructions:   b[i:],
	}, nil
}
