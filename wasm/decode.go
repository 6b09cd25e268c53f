package wasm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Parsing errors returned by the section scanner.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// IsModule reports whether data starts with the core module magic number.
func IsModule(data []byte) bool {
	return len(data) >= 4 && binary.LittleEndian.Uint32(data[0:4]) == Magic
}

// ReadCustomSections scans a binary module and returns its custom sections
// in order of appearance. Non-custom sections are size-skipped, not decoded,
// so the scanner works on any well-formed core module regardless of which
// proposals its other sections use.
func ReadCustomSections(data []byte) ([]CustomSection, error) {
	r := bytes.NewReader(data)

	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != Magic {
		return nil, ErrInvalidMagic
	}
	if binary.LittleEndian.Uint32(hdr[4:8]) != Version {
		return nil, ErrInvalidVersion
	}

	var sections []CustomSection
	for {
		sectionID, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("section header: %w", err)
		}

		sectionSize, err := ReadLEB128u(r)
		if err != nil {
			return nil, fmt.Errorf("section size: %w", err)
		}
		if uint64(sectionSize) > uint64(r.Len()) {
			return nil, fmt.Errorf("section 0x%02x: size %d exceeds remaining %d bytes", sectionID, sectionSize, r.Len())
		}

		sectionData := make([]byte, sectionSize)
		if _, err := io.ReadFull(r, sectionData); err != nil {
			return nil, fmt.Errorf("section data: %w", err)
		}

		if sectionID != SectionCustom {
			continue
		}

		sr := bytes.NewReader(sectionData)
		nameLen, err := ReadLEB128u(sr)
		if err != nil {
			return nil, fmt.Errorf("custom section name length: %w", err)
		}
		if uint64(nameLen) > uint64(sr.Len()) {
			return nil, fmt.Errorf("custom section name length %d exceeds section size", nameLen)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(sr, name); err != nil {
			return nil, fmt.Errorf("custom section name: %w", err)
		}
		payload := make([]byte, sr.Len())
		if _, err := io.ReadFull(sr, payload); err != nil {
			return nil, fmt.Errorf("custom section payload: %w", err)
		}

		sections = append(sections, CustomSection{Name: string(name), Data: payload})
	}

	return sections, nil
}

// CustomSectionByName returns the first custom section with the given name.
func CustomSectionByName(data []byte, name string) ([]byte, bool, error) {
	sections, err := ReadCustomSections(data)
	if err != nil {
		return nil, false, err
	}
	for _, cs := range sections {
		if cs.Name == name {
			return cs.Data, true, nil
		}
	}
	return nil, false, nil
}
