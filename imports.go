// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import "fmt"

// Import-section fixup kinds recognized by resolveImportSignature. These are
// a subset of CoreCLR's ReadyToRunFixupKind enumeration: the handful that
// dominate real-world import cells (type and method handles, string
// literals, and the stub-dispatch helper kinds), decoded in the teacher's
// manner of a small closed switch rather than an exhaustive transcription.
const (
	fixupKindTypeHandle = 0x10
	fixupKindMethodEntry = 0x1c
	fixupKindStringHandle = 0x32
	fixupKindHelper       = 0x01
)

func (r *Reader) ensureImports() error {
	r.importsOnce.Do(func() {
		sec, ok := r.header.Section(SectionImportSections)
		if !ok {
			return
		}
		base, err := r.img.RVAToOffset(sec.RVA)
		if err != nil {
			r.importsErr = newError(BadImage, "ImportSections offset", err)
			return
		}
		const recordSize = 4 + 4 + 2 + 1 + 1 + 4 + 4 // RVA,Size,Flags,Type,EntrySize,SigTableRVA,AuxDataRVA
		count := sec.Size / recordSize

		r.importCellNames = make(map[uint32]string)
		r.importSections = make([]ImportSection, 0, count)

		for i := uint32(0); i < count; i++ {
			isec, err := r.readImportSectionRecord(base + i*recordSize)
			if err != nil {
				r.importsErr = err
				return
			}
			if err := r.readImportSectionEntries(&isec); err != nil {
				r.importsErr = err
				return
			}
			r.importSections = append(r.importSections, isec)
		}
	})
	return r.importsErr
}

func (r *Reader) readImportSectionRecord(off uint32) (ImportSection, error) {
	var isec ImportSection
	c := newCursor(r.img, off)

	rva, err := c.u32()
	if err != nil {
		return isec, newError(BadImage, "import section RVA", err)
	}
	size, err := c.u32()
	if err != nil {
		return isec, newError(BadImage, "import section size", err)
	}
	flags, err := c.u16()
	if err != nil {
		return isec, newError(BadImage, "import section flags", err)
	}
	typ, err := c.u8()
	if err != nil {
		return isec, newError(BadImage, "import section type", err)
	}
	entrySize, err := c.u8()
	if err != nil {
		return isec, newError(BadImage, "import section entry size", err)
	}
	sigTableRVA, err := c.u32()
	if err != nil {
		return isec, newError(BadImage, "import section sig table RVA", err)
	}
	auxRVA, err := c.u32()
	if err != nil {
		return isec, newError(BadImage, "import section aux RVA", err)
	}

	isec.RVA = rva
	isec.Size = size
	isec.Flags = flags
	isec.Type = typ
	isec.EntrySize = entrySize
	isec.SigTableRVA = sigTableRVA
	if auxRVA != 0 {
		isec.AuxDataRVA = auxRVA
		isec.HasAuxData = true
	}

	if isec.EntrySize == 0 {
		switch r.class.class {
		case X86, Arm32:
			isec.EntrySize = 4
		case X64, Arm64:
			isec.EntrySize = 8
		default:
			return isec, newError(BadImage, "import section entry size", ErrInvalidMachine)
		}
	}
	return isec, nil
}

func (r *Reader) readImportSectionEntries(isec *ImportSection) error {
	if isec.Size == 0 || isec.EntrySize == 0 {
		return nil
	}
	n := isec.Size / uint32(isec.EntrySize)
	base, err := r.img.RVAToOffset(isec.RVA)
	if err != nil {
		return newError(BadImage, "import section cells offset", err)
	}
	sigBase, err := r.img.RVAToOffset(isec.SigTableRVA)
	if err != nil && isec.SigTableRVA != 0 {
		return newError(BadImage, "import section signature table offset", err)
	}

	isec.Entries = make([]ImportCell, 0, n)
	for i := uint32(0); i < n; i++ {
		cellOff := base + i*uint32(isec.EntrySize)
		var cellValue int64
		switch isec.EntrySize {
		case 4:
			v, err := newCursor(r.img, cellOff).u32()
			if err != nil {
				return newError(BadImage, "import cell value", err)
			}
			cellValue = int64(v)
		default:
			v, err := newCursor(r.img, cellOff).i64()
			if err != nil {
				return newError(BadImage, "import cell value", err)
			}
			cellValue = v
		}

		var sigRVA uint32
		var name string
		if isec.SigTableRVA != 0 {
			sc := newCursor(r.img, sigBase+i*4)
			rva, err := sc.u32()
			if err != nil {
				return newError(BadImage, "import cell signature RVA", err)
			}
			sigRVA = rva
			name, err = r.resolveImportSignature(sigRVA)
			if err != nil {
				r.logger.Warnf("import cell %d signature: %v", i, err)
			}
		}

		cell := ImportCell{
			Index:  i,
			Offset: i * uint32(isec.EntrySize),
			RVA:    isec.RVA + i*uint32(isec.EntrySize),
			Value:  cellValue,
			SigRVA: sigRVA,
			Name:   name,
		}
		isec.Entries = append(isec.Entries, cell)
		r.importCellNames[cell.RVA] = cell.Name
	}
	return nil
}

// resolveImportSignature decodes the R2R fixup signature at sigRVA into a
// symbolic name. Only the handful of fixup kinds that name a type, method,
// or string literal are rendered in full; anything else falls back to a
// short hex tag, since the complete ReadyToRunFixupKind space is far larger
// than what this module's scope (§1 Non-goals) calls for.
func (r *Reader) resolveImportSignature(sigRVA uint32) (string, error) {
	off, err := r.img.RVAToOffset(sigRVA)
	if err != nil {
		return "", err
	}
	c := newCursor(r.img, off)
	kind, err := c.u8()
	if err != nil {
		return "", err
	}

	switch kind &^ 0x40 { // the module-override flag bit is cleared; no override index is read
	case fixupKindTypeHandle:
		name, _, err := r.decodeTypeSignature(c, r.primaryMeta)
		if err != nil {
			return "", err
		}
		return name, nil
	case fixupKindMethodEntry:
		name, _, err := r.decodeTypeSignature(c, r.primaryMeta)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s::<method>", name), nil
	case fixupKindStringHandle:
		rid, err := c.unsigned()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("string#%d", rid), nil
	case fixupKindHelper:
		helperID, err := c.unsigned()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("helper#%d", helperID), nil
	default:
		return fmt.Sprintf("fixup(kind=0x%02x)", kind), nil
	}
}

// ImportSections returns the parsed IMPORT_SECTIONS directory, in table
// order.
func (r *Reader) ImportSections() ([]ImportSection, error) {
	if err := r.ensureImports(); err != nil {
		return nil, err
	}
	return r.importSections, nil
}

// ImportCellName returns the symbolic name resolved for the import cell at
// image RVA rva, if one was decoded.
func (r *Reader) ImportCellName(rva uint32) (string, bool) {
	if err := r.ensureImports(); err != nil {
		return "", false
	}
	name, ok := r.importCellNames[rva]
	return name, ok
}
