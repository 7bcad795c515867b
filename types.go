// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

const availableTypeIsExportedType = 1

func (r *Reader) ensureAvailableTypes() error {
	r.typesOnce.Do(func() {
		var contexts []headerContext
		if r.composite {
			for i, comp := range r.components {
				meta, _ := r.componentMetadata(i)
				contexts = append(contexts, headerContext{header: comp.Header, meta: meta})
			}
		} else {
			contexts = append(contexts, headerContext{header: r.header, meta: r.primaryMeta})
		}

		for _, ctx := range contexts {
			if err := r.parseAvailableTypes(ctx); err != nil {
				r.typesErr = err
				return
			}
		}
	})
	return r.typesErr
}

// parseAvailableTypes implements spec.md §4.11.
func (r *Reader) parseAvailableTypes(ctx headerContext) error {
	sec, ok := ctx.header.Section(SectionAvailableTypes)
	if !ok {
		return nil
	}
	off, err := r.img.RVAToOffset(sec.RVA)
	if err != nil {
		return newError(BadImage, "AvailableTypes offset", err)
	}
	table, err := NewNativeHashtable(r.img, off, sec.Size)
	if err != nil {
		return newError(BadImage, "AvailableTypes table", err)
	}

	return table.EnumerateAll(func(e HashEntry) error {
		value, _, err := decodeUnsignedAt(r.img, e.PayloadOffset)
		if err != nil {
			r.logger.Warnf("available type entry: %v", err)
			return nil
		}
		rid := value >> 1
		if ctx.meta == nil {
			return nil
		}

		var name string
		if value&availableTypeIsExportedType != 0 {
			row, err := ctx.meta.ExportedTypeRow(rid)
			if err != nil {
				r.logger.Warnf("available exported type %d: %v", rid, err)
				return nil
			}
			ns, _ := ctx.meta.String(row.TypeNamespace)
			n, err := ctx.meta.String(row.TypeName)
			if err != nil {
				r.logger.Warnf("available exported type %d: %v", rid, err)
				return nil
			}
			if ns != "" {
				name = ns + "." + n
			} else {
				name = n
			}
			name = "exported " + name
		} else {
			name, err = ctx.meta.FormatTypeDefOrRef(rid << 2) // TypeDefOrRef tag 0 = TypeDef
			if err != nil {
				r.logger.Warnf("available type %d: %v", rid, err)
				return nil
			}
		}
		r.availableTypes = append(r.availableTypes, name)
		return nil
	})
}

// AvailableTypes returns the names of every type the AVAILABLE_TYPES
// section(s) advertise, across all components for a composite image.
func (r *Reader) AvailableTypes() ([]string, error) {
	if err := r.ensureAvailableTypes(); err != nil {
		return nil, err
	}
	return r.availableTypes, nil
}
