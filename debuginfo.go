// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

func (r *Reader) ensureDebugInfo() error {
	r.debugOnce.Do(func() {
		sec, ok := r.header.Section(SectionDebugInfo)
		if !ok {
			return
		}
		off, err := r.img.RVAToOffset(sec.RVA)
		if err != nil {
			r.debugErr = newError(BadImage, "DebugInfo offset", err)
			return
		}
		arr, err := NewNativeArray(r.img, off)
		if err != nil {
			r.debugErr = newError(BadImage, "DebugInfo array", err)
			return
		}

		r.debugInfo = make(map[uint32]uint32)
		n := arr.Count()
		for i := uint32(0); i < n; i++ {
			payloadOff, present, err := arr.TryGetAt(i)
			if err != nil {
				r.debugErr = newError(BadImage, "DebugInfo entry", err)
				return
			}
			if !present {
				continue
			}
			r.debugInfo[i] = payloadOff
		}
	})
	return r.debugErr
}

// DebugInfoOffset returns the file offset of runtime-function entryID's
// per-function debug data blob, if DEBUG_INFO carries an entry for it. The
// blob's own variable-length encoding (bound/native-to-IL mappings, live
// variable ranges) is left to an external decoder, per spec.md §4.14.
func (r *Reader) DebugInfoOffset(entryID uint32) (uint32, bool, error) {
	if err := r.ensureDebugInfo(); err != nil {
		return 0, false, err
	}
	off, ok := r.debugInfo[entryID]
	return off, ok, nil
}
