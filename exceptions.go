// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

// exceptionPairSize is the on-disk size of one (methodRVA, ehInfoRVA) pair.
const exceptionPairSize = 8

func (r *Reader) ensureExceptionInfo() error {
	r.exceptionsOnce.Do(func() {
		sec, ok := r.header.Section(SectionExceptionInfo)
		if !ok {
			return
		}
		base, err := r.img.RVAToOffset(sec.RVA)
		if err != nil {
			r.exceptionsErr = newError(BadImage, "ExceptionInfo offset", err)
			return
		}
		count := sec.Size / exceptionPairSize
		if count == 0 {
			return
		}

		type pair struct{ methodRVA, ehInfoRVA uint32 }
		pairs := make([]pair, 0, count)
		for i := uint32(0); i < count; i++ {
			c := newCursor(r.img, base+i*exceptionPairSize)
			methodRVA, err := c.u32()
			if err != nil {
				r.exceptionsErr = newError(BadImage, "exception info method RVA", err)
				return
			}
			ehInfoRVA, err := c.u32()
			if err != nil {
				r.exceptionsErr = newError(BadImage, "exception info EH RVA", err)
				return
			}
			pairs = append(pairs, pair{methodRVA, ehInfoRVA})
		}

		r.ehInfo = make(map[uint32]EHInfo, len(pairs)-1)
		for i := 0; i < len(pairs)-1; i++ {
			fileOffset, err := r.img.RVAToOffset(pairs[i].ehInfoRVA)
			if err != nil {
				r.exceptionsErr = newError(BadImage, "EH info offset", err)
				return
			}
			span := pairs[i+1].ehInfoRVA - pairs[i].ehInfoRVA
			r.ehInfo[pairs[i].methodRVA] = EHInfo{
				EhInfoRVA:   pairs[i].ehInfoRVA,
				FileOffset:  fileOffset,
				ClauseCount: span / exceptionClauseSize,
			}
		}
	})
	return r.exceptionsErr
}

// ExceptionInfoFor returns the EHInfo for the method starting at methodRVA,
// per spec.md §4.13.
func (r *Reader) ExceptionInfoFor(methodRVA uint32) (EHInfo, bool, error) {
	if err := r.ensureExceptionInfo(); err != nil {
		return EHInfo{}, false, err
	}
	info, ok := r.ehInfo[methodRVA]
	return info, ok, nil
}
