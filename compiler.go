// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

func (r *Reader) ensureCompilerIdentifier() error {
	r.compilerOnce.Do(func() {
		sec, ok := r.header.Section(SectionCompilerIdentifier)
		if !ok {
			return
		}
		off, err := r.img.RVAToOffset(sec.RVA)
		if err != nil {
			r.compilerErr = newError(BadImage, "CompilerIdentifier offset", err)
			return
		}
		size := sec.Size
		if size > 0 {
			size-- // drop the trailing NUL, per spec.md §4.12
		}
		b, err := r.img.ReadBytesAtOffset(off, size)
		if err != nil {
			r.compilerErr = newError(BadImage, "CompilerIdentifier bytes", err)
			return
		}
		r.compilerIdentifier = string(b)
	})
	return r.compilerErr
}

// CompilerIdentifier returns the COMPILER_IDENTIFIER section's text (e.g.
// "crossgen2 7.0.0"), or "" if the image carries no such section.
func (r *Reader) CompilerIdentifier() (string, error) {
	if err := r.ensureCompilerIdentifier(); err != nil {
		return "", err
	}
	return r.compilerIdentifier, nil
}
