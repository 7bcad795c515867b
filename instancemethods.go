// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import "github.com/readytorun/r2rdump/internal/ecma335"

// Instance-method entrypoint flag bits (§4.8).
const (
	instFlagHasOwningType       = 0x01
	instFlagMethodInstantiation = 0x02
	instFlagSlotInsteadOfToken  = 0x04
	instFlagMemberRefToken      = 0x08
	instFlagConstrained         = 0x10
)

// parseInstanceMethodEntrypoints implements spec.md §4.8: walks
// INSTANCE_METHOD_ENTRYPOINTS as a NativeHashtable, decoding the generic
// instantiation shape of each entry.
func (r *Reader) parseInstanceMethodEntrypoints(ctx headerContext) error {
	sec, ok := ctx.header.Section(SectionInstanceMethodEntryPoints)
	if !ok {
		return nil
	}
	off, err := r.img.RVAToOffset(sec.RVA)
	if err != nil {
		return newError(BadImage, "InstanceMethodEntryPoints offset", err)
	}
	table, err := NewNativeHashtable(r.img, off, sec.Size)
	if err != nil {
		return newError(BadImage, "InstanceMethodEntryPoints table", err)
	}

	return table.EnumerateAll(func(e HashEntry) error {
		im, err := r.decodeInstanceMethod(ctx, e)
		if err != nil {
			if err == errSlotInsteadOfToken {
				return newError(NotImplemented, "SlotInsteadOfToken", ErrSlotInsteadOfToken)
			}
			// Per-entry decode error: log it and keep enumerating, rather
			// than letting one malformed bucket entry mask every other
			// entry's own error (or hide behind whichever entry fails last).
			r.logger.Warnf("instance method entry (bucket %d): %v", e.LowHash, err)
			return nil
		}
		r.instanceMethods = append(r.instanceMethods, im)
		return nil
	})
}

var errSlotInsteadOfToken = newError(NotImplemented, "SlotInsteadOfToken", ErrSlotInsteadOfToken)

func (r *Reader) decodeInstanceMethod(ctx headerContext, entry HashEntry) (InstanceMethod, error) {
	var im InstanceMethod
	c := newCursor(r.img, entry.PayloadOffset)

	flags, err := c.u32()
	if err != nil {
		return im, err
	}

	meta := ctx.meta
	if flags&instFlagHasOwningType != 0 {
		name, newMeta, err := r.decodeTypeSignature(c, meta)
		if err != nil {
			return im, err
		}
		im.OwningType = name
		im.HasOwningType = true
		meta = newMeta
	}

	if flags&instFlagSlotInsteadOfToken != 0 {
		return im, errSlotInsteadOfToken
	}

	rid, err := c.unsigned()
	if err != nil {
		return im, err
	}
	isMemberRef := flags&instFlagMemberRefToken != 0
	im.Handle = ecma335.MethodHandle{IsMemberRef: isMemberRef, RID: rid}
	im.Reader = meta

	if flags&instFlagMethodInstantiation != 0 {
		n, err := c.unsigned()
		if err != nil {
			return im, err
		}
		im.TypeArgs = make([]string, 0, n)
		for i := uint32(0); i < n; i++ {
			arg, _, err := r.decodeTypeSignature(c, meta)
			if err != nil {
				return im, err
			}
			im.TypeArgs = append(im.TypeArgs, arg)
		}
	}

	if flags&instFlagConstrained != 0 {
		constrained, _, err := r.decodeTypeSignature(c, meta)
		if err != nil {
			return im, err
		}
		im.ConstrainedType = constrained
		im.HasConstrainedType = true
	}

	entryID, fixupOff, hasFixup, err := decodeMethodEntrypoint(c)
	if err != nil {
		return im, err
	}
	im.EntryRuntimeFunctionID = entryID
	im.FixupOffset = fixupOff
	im.HasFixup = hasFixup
	im.Bucket = entry.LowHash
	_ = r.markEntryPoint(entryID, false) // non-fatal on this path, per §9

	return im, nil
}

// decodeTypeSignature reads one type-argument/owning-type/constrained-type
// signature: an optional 1-based module-override assembly-reference index
// (present when the first decoded unsigned's low bit is set), followed by a
// TypeDefOrRef coded index identifying the type itself. Composite images
// with no override fall back to System.Private.CoreLib's metadata, per
// §4.8 step 2.
func (r *Reader) decodeTypeSignature(c *cursor, meta *ecma335.Reader) (string, *ecma335.Reader, error) {
	marker, err := c.unsigned()
	if err != nil {
		return "", meta, err
	}
	activeMeta := meta
	if marker&1 != 0 {
		refIdx := int(marker >> 1)
		resolved, err := r.resolveReferenceAssembly(refIdx, "")
		if err == nil && resolved != nil {
			activeMeta = resolved
		} else if r.composite {
			if coreLib, cerr := r.resolveCoreLib(""); cerr == nil {
				activeMeta = coreLib
			}
		}
	} else if activeMeta == nil && r.composite {
		if coreLib, cerr := r.resolveCoreLib(""); cerr == nil {
			activeMeta = coreLib
		}
	}

	coded, err := c.unsigned()
	if err != nil {
		return "", activeMeta, err
	}
	if activeMeta == nil {
		return "", activeMeta, nil
	}
	name, err := activeMeta.FormatTypeDefOrRef(coded)
	if err != nil {
		return "", activeMeta, err
	}
	return name, activeMeta, nil
}
