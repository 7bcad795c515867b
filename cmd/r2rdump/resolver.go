// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/readytorun/r2rdump/internal/ecma335"
	"github.com/readytorun/r2rdump/internal/pefile"
	"github.com/xyproto/env/v2"
)

// FileSystemResolver is the CLI's AssemblyResolver: it looks for
// "<SimpleName>.dll" next to the referring assembly. For
// System.Private.CoreLib, when $R2RDUMP_CORELIB_PATH (or an explicit
// --corelib flag) is set, that path is loaded instead and the sibling
// lookup is skipped.
type FileSystemResolver struct {
	CoreLibPath string

	mu     sync.Mutex
	cache  map[string]*ecma335.Reader
	opened []*pefile.File
}

// NewFileSystemResolver builds a resolver whose CoreLibPath defaults to
// $R2RDUMP_CORELIB_PATH when corelibFlag is empty.
func NewFileSystemResolver(corelibFlag string) *FileSystemResolver {
	path := corelibFlag
	if path == "" {
		path = env.Str("R2RDUMP_CORELIB_PATH", "")
	}
	return &FileSystemResolver{
		CoreLibPath: path,
		cache:       make(map[string]*ecma335.Reader),
	}
}

func (f *FileSystemResolver) FindAssembly(simpleName, referrerPath string) (*ecma335.Reader, error) {
	if simpleName == "System.Private.CoreLib" && f.CoreLibPath != "" {
		return f.load(f.CoreLibPath)
	}
	dir := filepath.Dir(referrerPath)
	candidate := filepath.Join(dir, simpleName+".dll")
	if _, err := os.Stat(candidate); err != nil {
		return nil, err
	}
	return f.load(candidate)
}

func (f *FileSystemResolver) FindAssemblyRef(referrer *ecma335.Reader, ref ecma335.AssemblyRefRow, referrerPath string) (*ecma335.Reader, error) {
	name, err := referrer.String(ref.Name)
	if err != nil {
		return nil, err
	}
	return f.FindAssembly(strings.TrimSpace(name), referrerPath)
}

func (f *FileSystemResolver) load(path string) (*ecma335.Reader, error) {
	f.mu.Lock()
	if cached, ok := f.cache[path]; ok {
		f.mu.Unlock()
		return cached, nil
	}
	f.mu.Unlock()

	img, err := pefile.Open(path, nil)
	if err != nil {
		return nil, err
	}
	// img is intentionally kept mapped for the resolver's lifetime: the
	// returned Reader's heaps are slices into img's mmap, not copies.

	cor20 := img.COR20
	if cor20 == nil {
		return nil, os.ErrNotExist
	}
	reader, err := ecma335.NewReader(img, cor20.MetaData.VirtualAddress, cor20.MetaData.Size)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.cache[path] = reader
	f.opened = append(f.opened, img)
	f.mu.Unlock()
	return reader, nil
}

// Close releases every assembly image this resolver has opened.
func (f *FileSystemResolver) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, img := range f.opened {
		img.Close()
	}
	f.opened = nil
}
