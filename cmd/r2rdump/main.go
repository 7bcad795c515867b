// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	r2r "github.com/readytorun/r2rdump"
	"github.com/spf13/cobra"
)

var (
	wantAll             bool
	wantSections        bool
	wantMethods         bool
	wantInstanceMethods bool
	wantRuntimeFuncs    bool
	wantImports         bool
	wantTypes           bool
	wantManifest        bool
	wantCompiler        bool
	wantExceptions      bool
	wantDebug           bool
	corelibPath         string
)

func isDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func dumpOne(path string, cmd *cobra.Command) {
	resolver := NewFileSystemResolver(corelibPath)
	defer resolver.Close()

	reader, err := r2r.Open(path, &r2r.Options{Resolver: resolver})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		return
	}
	defer reader.Close()

	fmt.Printf("== %s ==\n", path)
	fmt.Printf("machine=%s os=%s composite=%v\n", reader.Architecture(), reader.OperatingSystem(), reader.Composite())

	if wantSections || wantAll {
		for t, s := range reader.ReadyToRunHeader().Sections {
			fmt.Printf("section %d: rva=0x%x size=0x%x\n", t, s.RVA, s.Size)
		}
	}
	if wantMethods || wantAll {
		methods, err := reader.Methods()
		if err != nil {
			fmt.Fprintf(os.Stderr, "methods: %v\n", err)
		}
		for _, m := range methods {
			fmt.Printf("method rid=%d entry=%d\n", m.Handle.RID, m.EntryRuntimeFunctionID)
		}
	}
	if wantInstanceMethods || wantAll {
		instances, err := reader.InstanceMethods()
		if err != nil {
			fmt.Fprintf(os.Stderr, "instance methods: %v\n", err)
		}
		for _, m := range instances {
			fmt.Printf("instance method owner=%s entry=%d\n", m.OwningType, m.EntryRuntimeFunctionID)
		}
	}
	if wantRuntimeFuncs || wantAll {
		funcs, err := reader.RuntimeFunctions()
		if err != nil {
			fmt.Fprintf(os.Stderr, "runtime functions: %v\n", err)
		}
		fmt.Printf("runtime functions: %d\n", len(funcs))
	}
	if wantImports || wantAll {
		sections, err := reader.ImportSections()
		if err != nil {
			fmt.Fprintf(os.Stderr, "imports: %v\n", err)
		}
		for _, s := range sections {
			for _, c := range s.Entries {
				fmt.Printf("import cell rva=0x%x name=%s\n", c.RVA, c.Name)
			}
		}
	}
	if wantTypes || wantAll {
		types, err := reader.AvailableTypes()
		if err != nil {
			fmt.Fprintf(os.Stderr, "types: %v\n", err)
		}
		for _, t := range types {
			fmt.Println(t)
		}
	}
	if wantManifest || wantAll {
		refs, err := reader.ManifestReferenceAssemblies()
		if err != nil {
			fmt.Fprintf(os.Stderr, "manifest: %v\n", err)
		}
		for _, n := range refs {
			fmt.Println(n)
		}
	}
	if wantCompiler || wantAll {
		id, err := reader.CompilerIdentifier()
		if err != nil {
			fmt.Fprintf(os.Stderr, "compiler: %v\n", err)
		}
		fmt.Println(id)
	}
	if wantExceptions || wantAll {
		funcs, err := reader.RuntimeFunctions()
		if err == nil {
			for _, rf := range funcs {
				if info, ok, _ := reader.ExceptionInfoFor(rf.StartRVA); ok {
					fmt.Printf("eh method=0x%x clauses=%d\n", rf.StartRVA, info.ClauseCount)
				}
			}
		}
	}
	if wantDebug || wantAll {
		funcs, err := reader.RuntimeFunctions()
		if err == nil {
			for _, rf := range funcs {
				if off, ok, _ := reader.DebugInfoOffset(rf.ID); ok {
					fmt.Printf("debug info id=%d offset=0x%x\n", rf.ID, off)
				}
			}
		}
	}
}

func dump(cmd *cobra.Command, args []string) {
	target := args[0]
	if !isDirectory(target) {
		dumpOne(target, cmd)
		return
	}
	filepath.Walk(target, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			dumpOne(path, cmd)
		}
		return nil
	})
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "r2rdump",
		Short: "A ReadyToRun (R2R) image parser",
		Long:  "Parses ReadyToRun native code images embedded in .NET PE assemblies",
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("r2rdump version 0.1.0")
		},
	}

	dumpCmd := &cobra.Command{
		Use:   "dump <path>",
		Short: "Dumps the ReadyToRun structures of a file or directory",
		Args:  cobra.MinimumNArgs(1),
		Run:   dump,
	}
	dumpCmd.Flags().BoolVar(&wantAll, "all", false, "dump everything")
	dumpCmd.Flags().BoolVar(&wantSections, "sections", false, "dump the R2R section directory")
	dumpCmd.Flags().BoolVar(&wantMethods, "methods", false, "dump MethodDef entrypoints")
	dumpCmd.Flags().BoolVar(&wantInstanceMethods, "instance-methods", false, "dump generic instance-method entrypoints")
	dumpCmd.Flags().BoolVar(&wantRuntimeFuncs, "runtime-functions", false, "dump the runtime-function table")
	dumpCmd.Flags().BoolVar(&wantImports, "imports", false, "dump import sections")
	dumpCmd.Flags().BoolVar(&wantTypes, "types", false, "dump available types")
	dumpCmd.Flags().BoolVar(&wantManifest, "manifest", false, "dump manifest reference assemblies")
	dumpCmd.Flags().BoolVar(&wantCompiler, "compiler", false, "dump the compiler identifier")
	dumpCmd.Flags().BoolVar(&wantExceptions, "exceptions", false, "dump exception-handling info")
	dumpCmd.Flags().BoolVar(&wantDebug, "debug", false, "dump debug info offsets")
	dumpCmd.Flags().StringVar(&corelibPath, "corelib", "", "path to System.Private.CoreLib.dll (defaults to $R2RDUMP_CORELIB_PATH)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dumpCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
