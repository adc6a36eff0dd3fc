// Command sysgen regenerates two build-time tables from this module's
// own source: uapi's CONF_KERNEL_VERSION constants (parsed out of
// go.mod) and defs's syscall_no -> name table (parsed out of uapi's
// dispatch-table initializer). It's invoked by the go:generate directive
// in uapi/version.go, which runs it from the module root, rather than
// run by hand.
package main

import (
	"fmt"
	"go/ast"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/mod/modfile"
	"golang.org/x/tools/go/packages"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	modBytes, err := os.ReadFile("go.mod")
	if err != nil {
		return fmt.Errorf("reading go.mod: %w", err)
	}
	mf, err := modfile.Parse("go.mod", modBytes, nil)
	if err != nil {
		return fmt.Errorf("parsing go.mod: %w", err)
	}
	if err := writeVersionFile(mf); err != nil {
		return err
	}

	names, err := loadSyscallNames()
	if err != nil {
		return fmt.Errorf("loading syscall table: %w", err)
	}
	return writeSyscallNamesFile(names)
}

// writeVersionFile extracts the toolchain's major.minor.patch from
// go.mod's go directive (or its toolchain directive, when present) and
// writes uapi/version_generated.go.
func writeVersionFile(mf *modfile.File) error {
	version := "go0.0.0"
	if mf.Go != nil {
		version = "go" + mf.Go.Version
		if !strings.Contains(mf.Go.Version, ".") {
			version += ".0"
		}
	}
	if mf.Toolchain != nil {
		version = mf.Toolchain.Name
	}

	major, minor, patch := parseVersion(strings.TrimPrefix(version, "go"))
	code := (major << 16) | (minor << 8) | patch

	var b strings.Builder
	fmt.Fprintf(&b, "// Code generated by cmd/sysgen from go.mod; DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package uapi\n\n")
	fmt.Fprintf(&b, "// KernelVersionString is this module's go.mod toolchain version,\n")
	fmt.Fprintf(&b, "// exposed through conf_get(CONF_KERNEL_VERSION).\n")
	fmt.Fprintf(&b, "const KernelVersionString = %q\n\n", version)
	fmt.Fprintf(&b, "// KernelVersionCode packs KernelVersionString's major/minor/patch into\n")
	fmt.Fprintf(&b, "// a single word: (major<<16)|(minor<<8)|patch.\n")
	fmt.Fprintf(&b, "const KernelVersionCode uint64 = %#x\n", code)

	return os.WriteFile("uapi/version_generated.go", []byte(b.String()), 0o644)
}

func parseVersion(v string) (major, minor, patch uint64) {
	parts := strings.SplitN(v, ".", 3)
	get := func(i int) uint64 {
		if i >= len(parts) {
			return 0
		}
		n, _ := strconv.ParseUint(parts[i], 10, 64)
		return n
	}
	return get(0), get(1), get(2)
}

// loadSyscallNames loads the uapi package's AST and finds every
// `Table[defs.SYS_X] = handleY` assignment in its init function,
// returning a map from the defs.SyscallNo identifier to its handler's
// name (used as the human-readable syscall name).
func loadSyscallNames() (map[string]string, error) {
	cfg := &packages.Config{Mode: packages.NeedSyntax | packages.NeedTypes}
	pkgs, err := packages.Load(cfg, "capkern/uapi")
	if err != nil {
		return nil, err
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("package capkern/uapi not found")
	}

	names := make(map[string]string)
	for _, pkg := range pkgs {
		for _, f := range pkg.Syntax {
			ast.Inspect(f, func(n ast.Node) bool {
				assign, ok := n.(*ast.AssignStmt)
				if !ok || len(assign.Lhs) != 1 || len(assign.Rhs) != 1 {
					return true
				}
				idx, ok := assign.Lhs[0].(*ast.IndexExpr)
				if !ok {
					return true
				}
				sel, ok := idx.Index.(*ast.SelectorExpr)
				if !ok || sel.Sel == nil {
					return true
				}
				handler, ok := assign.Rhs[0].(*ast.Ident)
				if !ok {
					return true
				}
				names[sel.Sel.Name] = strings.TrimPrefix(handler.Name, "handle")
				return true
			})
		}
	}
	return names, nil
}

// writeSyscallNamesFile emits defs/syscall_names_generated.go, a dense
// SyscallNo -> name array built from the handler names sysgen found.
func writeSyscallNamesFile(names map[string]string) error {
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "// Code generated by cmd/sysgen from uapi's dispatch table; DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package defs\n\n")
	fmt.Fprintf(&b, "// SyscallNames maps a SyscallNo to its human-readable name, for panic\n")
	fmt.Fprintf(&b, "// messages and diagnostic dumps.\n")
	fmt.Fprintf(&b, "var SyscallNames = [SYS_COUNT]string{\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "\t%s: %q,\n", k, strings.ToLower(names[k]))
	}
	fmt.Fprintf(&b, "}\n")

	return os.WriteFile("defs/syscall_names_generated.go", []byte(b.String()), 0o644)
}
