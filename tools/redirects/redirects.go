// Command redirects patches the kernel image so that selected Go runtime
// functions jump to kernel replacements. Replacements are Go functions
// annotated with a go:redirect-from comment naming the runtime symbol
// they replace:
//
//	//go:redirect-from runtime.sysAllocOS
//	func sysAllocOS(size uintptr) unsafe.Pointer
//
// The tool supports the following commands:
//
//	count                 print the number of redirects (used to size the table)
//	list                  print each redirect as "src -> dst"
//	populate-table IMAGE  resolve the redirect symbols in IMAGE and write
//	                      their addresses to its .goredirectstbl section
package main

import (
	"bufio"
	"debug/elf"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	redirectDirective    = "//go:redirect-from"
	redirectTableSection = ".goredirectstbl"
)

var (
	errMissingModule = errors.New("go.mod does not declare a module path")
	errNoKernelDir   = errors.New("this tool must be run from the module root folder")
)

type redirect struct {
	src string
	dst string

	srcVMA uint64
	dstVMA uint64
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[redirects] error: %s\n", err.Error())
	os.Exit(1)
}

// modulePath returns the module path declared by the go.mod file at path.
func modulePath(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == "module" {
			return strings.Trim(fields[1], `"`), nil
		}
	}

	if err = scanner.Err(); err != nil {
		return "", err
	}

	return "", errMissingModule
}

// collectGoFiles returns the non-test Go files below root.
func collectGoFiles(root string) ([]string, error) {
	var goFiles []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		if filepath.Ext(path) == ".go" && !strings.HasSuffix(path, "_test.go") {
			goFiles = append(goFiles, path)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return goFiles, nil
}

// findRedirects parses goFiles and returns a redirect for each function
// annotated with the go:redirect-from directive. The destination symbol is
// qualified with the package import path derived from module.
func findRedirects(module string, goFiles []string) ([]*redirect, error) {
	var redirects []*redirect

	for _, goFile := range goFiles {
		fset := token.NewFileSet()

		f, err := parser.ParseFile(fset, goFile, nil, parser.ParseComments)
		if err != nil {
			return nil, fmt.Errorf("%s: %s", goFile, err)
		}

		pkgPath := module + "/" + filepath.ToSlash(filepath.Dir(goFile))
		for _, decl := range f.Decls {
			fnDecl, ok := decl.(*ast.FuncDecl)
			if !ok || fnDecl.Doc == nil || fnDecl.Recv != nil {
				continue
			}

			for _, comment := range fnDecl.Doc.List {
				if !strings.HasPrefix(comment.Text, redirectDirective) {
					continue
				}

				fqName := pkgPath + "." + fnDecl.Name.Name
				fields := strings.Fields(comment.Text)
				if len(fields) != 2 || fields[0] != redirectDirective {
					return nil, fmt.Errorf("%s: malformed go:redirect-from syntax for %q", fset.Position(comment.Pos()), fqName)
				}

				redirects = append(redirects, &redirect{
					src: fields[1],
					dst: fqName,
				})
			}
		}
	}

	return redirects, nil
}

// resolveSymbols fills in the addresses of the redirect endpoints using
// the symbol table of the kernel image.
func resolveSymbols(redirects []*redirect, symbols []elf.Symbol) error {
	for _, redirect := range redirects {
		for _, symbol := range symbols {
			switch symbol.Name {
			case redirect.src:
				redirect.srcVMA = symbol.Value
			case redirect.dst:
				redirect.dstVMA = symbol.Value
			}
		}

		switch {
		case redirect.srcVMA == 0:
			return fmt.Errorf("could not locate address of %q", redirect.src)
		case redirect.dstVMA == 0:
			return fmt.Errorf("could not locate address of %q", redirect.dst)
		}
	}

	return nil
}

// writeTable emits the redirect table as little-endian (src, dst) address
// pairs.
func writeTable(w io.Writer, redirects []*redirect) error {
	for _, redirect := range redirects {
		if err := binary.Write(w, binary.LittleEndian, [2]uint64{redirect.srcVMA, redirect.dstVMA}); err != nil {
			return err
		}
	}

	return nil
}

func populateTable(redirects []*redirect, imgFile string) error {
	img, err := elf.Open(imgFile)
	if err != nil {
		return err
	}

	symbols, err := img.Symbols()
	if err != nil {
		img.Close()
		return err
	}

	section := img.Section(redirectTableSection)
	img.Close()
	if section == nil {
		return fmt.Errorf("%s: missing %s section", imgFile, redirectTableSection)
	}

	if err = resolveSymbols(redirects, symbols); err != nil {
		return fmt.Errorf("%s: %s", imgFile, err)
	}

	if need := uint64(len(redirects)) * 16; need > section.Size {
		return fmt.Errorf("%s: %s section holds %d bytes; %d required", imgFile, redirectTableSection, section.Size, need)
	}

	f, err := os.OpenFile(imgFile, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err = f.Seek(int64(section.Offset), io.SeekStart); err != nil {
		return err
	}

	return writeTable(f, redirects)
}

func main() {
	kernelDir := flag.String("kernel-dir", "kernel", "folder to scan for go:redirect-from directives")
	flag.Parse()

	if info, err := os.Stat(*kernelDir); err != nil || !info.IsDir() {
		exit(errNoKernelDir)
	}

	if len(flag.Args()) == 0 {
		exit(errors.New("missing command"))
	}

	cmd := flag.Arg(0)
	switch cmd {
	case "count", "list":
	case "populate-table":
		if len(flag.Args()) != 2 {
			exit(errors.New("populate-table requires the path to the kernel image as an argument"))
		}
	default:
		exit(fmt.Errorf("unknown command %q", cmd))
	}

	module, err := modulePath("go.mod")
	if err != nil {
		exit(err)
	}

	goFiles, err := collectGoFiles(*kernelDir)
	if err != nil {
		exit(err)
	}

	redirects, err := findRedirects(module, goFiles)
	if err != nil {
		exit(err)
	}

	switch cmd {
	case "count":
		fmt.Printf("%d", len(redirects))
	case "list":
		for _, redirect := range redirects {
			fmt.Printf("%s -> %s\n", redirect.src, redirect.dst)
		}
	case "populate-table":
		if err = populateTable(redirects, flag.Arg(1)); err != nil {
			exit(err)
		}
	}
}
