// Command archcheck fails when a package crosses the layering of the repo:
// the protocol imports nothing internal, the kernel knows no driver, and
// modules only talk to the protocol and to shared helpers.
package main

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"golang.org/x/tools/go/packages"
)

const modulePrefix = "snipebot/"

// layerRule forbids packages under from importing packages under to.
type layerRule struct {
	from string
	to   string
}

var layerRules = []layerRule{
	{from: "pkg/snipebot", to: "internal/"},
	{from: "pkg/snipebot", to: "modules/"},
	{from: "internal/kernel", to: "internal/driver"},
	{from: "internal/", to: "modules/"},
	{from: "modules/", to: "internal/driver"},
	{from: "modules/", to: "internal/kernel"},
	{from: "modules/", to: "internal/config"},
}

func main() {
	loaded, err := packages.Load(&packages.Config{
		Mode:  packages.NeedName | packages.NeedImports,
		Tests: true,
	}, "./...")
	if err != nil {
		fmt.Fprintf(os.Stderr, "arch-check: load packages: %v\n", err)
		os.Exit(1)
	}
	if packages.PrintErrors(loaded) > 0 {
		os.Exit(1)
	}

	violations := collectViolations(loaded)
	if len(violations) == 0 {
		fmt.Println("arch-check: passed")
		return
	}

	fmt.Println("arch-check: architecture violations:")
	for _, violation := range violations {
		fmt.Printf("  - %s\n", violation)
	}
	os.Exit(1)
}

// collectViolations checks every import edge once. Test variants share the
// path of the package under test; external test packages count as it too.
func collectViolations(loaded []*packages.Package) []string {
	var violations []string
	for _, pkg := range loaded {
		if strings.HasSuffix(pkg.PkgPath, ".test") {
			continue
		}
		importer := strings.TrimSuffix(pkg.PkgPath, "_test")
		for imported := range pkg.Imports {
			if reason := violationReason(importer, imported); reason != "" {
				violations = append(violations, fmt.Sprintf("%s -> %s (%s)", importer, imported, reason))
			}
		}
	}
	slices.Sort(violations)

	return slices.Compact(violations)
}

func violationReason(importer, imported string) string {
	importer, ownImporter := strings.CutPrefix(importer, modulePrefix)
	imported, ownImported := strings.CutPrefix(imported, modulePrefix)
	if !ownImporter || !ownImported {
		return ""
	}

	for _, rule := range layerRules {
		if strings.HasPrefix(importer, rule.from) && strings.HasPrefix(imported, rule.to) {
			return fmt.Sprintf("%s must not import %s*", strings.TrimSuffix(rule.from, "/"), rule.to)
		}
	}

	from, fromModule := moduleName(importer)
	to, toModule := moduleName(imported)
	if fromModule && toModule && from != to {
		return "modules must not import each other"
	}

	return ""
}

// moduleName returns the first path element below modules/.
func moduleName(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "modules/")
	if !ok {
		return "", false
	}
	name, _, _ := strings.Cut(rest, "/")

	return name, name != ""
}
