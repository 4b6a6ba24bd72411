package app

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/bigbio/sdrf-validate/internal/report"
	"github.com/bigbio/sdrf-validate/internal/schema"
	"github.com/bigbio/sdrf-validate/internal/sdrf"
)

var templateNameRe = regexp.MustCompile(`^sdrf-([\w-]+)\.tsv`)

// TemplateBundles maps template file names (sdrf-<name>.tsv) to bundles.
var TemplateBundles = map[string]string{
	"cell-line":      schema.BundleCellLines,
	"default":        schema.BundleDefault,
	"human":          schema.BundleHuman,
	"nonvertebrates": schema.BundleNonVertebrates,
	"plants":         schema.BundlePlants,
	"vertebrates":    schema.BundleVertebrates,
}

// CheckTemplates compares the header of every template in dir with the columns its
// bundle, the default bundle and the mass spectrometry bundle declare. It reports
// mandatory columns that are absent, columns no bundle declares and optional
// columns that are present, and returns the number of errors found.
func CheckTemplates(dir string, reg *schema.Registry, p *report.Printer) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read template dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	total := 0
	for _, name := range names {
		m := templateNameRe.FindStringSubmatch(name)
		if m == nil {
			p.Line(schema.Error, fmt.Sprintf("Could not parse template file name: %s", name))
			total++
			continue
		}
		bundleName, ok := TemplateBundles[m[1]]
		if !ok {
			p.Line(schema.Warning, fmt.Sprintf("What is this template for? %s", m[1]))
			continue
		}
		header, err := sdrf.ReadHeader(filepath.Join(dir, name))
		if err != nil {
			p.Line(schema.Error, err.Error())
			total++
			continue
		}
		total += checkTemplate(name, header, templateBundles(reg, bundleName), p)
		p.Line(schema.OK, "")
	}
	return total, nil
}

func templateBundles(reg *schema.Registry, name string) []*schema.Bundle {
	var out []*schema.Bundle
	for _, n := range []string{name, schema.BundleDefault, schema.BundleMassSpectrometry} {
		b, ok := reg.Bundle(n)
		if !ok || slices.Contains(out, b) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func checkTemplate(file string, header []string, bundles []*schema.Bundle, p *report.Printer) int {
	fields := make(map[string]string, len(header))
	for _, h := range header {
		fields[strings.ToLower(h)] = h
	}

	errs := 0
	declared := make(map[string]struct{})
	for _, b := range bundles {
		mandatory, optional := b.Columns()
		for _, col := range optional {
			key := strings.ToLower(col)
			declared[key] = struct{}{}
			if _, ok := fields[key]; ok {
				p.Line(schema.Warning, fmt.Sprintf("Optional column %s present in %s!", col, file))
			}
		}
		for _, col := range mandatory {
			key := strings.ToLower(col)
			declared[key] = struct{}{}
			if _, ok := fields[key]; !ok {
				p.Line(schema.Error, fmt.Sprintf("Mandatory column %s absent in %s!", col, file))
				errs++
			}
		}
	}

	var extra []string
	for _, h := range header {
		if _, ok := declared[strings.ToLower(h)]; !ok {
			extra = append(extra, h)
		}
	}
	if len(extra) > 0 {
		p.Line(schema.Error, fmt.Sprintf("Extra columns in %s: %s", file, strings.Join(extra, ", ")))
		errs++
	}
	if errs == 0 {
		p.Line(schema.OK, fmt.Sprintf("All good with %s", file))
	}
	return errs
}
