// Package patchreport summarizes package manager output captured from a
// patch command.
//
// Parsing is pure post-processing over text. It never decides whether the
// command succeeded; that is the invocation status's job.
package patchreport

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Package is one package listed in a transaction section.
type Package struct {
	// Name is the package token as printed, e.g. "openssl.x86_64" (yum)
	// or "openssl-1:1.0.2k-19.amzn2.x86_64" (dnf).
	Name string `json:"name"`

	// Version is set when yum prints it as a separate column.
	Version string `json:"version,omitempty"`
}

// Report is the summary of one yum or dnf run.
type Report struct {
	Updated   []Package `json:"updated,omitempty"`
	Installed []Package `json:"installed,omitempty"`
	Removed   []Package `json:"removed,omitempty"`

	// NothingToDo is set when the package manager reported no pending updates.
	NothingToDo bool `json:"nothing_to_do"`

	// Complete is set when the transaction reported completion.
	Complete bool `json:"complete"`

	// Planned is the package count from the transaction summary, keyed by
	// action ("Upgrade", "Install", "Remove", ...).
	Planned map[string]int `json:"planned,omitempty"`

	// Lines is the number of lines read.
	Lines int `json:"lines"`
}

// Changed returns how many packages the transaction touched.
func (r *Report) Changed() int {
	return len(r.Updated) + len(r.Installed) + len(r.Removed)
}

type section int

const (
	sectionNone section = iota
	sectionUpdated
	sectionInstalled
	sectionRemoved
)

var sectionHeaders = map[string]section{
	"Updated":                     sectionUpdated,
	"Upgraded":                    sectionUpdated,
	"Dependency Updated":          sectionUpdated,
	"Dependency Upgraded":         sectionUpdated,
	"Installed":                   sectionInstalled,
	"Dependency Installed":        sectionInstalled,
	"Installed Weak Dependencies": sectionInstalled,
	"Replaced":                    sectionRemoved,
	"Removed":                     sectionRemoved,
	"Erased":                      sectionRemoved,
	"Dependency Removed":          sectionRemoved,
	"Obsoleted":                   sectionRemoved,
}

// summaryLine matches transaction summary rows such as "Upgrade  3 Packages".
var summaryLine = regexp.MustCompile(`^(Install|Upgrade|Update|Remove|Erase|Downgrade|Reinstall)\s+(\d+)\s+(?:Package|Packages|Dependent package|Dependent packages)\b`)

// Parse summarizes yum or dnf output.
func Parse(text string) *Report {
	r := &Report{}
	current := sectionNone

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		r.Lines++
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			current = sectionNone
			continue
		case strings.HasPrefix(trimmed, "No packages marked for update"),
			strings.HasPrefix(trimmed, "Nothing to do"):
			r.NothingToDo = true
			current = sectionNone
			continue
		case trimmed == "Complete!":
			r.Complete = true
			current = sectionNone
			continue
		}

		if !indented(line) {
			if s, ok := sectionHeaders[strings.TrimSuffix(trimmed, ":")]; ok && strings.HasSuffix(trimmed, ":") {
				current = s
				continue
			}
			current = sectionNone
			if m := summaryLine.FindStringSubmatch(trimmed); m != nil {
				n, _ := strconv.Atoi(m[2])
				if r.Planned == nil {
					r.Planned = make(map[string]int)
				}
				r.Planned[m[1]] += n
			}
			continue
		}

		if current == sectionNone {
			continue
		}
		pkgs := parsePackages(trimmed)
		switch current {
		case sectionUpdated:
			r.Updated = append(r.Updated, pkgs...)
		case sectionInstalled:
			r.Installed = append(r.Installed, pkgs...)
		case sectionRemoved:
			r.Removed = append(r.Removed, pkgs...)
		}
	}

	return r
}

func indented(line string) bool {
	return line != "" && (line[0] == ' ' || line[0] == '\t')
}

// parsePackages splits a section row into packages. yum prints
// "name.arch version" pairs; dnf prints one NEVRA token per package.
func parsePackages(row string) []Package {
	fields := strings.Fields(row)
	var pkgs []Package
	for i := 0; i < len(fields); i++ {
		p := Package{Name: fields[i]}
		if i+1 < len(fields) && looksLikeVersion(fields[i+1]) {
			p.Version = fields[i+1]
			i++
		}
		pkgs = append(pkgs, p)
	}
	return pkgs
}

// looksLikeVersion reports whether tok is a version column ("1:1.0.2k-19.amzn2", "4.14.35-1").
func looksLikeVersion(tok string) bool {
	return tok != "" && unicode.IsDigit(rune(tok[0]))
}
