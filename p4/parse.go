package p4

import (
	"bufio"
	"fmt"
	"strings"
)

// Version is the parsed "Rev." line of p4d -V.
type Version struct {
	Product  string
	Platform string
	Release  string
	Change   string
	Raw      string
}

// String returns the revision string without trailing date.
func (v Version) String() string {
	return strings.Join([]string{v.Product, v.Platform, v.Release, v.Change}, "/")
}

// ParseVersion extracts the revision from p4d -V output, e.g.
//
//	Rev. P4D/LINUX26X86_64/2024.1/2596294 (2024/05/02).
func ParseVersion(output string) (Version, error) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		rest, ok := strings.CutPrefix(line, "Rev. ")
		if !ok {
			continue
		}
		rev, _, _ := strings.Cut(rest, " ")
		parts := strings.Split(strings.TrimSuffix(rev, "."), "/")
		if len(parts) < 4 {
			return Version{}, fmt.Errorf("%w: malformed revision %q", ErrNoVersion, rev)
		}
		return Version{
			Product:  parts[0],
			Platform: parts[1],
			Release:  parts[2],
			Change:   parts[3],
			Raw:      line,
		}, nil
	}
	return Version{}, ErrNoVersion
}

// ParseTagged splits -ztag output into records of "... key value" fields.
// Records are separated by blank lines.
func ParseTagged(output string) []map[string]string {
	var records []map[string]string
	current := map[string]string{}

	flush := func() {
		if len(current) > 0 {
			records = append(records, current)
			current = map[string]string{}
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		field, ok := strings.CutPrefix(line, "... ")
		if !ok {
			continue
		}
		key, value, _ := strings.Cut(field, " ")
		if _, dup := current[key]; dup {
			flush()
		}
		current[key] = value
	}
	flush()
	return records
}
