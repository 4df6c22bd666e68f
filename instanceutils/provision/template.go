package provision

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/ruteri/helix-container/instanceutils"
	"github.com/ruteri/helix-container/interfaces"
)

var (
	placeholderPattern = regexp.MustCompile(`REPL_[A-Z0-9_]+`)
	filesysMinPattern  = regexp.MustCompile(`(filesys\.[A-Za-z0-9_]+\.min=)[0-9]+[A-Za-z]*`)
)

// Placeholders returns the substitutions applied to the mkdirs template.
func Placeholders(inst interfaces.Instance, adminPassword string) map[string]string {
	sslPrefix := ""
	if inst.SSL {
		sslPrefix = inst.SSLPrefix
	}
	return map[string]string{
		"REPL_ADMINPASS":    adminPassword,
		"REPL_MASTER_HOST":  inst.MasterHost,
		"REPL_DOMAIN":       inst.Domain,
		"REPL_SSL_PREFIX":   sslPrefix,
		"REPL_INSTANCE":     inst.ID,
		"REPL_PORT":         strconv.Itoa(inst.Port),
		"REPL_SERVICE_USER": inst.ServiceUser,
	}
}

// RenderTemplate substitutes every placeholder in tmpl. Tokens without a value
// are reported with ErrUnresolvedPlaceholder; substituted values are never rescanned.
func RenderTemplate(tmpl string, values map[string]string) (string, error) {
	var unknown []string
	for _, token := range placeholderPattern.FindAllString(tmpl, -1) {
		if _, ok := values[token]; !ok && !slices.Contains(unknown, token) {
			unknown = append(unknown, token)
		}
	}
	if len(unknown) > 0 {
		return "", fmt.Errorf("%w: %s", ErrUnresolvedPlaceholder, strings.Join(unknown, ", "))
	}

	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(token string) string {
		return values[token]
	}), nil
}

// PatchFilesysMin rewrites every filesys.*.min= assignment in a configure script to value.
// It reports whether the script changed.
func PatchFilesysMin(script, value string) (string, bool) {
	out := filesysMinPattern.ReplaceAllString(script, "${1}"+value)
	return out, out != script
}

// patchFile applies PatchFilesysMin to path in place, preserving its mode.
func patchFile(path, value string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	patched, changed := PatchFilesysMin(string(data), value)
	if !changed {
		return false, nil
	}
	return true, instanceutils.WriteFileAtomic(path, []byte(patched), info.Mode().Perm())
}
