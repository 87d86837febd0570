package unitfile

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"
)

// ValidSuffixes are the recognized systemd unit file suffixes
var ValidSuffixes = []string{
	".service",
	".socket",
	".timer",
	".path",
	".target",
	".mount",
	".automount",
	".swap",
	".slice",
	".scope",
	".device",
}

// IsUnitFile returns true if the name has a valid systemd unit suffix
func IsUnitFile(name string) bool {
	ext := filepath.Ext(name)
	for _, valid := range ValidSuffixes {
		if ext == valid {
			return true
		}
	}
	return false
}

// ValidateName checks that name can be used as a unit file name inside the
// unit directory.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("unit name is empty")
	}
	if strings.ContainsRune(name, '/') || name == "." || name == ".." {
		return fmt.Errorf("unit name %q must not contain path separators", name)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("unit name %q must not be hidden", name)
	}
	if !IsUnitFile(name) {
		return fmt.Errorf("unit name %q has no recognized unit suffix (%s)", name, strings.Join(ValidSuffixes, ", "))
	}
	if strings.TrimSuffix(name, filepath.Ext(name)) == "" {
		return fmt.Errorf("unit name %q has an empty prefix", name)
	}
	return nil
}

// Info describes the parts of a unit definition that decide how it is
// activated after being written.
type Info struct {
	// Installable is true when the [Install] section carries an enable
	// directive (WantedBy=, RequiredBy=, UpheldBy=, Alias= or Also=).
	Installable bool
	// Oneshot is true for services declaring Type=oneshot.
	Oneshot bool
}

// Startable returns true if the unit should be (re)started after a change:
// it can be enabled and is not a oneshot job.
func (i Info) Startable() bool {
	return i.Installable && !i.Oneshot
}

var enableDirectives = map[string]bool{
	"wantedby":   true,
	"requiredby": true,
	"upheldby":   true,
	"alias":      true,
	"also":       true,
}

// Inspect parses unit file content and reports its activation properties.
// Unknown sections and keys are ignored; comments and continuation lines are
// handled the way systemd reads them.
func Inspect(content string) Info {
	var info Info
	section := ""

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var pending strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if isComment(line) {
			continue
		}

		// A trailing backslash joins the next line into this one
		if strings.HasSuffix(line, "\\") {
			pending.WriteString(strings.TrimSuffix(line, "\\"))
			pending.WriteByte(' ')
			continue
		}
		if pending.Len() > 0 {
			pending.WriteString(line)
			line = strings.TrimSpace(pending.String())
			pending.Reset()
		}

		info.parseLine(line, &section)
	}
	if pending.Len() > 0 {
		info.parseLine(strings.TrimSpace(pending.String()), &section)
	}

	return info
}

func isComment(line string) bool {
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";")
}

// parseLine applies one logical line, tracking the current section
func (i *Info) parseLine(line string, section *string) {
	if line == "" {
		return
	}

	if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
		*section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
		return
	}

	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return
	}
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)

	switch *section {
	case "install":
		if enableDirectives[key] && value != "" {
			i.Installable = true
		}
	case "service":
		if key == "type" {
			i.Oneshot = strings.EqualFold(value, "oneshot")
		}
	}
}
