package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	markerName       = "shieldon_check_exist.txt"
	defaultExtension = "json"
)

// paths maps (table, id) pairs onto the on-disk layout:
//
//	<base>/<channel>_<table>/<escaped id>.<ext>
//	<base>/<channel>_shieldon_check_exist.txt
//
// With an empty channel the "<channel>_" prefix is omitted.
type paths struct {
	base    string
	channel string
	ext     string
}

func newPaths(base, channel, ext string) paths {
	if ext == "" {
		ext = defaultExtension
	}
	return paths{
		base:    filepath.Clean(base),
		channel: channel,
		ext:     strings.TrimPrefix(ext, "."),
	}
}

func (p paths) prefix() string {
	if p.channel == "" {
		return ""
	}
	return p.channel + "_"
}

func (p paths) dir(t TableType) string {
	return filepath.Join(p.base, p.prefix()+string(t))
}

func (p paths) file(t TableType, id string) string {
	return filepath.Join(p.dir(t), escapeID(id)+"."+p.ext)
}

func (p paths) marker() string {
	return filepath.Join(p.base, p.prefix()+markerName)
}

// idFromName recovers the entry id from a filename produced by file.
func (p paths) idFromName(name string) (string, error) {
	stem := strings.TrimSuffix(name, "."+p.ext)
	if stem == name {
		return "", fmt.Errorf("%w: unexpected extension on %q", ErrInvalidID, name)
	}
	return unescapeID(stem)
}

const hexDigits = "0123456789ABCDEF"

func safeByte(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '-' || c == '_' || c == '.'
}

// escapeID turns an entry id into a filesystem-safe name. Bytes outside
// [A-Za-z0-9._-] become %XX, and a leading '.' is always escaped so no id can
// name "." or ".." or a hidden file. The mapping is injective because '%'
// itself is always escaped.
func escapeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		if safeByte(c) && !(i == 0 && c == '.') {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

func unescapeID(name string) (string, error) {
	if !strings.Contains(name, "%") {
		return name, nil
	}
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c != '%' {
			out = append(out, c)
			continue
		}
		if i+2 >= len(name) {
			return "", fmt.Errorf("%w: truncated escape in %q", ErrInvalidID, name)
		}
		hi, lo := unhex(name[i+1]), unhex(name[i+2])
		if hi < 0 || lo < 0 {
			return "", fmt.Errorf("%w: bad escape in %q", ErrInvalidID, name)
		}
		out = append(out, byte(hi<<4|lo))
		i += 2
	}
	return string(out), nil
}

func unhex(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	}
	return -1
}
