// Package organizer moves processed documents into a browsable tree:
//
//	<root>/<YYYY>/<MM>/<Category>/<Vendor>_<date>_<Category>.<ext>
//
// Filenames are slugged; collisions get a -1, -2, ... suffix.
package organizer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const maxSlugLen = 60

var (
	nonAlnum   = regexp.MustCompile(`[^A-Za-z0-9]+`)
	underscore = regexp.MustCompile(`_+`)
)

// Organizer files documents under Root.
type Organizer struct {
	Root string
}

func New(root string) *Organizer {
	return &Organizer{Root: root}
}

// Slug reduces a name to filesystem-safe ASCII. Empty input becomes
// "Invoice" so a path component never vanishes.
func Slug(value string) string {
	value = strings.TrimSpace(value)
	value = nonAlnum.ReplaceAllString(value, "_")
	value = underscore.ReplaceAllString(value, "_")
	value = strings.Trim(value, "_")
	if len(value) > maxSlugLen {
		value = value[:maxSlugLen]
	}
	if value == "" {
		return "Invoice"
	}
	return value
}

// TargetPath computes the destination for a document without moving it.
// The invoice date (ISO) picks the year/month folders; today is the
// fallback for a missing or unparseable date.
func (o *Organizer) TargetPath(originalPath, vendor, date, category string) string {
	ext := strings.ToLower(filepath.Ext(originalPath))
	now := time.Now().UTC()

	year, month := now.Year(), int(now.Month())
	if date != "" {
		if dt, err := time.Parse("2006-01-02", date); err == nil {
			year, month = dt.Year(), int(dt.Month())
		}
	}

	cat := strings.TrimSpace(category)
	if cat == "" {
		cat = "Uncategorized"
	}
	catSlug := Slug(cat)

	if vendor == "" {
		vendor = "Vendor"
	}
	datePart := date
	if datePart == "" {
		datePart = now.Format("2006-01-02")
	}

	dir := filepath.Join(o.Root, fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", month), catSlug)
	baseName := fmt.Sprintf("%s_%s_%s", Slug(vendor), datePart, catSlug)

	target := filepath.Join(dir, baseName+ext)
	for counter := 1; exists(target); counter++ {
		target = filepath.Join(dir, fmt.Sprintf("%s-%d%s", baseName, counter, ext))
	}
	return target
}

// Move relocates the document into the tree and returns the new path.
func (o *Organizer) Move(originalPath, vendor, date, category string) (string, error) {
	target := o.TargetPath(originalPath, vendor, date, category)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(originalPath, target); err != nil {
		// Rename fails across filesystems; fall back to copy+remove.
		if err := copyFile(originalPath, target); err != nil {
			return "", err
		}
		if err := os.Remove(originalPath); err != nil {
			return "", err
		}
	}
	return target, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
