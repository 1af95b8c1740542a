package backup

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

const nameTimeLayout = "20060102-150405"

// ArchiveName is the object name used for an archive of kind taken at t.
func ArchiveName(kind Kind, ownerID string, t time.Time) string {
	owner := unsafeName.ReplaceAllString(ownerID, "_")
	stamp := t.UTC().Format(nameTimeLayout)
	if kind == KindPreRestore {
		return fmt.Sprintf("pre_restore_%s_%s.zip", owner, stamp)
	}
	return fmt.Sprintf("backup_%s_%s_%s.zip", kind, owner, stamp)
}

// DownloadName is the file name offered for a downloaded backup.
func DownloadName(t time.Time) string {
	return fmt.Sprintf("SpendAlizer-%s.zip", t.UTC().Format(nameTimeLayout))
}

// OwnsArchive reports whether name was produced by ArchiveName for ownerID.
func OwnsArchive(name, ownerID string) bool {
	owner := unsafeName.ReplaceAllString(ownerID, "_")
	prefixes := []string{"pre_restore_" + owner + "_"}
	for _, kind := range []Kind{KindManual, KindScheduled} {
		prefixes = append(prefixes, fmt.Sprintf("backup_%s_%s_", kind, owner))
	}
	for _, p := range prefixes {
		rest, ok := strings.CutPrefix(name, p)
		if !ok || !strings.HasSuffix(rest, ".zip") {
			continue
		}
		if _, err := time.Parse(nameTimeLayout, strings.TrimSuffix(rest, ".zip")); err == nil {
			return true
		}
	}
	return false
}
