package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/dvloznov/spendalizer/internal/domain"
)

// FormatVersion is written into every archive. Archives with a newer version are rejected.
const FormatVersion = 1

// Archive member names.
const (
	FileTransactions  = "transactions.json"
	FileCategories    = "categories.json"
	FileRules         = "rules.json"
	FileAccounts      = "accounts.json"
	FileImportBatches = "import_batches.json"
	FileMetadata      = "metadata.json"
)

// MaxMemberSize caps the decompressed size of a single archive member.
const MaxMemberSize = 256 << 20

// memberLimit is MaxMemberSize, lowered in tests.
var memberLimit int64 = MaxMemberSize

// RequiredFiles lists every member an archive must contain.
var RequiredFiles = []string{FileTransactions, FileCategories, FileRules, FileAccounts, FileImportBatches, FileMetadata}

// Kind distinguishes user-requested backups from automatic ones.
type Kind string

const (
	KindManual     Kind = "manual"
	KindScheduled  Kind = "scheduled"
	KindPreRestore Kind = "pre_restore"
)

// Counts holds per-set record counts.
type Counts struct {
	Transactions  int `json:"transactions"`
	Categories    int `json:"categories"`
	Rules         int `json:"rules"`
	Accounts      int `json:"accounts"`
	ImportBatches int `json:"import_batches"`
}

// Metadata describes an archive.
type Metadata struct {
	Version   int       `json:"version"`
	Kind      Kind      `json:"backup_type"`
	OwnerID   string    `json:"user_id"`
	CreatedAt time.Time `json:"backup_date"`
	Counts    Counts    `json:"collections"`

	// OrphanedCategoryIDs is only set on safety snapshots taken from data that
	// already violated category integrity.
	OrphanedCategoryIDs []string `json:"orphaned_category_ids,omitempty"`
}

// Snapshot is the decoded content of an archive.
type Snapshot struct {
	Metadata      Metadata
	Transactions  []domain.Transaction
	Categories    []domain.Category
	Rules         []domain.Rule
	Accounts      []domain.Account
	ImportBatches []domain.ImportBatch
}

func (s Snapshot) counts() Counts {
	return Counts{
		Transactions:  len(s.Transactions),
		Categories:    len(s.Categories),
		Rules:         len(s.Rules),
		Accounts:      len(s.Accounts),
		ImportBatches: len(s.ImportBatches),
	}
}

// Encode writes snap as a deflate-compressed zip with one JSON document per set.
func Encode(w io.Writer, snap Snapshot) error {
	zw := zip.NewWriter(w)

	members := []struct {
		name string
		v    interface{}
	}{
		{FileTransactions, nonNil(snap.Transactions)},
		{FileCategories, nonNil(snap.Categories)},
		{FileRules, nonNil(snap.Rules)},
		{FileAccounts, nonNil(snap.Accounts)},
		{FileImportBatches, nonNil(snap.ImportBatches)},
		{FileMetadata, snap.Metadata},
	}

	for _, m := range members {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     m.name,
			Method:   zip.Deflate,
			Modified: snap.Metadata.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("Encode: creating %s: %w", m.name, err)
		}
		enc := json.NewEncoder(fw)
		enc.SetIndent("", "  ")
		if err := enc.Encode(m.v); err != nil {
			return fmt.Errorf("Encode: writing %s: %w", m.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("Encode: closing archive: %w", err)
	}
	return nil
}

// EncodeBytes is Encode into a new buffer.
func EncodeBytes(snap Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses an archive. Structural problems come back as *ValidationError;
// Decode does not check cross-record consistency, see Validate.
func Decode(data []byte) (Snapshot, error) {
	var snap Snapshot

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return snap, invalid("archive is not a valid zip file: %v", err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	var missing []string
	for _, name := range RequiredFiles {
		if _, ok := files[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return snap, &ValidationError{Reasons: prefixed("missing ", missing)}
	}

	targets := []struct {
		name string
		v    interface{}
	}{
		{FileMetadata, &snap.Metadata},
		{FileTransactions, &snap.Transactions},
		{FileCategories, &snap.Categories},
		{FileRules, &snap.Rules},
		{FileAccounts, &snap.Accounts},
		{FileImportBatches, &snap.ImportBatches},
	}
	for _, t := range targets {
		if err := readJSON(files[t.name], t.v); err != nil {
			return Snapshot{}, invalid("%s: %v", t.name, err)
		}
	}
	return snap, nil
}

func readJSON(f *zip.File, v interface{}) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, memberLimit+1))
	if err != nil {
		return fmt.Errorf("reading: %w", err)
	}
	if int64(len(data)) > memberLimit {
		return fmt.Errorf("member exceeds %d bytes uncompressed", memberLimit)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing: %w", err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func prefixed(prefix string, items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = prefix + s
	}
	return out
}
