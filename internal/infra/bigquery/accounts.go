package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/spendalizer/internal/domain"
)

type AccountRow struct {
	ID      string `bigquery:"id"`       // REQUIRED
	OwnerID string `bigquery:"owner_id"` // REQUIRED

	Name        string              `bigquery:"name"`        // REQUIRED
	Type        string              `bigquery:"type"`        // REQUIRED
	Institution bigquery.NullString `bigquery:"institution"` // NULLABLE
	LastFour    bigquery.NullString `bigquery:"last_four"`   // NULLABLE

	CreatedAt time.Time `bigquery:"created_at"` // REQUIRED
}

func accountRow(a domain.Account) AccountRow {
	return AccountRow{
		ID:          a.ID,
		OwnerID:     a.OwnerID,
		Name:        a.Name,
		Type:        string(a.Type),
		Institution: nullString(a.Institution),
		LastFour:    nullString(a.LastFour),
		CreatedAt:   a.CreatedAt,
	}
}

func (r AccountRow) toDomain() domain.Account {
	return domain.Account{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		Name:        r.Name,
		Type:        domain.AccountType(r.Type),
		Institution: r.Institution.StringVal,
		LastFour:    r.LastFour.StringVal,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

type ImportBatchRow struct {
	ID        string              `bigquery:"id"`         // REQUIRED
	OwnerID   string              `bigquery:"owner_id"`   // REQUIRED
	AccountID bigquery.NullString `bigquery:"account_id"` // NULLABLE

	DataSource bigquery.NullString `bigquery:"data_source"` // NULLABLE
	FileName   bigquery.NullString `bigquery:"file_name"`   // NULLABLE
	ImportedAt time.Time           `bigquery:"imported_at"` // REQUIRED

	TotalRows      int64 `bigquery:"total_rows"`
	SuccessCount   int64 `bigquery:"success_count"`
	DuplicateCount int64 `bigquery:"duplicate_count"`
	ErrorCount     int64 `bigquery:"error_count"`

	Status   string              `bigquery:"status"`    // REQUIRED
	ErrorLog bigquery.NullString `bigquery:"error_log"` // NULLABLE
}

func importBatchRow(b domain.ImportBatch) ImportBatchRow {
	return ImportBatchRow{
		ID:             b.ID,
		OwnerID:        b.OwnerID,
		AccountID:      nullString(b.AccountID),
		DataSource:     nullString(b.DataSource),
		FileName:       nullString(b.FileName),
		ImportedAt:     b.ImportedAt,
		TotalRows:      int64(b.TotalRows),
		SuccessCount:   int64(b.SuccessCount),
		DuplicateCount: int64(b.DuplicateCount),
		ErrorCount:     int64(b.ErrorCount),
		Status:         string(b.Status),
		ErrorLog:       nullString(b.ErrorLog),
	}
}

func (r ImportBatchRow) toDomain() domain.ImportBatch {
	return domain.ImportBatch{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		AccountID:      r.AccountID.StringVal,
		DataSource:     r.DataSource.StringVal,
		FileName:       r.FileName.StringVal,
		ImportedAt:     r.ImportedAt.UTC(),
		TotalRows:      int(r.TotalRows),
		SuccessCount:   int(r.SuccessCount),
		DuplicateCount: int(r.DuplicateCount),
		ErrorCount:     int(r.ErrorCount),
		Status:         domain.ImportStatus(r.Status),
		ErrorLog:       r.ErrorLog.StringVal,
	}
}
