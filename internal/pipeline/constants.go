package pipeline

const (
	// DefaultDataSource is recorded on batches imported without a data source.
	DefaultDataSource = "GENERIC_CSV"

	// headerSearchLines is how many leading lines may precede the header row.
	headerSearchLines = 30

	// maxErrorLogLines caps the per-row errors copied into the batch error log.
	maxErrorLogLines = 50
)
