package store

import (
	"context"
	"errors"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/spendalizer/internal/domain"
)

// ErrNotFound is returned when an owner-scoped lookup finds nothing.
var ErrNotFound = errors.New("not found")

// TransactionFilter narrows ListTransactions. Zero values mean "no filter".
type TransactionFilter struct {
	AccountID     string
	CategoryID    string
	Uncategorized bool
	Source        domain.CategorySource
	StartDate     civil.Date
	EndDate       civil.Date
	IDs           []string
	Limit         int
	Offset        int
}

// DuplicateKey identifies a statement line for duplicate detection.
type DuplicateKey struct {
	AccountID   string
	Date        civil.Date
	Amount      decimal.Decimal
	Direction   domain.Direction
	Description string
}

// CategoryAssignment is a category update for a single transaction.
type CategoryAssignment struct {
	TransactionID string
	CategoryID    string
	Source        domain.CategorySource
	Confidence    *float64
}

// DeleteScope selects which owner-scoped record sets DeleteOwnerData removes.
// System categories are never part of a scope.
type DeleteScope struct {
	Transactions  bool
	Categories    bool
	Rules         bool
	Accounts      bool
	ImportBatches bool
}

// AllOwnerData selects every owner-scoped record set.
var AllOwnerData = DeleteScope{Transactions: true, Categories: true, Rules: true, Accounts: true, ImportBatches: true}

// DeleteCounts reports how many records DeleteOwnerData removed per set.
type DeleteCounts struct {
	Transactions  int `json:"transactions"`
	Categories    int `json:"categories"`
	Rules         int `json:"rules"`
	Accounts      int `json:"accounts"`
	ImportBatches int `json:"import_batches"`
}

// Reader is the read side of the storage contract.
type Reader interface {
	// ListCategories returns system categories plus the owner's categories, ordered by name.
	ListCategories(ctx context.Context, ownerID string) ([]domain.Category, error)

	// ListSystemCategories returns every system category, ordered by id.
	ListSystemCategories(ctx context.Context) ([]domain.Category, error)

	// GetCategory returns a category by id regardless of owner.
	GetCategory(ctx context.Context, id string) (*domain.Category, error)

	// ListRules returns the owner's rules ordered by priority DESC, created_at ASC, id ASC.
	ListRules(ctx context.Context, ownerID string) ([]domain.Rule, error)

	ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error)
	GetAccount(ctx context.Context, ownerID, id string) (*domain.Account, error)

	// ListTransactions returns the owner's transactions ordered by date DESC, id ASC.
	ListTransactions(ctx context.Context, ownerID string, filter TransactionFilter) ([]domain.Transaction, error)

	// ListImportBatches returns the owner's import batches, newest first.
	ListImportBatches(ctx context.Context, ownerID string) ([]domain.ImportBatch, error)

	// ListOwners returns every owner id that holds at least one account or transaction.
	ListOwners(ctx context.Context) ([]string, error)

	// TransactionExists reports whether the owner already holds a transaction with key.
	TransactionExists(ctx context.Context, ownerID string, key DuplicateKey) (bool, error)
}

// Writer is the write side of the storage contract.
type Writer interface {
	// InsertSystemCategory inserts c only when no category with c.ID exists.
	// Implementations use a single atomic primitive (unique index, MERGE), never
	// check-then-insert. It reports whether a row was inserted.
	InsertSystemCategory(ctx context.Context, c domain.Category) (bool, error)

	InsertCategories(ctx context.Context, categories []domain.Category) error
	UpdateCategory(ctx context.Context, c domain.Category) error
	DeleteCategory(ctx context.Context, ownerID, id string) error

	InsertRules(ctx context.Context, rules []domain.Rule) error
	UpdateRule(ctx context.Context, r domain.Rule) error
	DeleteRule(ctx context.Context, ownerID, id string) error

	InsertAccounts(ctx context.Context, accounts []domain.Account) error

	InsertTransactions(ctx context.Context, txns []domain.Transaction) error

	// UpdateTransactionCategories applies assignments to the owner's transactions
	// and returns how many rows changed.
	UpdateTransactionCategories(ctx context.Context, ownerID string, assignments []CategoryAssignment) (int, error)

	InsertImportBatch(ctx context.Context, b domain.ImportBatch) error

	// DeleteOwnerData removes the selected owner-scoped sets. System categories are untouched.
	DeleteOwnerData(ctx context.Context, ownerID string, scope DeleteScope) (DeleteCounts, error)
}

// Store is implemented by every storage backend.
type Store interface {
	Reader
	Writer

	// RunInTx runs fn against a view of the store. When Transactional reports
	// true, an error from fn rolls back every write fn made.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Transactional reports whether RunInTx is all-or-nothing.
	Transactional() bool

	Close() error
}

// CountTransactionsUsingCategory is a helper shared by category guards.
func CountTransactionsUsingCategory(ctx context.Context, r Reader, ownerID, categoryID string) (int, error) {
	txns, err := r.ListTransactions(ctx, ownerID, TransactionFilter{CategoryID: categoryID})
	if err != nil {
		return 0, err
	}
	return len(txns), nil
}
