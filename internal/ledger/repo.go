package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotopoints/backend/pkg/db/models"
	"github.com/lotopoints/backend/pkg/enums"
	"github.com/lotopoints/backend/pkg/pagination"
)

// AccountRepository manages persistence for accounts. Balance mutations go
// through Debit/Credit only; both are single conditional updates.
type AccountRepository interface {
	WithTx(tx *gorm.DB) AccountRepository
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByOwnerRef(ctx context.Context, ownerRef string) (*models.Account, error)
	// Debit decrements balance only while balance >= amount. Zero affected
	// rows means the guard failed (or the account is missing).
	Debit(ctx context.Context, id uuid.UUID, amount int64) (int64, error)
	// Credit increments balance unconditionally for an existing account.
	Credit(ctx context.Context, id uuid.UUID, amount int64) (int64, error)
}

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository returns an account repository bound to the provided database.
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) WithTx(tx *gorm.DB) AccountRepository {
	if tx == nil {
		return r
	}
	return &accountRepository{db: tx}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *accountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) GetByOwnerRef(ctx context.Context, ownerRef string) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).First(&account, "owner_ref = ?", ownerRef).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// ErrNoRowsAffected signals the conditional update's guard did not hold.
var ErrNoRowsAffected = errors.New("no rows affected")

func (r *accountRepository) Debit(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND balance >= ?", id, amount).
		UpdateColumn("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrNoRowsAffected
	}
	return r.readBalance(ctx, id)
}

func (r *accountRepository) Credit(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		UpdateColumn("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrNoRowsAffected
	}
	return r.readBalance(ctx, id)
}

func (r *accountRepository) readBalance(ctx context.Context, id uuid.UUID) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Select("balance").
		Scan(&balance).Error
	return balance, err
}

// TransactionRepository manages the immutable ledger entry log.
type TransactionRepository interface {
	WithTx(tx *gorm.DB) TransactionRepository
	Create(ctx context.Context, entry *models.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.Transaction, string, error)
	ListPendingRequests(ctx context.Context, limit int) ([]models.Transaction, error)
	// MarkProcessed stamps an admin decision on a pending deposit/withdraw
	// request. Conditional on the row still being pending so a raced second
	// decision affects zero rows.
	MarkProcessed(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, adminID uuid.UUID, at time.Time) (int64, error)
}

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository returns a ledger entry repository bound to the provided database.
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) WithTx(tx *gorm.DB) TransactionRepository {
	if tx == nil {
		return r
	}
	return &transactionRepository{db: tx}
}

func (r *transactionRepository) Create(ctx context.Context, entry *models.Transaction) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *transactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var entry models.Transaction
	if err := r.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *transactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	var entry models.Transaction
	if err := r.db.WithContext(ctx).First(&entry, "idempotency_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *transactionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.Transaction, string, error) {
	limit := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).
		Where("sender_id = ? OR receiver_id = ?", accountID, accountID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit + 1)

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Transaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, "", err
	}

	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return rows, next, nil
}

func (r *transactionRepository) ListPendingRequests(ctx context.Context, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND type IN ?", enums.TransactionStatusPending, []enums.TransactionType{
			enums.TransactionTypeDeposit,
			enums.TransactionTypeWithdraw,
		}).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *transactionRepository) MarkProcessed(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, adminID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, enums.TransactionStatusPending).
		Updates(map[string]any{
			"status":       status,
			"processed_by": adminID,
			"processed_at": at,
		})
	return res.RowsAffected, res.Error
}
