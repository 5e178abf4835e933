package postgres

import "github.com/mmynk/pointsledger/internal/models"

type categoryRecord struct {
	ID        string `gorm:"primaryKey;type:text"`
	Name      string `gorm:"type:text;not null"`
	Mandatory bool   `gorm:"not null;default:true"`
	CreatedAt int64  `gorm:"not null;autoCreateTime:false"`
}

func (categoryRecord) TableName() string { return "categories" }

type transactionRecord struct {
	ID          string  `gorm:"primaryKey;type:text"`
	AccountID   string  `gorm:"type:text;not null;index"`
	Amount      int64   `gorm:"not null;check:chk_transactions_amount,amount > 0"`
	Sign        string  `gorm:"type:varchar(10);not null;check:chk_transactions_sign,sign IN ('credit','debit')"`
	CategoryID  *string `gorm:"type:text"`
	Description string  `gorm:"type:text;not null;default:''"`
	CreatedBy   string  `gorm:"type:text;not null;default:''"`
	CreatedAt   int64   `gorm:"not null;index;autoCreateTime:false"`
}

func (transactionRecord) TableName() string { return "transactions" }

type negativeEntryRecord struct {
	ID            string          `gorm:"primaryKey;type:text"`
	AccountID     string          `gorm:"type:text;not null;index:idx_negative_entries_account_status"`
	Amount        int64           `gorm:"not null;check:chk_negative_entries_amount,amount > 0"`
	Reason        string          `gorm:"type:text;not null;default:''"`
	Status        string          `gorm:"type:varchar(20);not null;default:pending;index:idx_negative_entries_account_status"`
	CategoryID    *string         `gorm:"type:text"`
	Category      *categoryRecord `gorm:"foreignKey:CategoryID;constraint:OnDelete:SET NULL"`
	AutoProcessed bool            `gorm:"not null;default:false"`
	SplitFromID   *string         `gorm:"type:text"`
	CreatedAt     int64           `gorm:"not null;autoCreateTime:false"`
	PaidAt        *int64
}

func (negativeEntryRecord) TableName() string { return "negative_entries" }

type rechargeRecord struct {
	ID            string  `gorm:"primaryKey;type:text"`
	AccountID     string  `gorm:"type:text;not null;index"`
	Amount        int64   `gorm:"not null;check:chk_recharges_amount,amount > 0"`
	Note          string  `gorm:"type:text;not null;default:''"`
	TransactionID *string `gorm:"type:text"`
	CreatedAt     int64   `gorm:"not null;autoCreateTime:false"`
}

func (rechargeRecord) TableName() string { return "recharges" }

type balanceRecord struct {
	AccountID string `gorm:"primaryKey;type:text"`
	Amount    int64  `gorm:"not null"`
	UpdatedAt int64  `gorm:"not null;autoUpdateTime:false"`
}

func (balanceRecord) TableName() string { return "balance_cache" }

// entryRow is a negative entry joined with its category's mandatory flag.
type entryRow struct {
	ID            string
	AccountID     string
	Amount        int64
	Reason        string
	Status        string
	CategoryID    *string
	Mandatory     bool
	AutoProcessed bool
	SplitFromID   *string
	CreatedAt     int64
	PaidAt        *int64
}

func (r entryRow) toModel() *models.NegativeEntry {
	return &models.NegativeEntry{
		ID:            r.ID,
		AccountID:     r.AccountID,
		Amount:        r.Amount,
		Reason:        r.Reason,
		Status:        models.EntryStatus(r.Status),
		CategoryID:    r.CategoryID,
		Mandatory:     r.Mandatory,
		AutoProcessed: r.AutoProcessed,
		SplitFromID:   r.SplitFromID,
		CreatedAt:     r.CreatedAt,
		PaidAt:        r.PaidAt,
	}
}

func (r transactionRecord) toModel() *models.Transaction {
	return &models.Transaction{
		ID:          r.ID,
		AccountID:   r.AccountID,
		Amount:      r.Amount,
		Sign:        models.Sign(r.Sign),
		CategoryID:  r.CategoryID,
		Description: r.Description,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
	}
}
