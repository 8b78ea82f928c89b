// Package ledger keeps per-user credit balances.
//
// Submitting a task places a hold for its cost. The hold is settled exactly
// once when the task ends: deducted on completion, refunded on cancellation,
// released on failure. Every movement is journalled in ledger_entries, whose
// (task_id, phase) unique index makes each phase idempotent and the three
// settle kinds mutually exclusive.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/makeasinger/mediagen/internal/apperr"
)

type Account struct {
	UserID    string `gorm:"primaryKey;size:64"`
	Balance   int64  `gorm:"not null;default:0"`
	Held      int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (Account) TableName() string { return "accounts" }

// Available is the balance not covered by open holds.
func (a Account) Available() int64 { return a.Balance - a.Held }

type Phase string

const (
	PhaseHold   Phase = "hold"
	PhaseSettle Phase = "settle"
	PhaseCredit Phase = "credit"
)

type EntryKind string

const (
	KindHold    EntryKind = "hold"
	KindDeduct  EntryKind = "deduct"
	KindRefund  EntryKind = "refund"
	KindRelease EntryKind = "release"
	KindCredit  EntryKind = "credit"
)

type Entry struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"size:64;index;not null"`
	TaskID    string    `gorm:"size:64;not null;uniqueIndex:idx_ledger_task_phase"`
	Phase     Phase     `gorm:"size:16;not null;uniqueIndex:idx_ledger_task_phase"`
	Kind      EntryKind `gorm:"size:16;not null"`
	Amount    int64     `gorm:"not null"`
	CreatedAt time.Time
}

func (Entry) TableName() string { return "ledger_entries" }

type Ledger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Reserve holds cost credits against userID for taskID. It fails with
// apperr.ErrInsufficientBalance when the available balance is short, in which
// case nothing is recorded. Reserving the same task twice is a no-op.
func (l *Ledger) Reserve(ctx context.Context, userID, taskID string, cost int64) error {
	if cost <= 0 {
		return nil
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureAccount(tx, userID); err != nil {
			return err
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Entry{
			UserID: userID,
			TaskID: taskID,
			Phase:  PhaseHold,
			Kind:   KindHold,
			Amount: cost,
		})
		if res.Error != nil {
			return fmt.Errorf("record hold: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		res = tx.Model(&Account{}).
			Where("user_id = ? AND balance - held >= ?", userID, cost).
			Updates(map[string]any{
				"held":       gorm.Expr("held + ?", cost),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return fmt.Errorf("place hold: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.ErrInsufficientBalance
		}
		return nil
	})
}

// FinalizeDeduct converts the hold for a completed task into a charge.
func (l *Ledger) FinalizeDeduct(ctx context.Context, taskID string) error {
	return l.settle(ctx, taskID, KindDeduct)
}

// Refund returns the hold of a cancelled task.
func (l *Ledger) Refund(ctx context.Context, taskID string) error {
	return l.settle(ctx, taskID, KindRefund)
}

// Release returns the hold of a failed task.
func (l *Ledger) Release(ctx context.Context, taskID string) error {
	return l.settle(ctx, taskID, KindRelease)
}

func (l *Ledger) settle(ctx context.Context, taskID string, kind EntryKind) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var hold Entry
		err := tx.Where("task_id = ? AND phase = ?", taskID, PhaseHold).First(&hold).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// free task, nothing was held
			return nil
		}
		if err != nil {
			return fmt.Errorf("load hold: %w", err)
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Entry{
			UserID: hold.UserID,
			TaskID: taskID,
			Phase:  PhaseSettle,
			Kind:   kind,
			Amount: hold.Amount,
		})
		if res.Error != nil {
			return fmt.Errorf("record %s: %w", kind, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		updates := map[string]any{
			"held":       gorm.Expr("held - ?", hold.Amount),
			"updated_at": time.Now(),
		}
		if kind == KindDeduct {
			updates["balance"] = gorm.Expr("balance - ?", hold.Amount)
		}
		if err := tx.Model(&Account{}).Where("user_id = ?", hold.UserID).Updates(updates).Error; err != nil {
			return fmt.Errorf("apply %s: %w", kind, err)
		}
		return nil
	})
}

// Settlement returns the settle kind recorded for taskID, or "" if the task
// is unsettled or was never held.
func (l *Ledger) Settlement(ctx context.Context, taskID string) (EntryKind, error) {
	var e Entry
	err := l.db.WithContext(ctx).Where("task_id = ? AND phase = ?", taskID, PhaseSettle).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return e.Kind, nil
}

// Balance returns the account for userID. Unknown users have a zero account.
func (l *Ledger) Balance(ctx context.Context, userID string) (Account, error) {
	var acct Account
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{UserID: userID}, nil
	}
	if err != nil {
		return Account{}, err
	}
	return acct, nil
}

// Credit adds amount to the user's balance.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureAccount(tx, userID); err != nil {
			return err
		}
		if err := tx.Create(&Entry{
			UserID: userID,
			TaskID: "credit-" + uuid.NewString(),
			Phase:  PhaseCredit,
			Kind:   KindCredit,
			Amount: amount,
		}).Error; err != nil {
			return fmt.Errorf("record credit: %w", err)
		}
		return tx.Model(&Account{}).Where("user_id = ?", userID).Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now(),
		}).Error
	})
}

func ensureAccount(tx *gorm.DB, userID string) error {
	err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Account{UserID: userID, UpdatedAt: time.Now()}).Error
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}
