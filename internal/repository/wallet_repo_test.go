package repository

import (
	"errors"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"panelsync/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	// A single connection keeps the in-memory database alive and shared.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.User{},
		&models.Panel{},
		&models.Plan{},
		&models.VpnAccount{},
		&models.WalletTransaction{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestWalletDerivedBalance(t *testing.T) {
	repo := NewWalletRepository(testDB(t))

	entries := []*models.WalletTransaction{
		{UserID: "u1", Amount: 10000, Type: models.TxDeposit, ReferenceID: "dep-1"},
		{UserID: "u1", Amount: -3000, Type: models.TxPurchase, ReferenceID: "buy-1"},
		{UserID: "u1", Amount: 500, Type: models.TxAdmin, ReferenceID: "adm-1"},
		{UserID: "u2", Amount: 9999, Type: models.TxDeposit, ReferenceID: "dep-2"},
	}
	for _, e := range entries {
		if err := repo.Append(e); err != nil {
			t.Fatalf("Append(%s): %v", e.ReferenceID, err)
		}
	}

	balance, err := repo.BalanceOf("u1")
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if balance != 7500 {
		t.Errorf("balance = %d, want 7500", balance)
	}

	// Empty ledger sums to zero, not an error.
	balance, err = repo.BalanceOf("nobody")
	if err != nil {
		t.Fatalf("BalanceOf(nobody): %v", err)
	}
	if balance != 0 {
		t.Errorf("empty balance = %d, want 0", balance)
	}
}

func TestWalletInsufficientBalance(t *testing.T) {
	repo := NewWalletRepository(testDB(t))

	if err := repo.Append(&models.WalletTransaction{
		UserID: "u1", Amount: 1000, Type: models.TxDeposit, ReferenceID: "dep-1",
	}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err := repo.Append(&models.WalletTransaction{
		UserID: "u1", Amount: -1500, Type: models.TxPurchase, ReferenceID: "buy-1",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	// The rejected debit must leave no trace in the balance.
	balance, _ := repo.BalanceOf("u1")
	if balance != 1000 {
		t.Errorf("balance = %d, want 1000", balance)
	}

	// Exactly draining the balance is allowed.
	if err := repo.Append(&models.WalletTransaction{
		UserID: "u1", Amount: -1000, Type: models.TxPurchase, ReferenceID: "buy-2",
	}); err != nil {
		t.Fatalf("exact debit: %v", err)
	}
	balance, _ = repo.BalanceOf("u1")
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
}

func TestWalletConcurrentDebits(t *testing.T) {
	repo := NewWalletRepository(testDB(t))

	if err := repo.Append(&models.WalletTransaction{
		UserID: "u1", Amount: 1000, Type: models.TxDeposit, ReferenceID: "dep-1",
	}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Two concurrent 800-unit debits against a 1000 balance: exactly one
	// may pass.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.Append(&models.WalletTransaction{
				UserID: "u1", Amount: -800, Type: models.TxPurchase,
				ReferenceID: "buy-" + string(rune('a'+i)),
			})
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected err: %v", err)
		}
	}
	if ok != 1 || insufficient != 1 {
		t.Fatalf("ok = %d, insufficient = %d, want 1 and 1", ok, insufficient)
	}

	balance, _ := repo.BalanceOf("u1")
	if balance != 200 {
		t.Errorf("balance = %d, want 200", balance)
	}
}

func TestWalletRefundExactlyOnce(t *testing.T) {
	repo := NewWalletRepository(testDB(t))

	if err := repo.Append(&models.WalletTransaction{
		UserID: "u1", Amount: 5000, Type: models.TxDeposit, ReferenceID: "dep-1",
	}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	purchase := &models.WalletTransaction{
		UserID: "u1", Amount: -2000, Type: models.TxPurchase, ReferenceID: "buy-1",
	}
	if err := repo.Append(purchase); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	if err := repo.Refund(purchase, "remote create failed"); err != nil {
		t.Fatalf("Refund: %v", err)
	}

	// Purchase flipped out of completed, refund row appended: balance back
	// to the deposit.
	balance, _ := repo.BalanceOf("u1")
	if balance != 5000 {
		t.Errorf("balance after refund = %d, want 5000", balance)
	}

	err := repo.Refund(purchase, "second attempt")
	if !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("second refund err = %v, want ErrAlreadyRefunded", err)
	}
	balance, _ = repo.BalanceOf("u1")
	if balance != 5000 {
		t.Errorf("balance after double refund = %d, want 5000", balance)
	}
}

func TestWalletFindByReference(t *testing.T) {
	repo := NewWalletRepository(testDB(t))

	if tx, err := repo.FindByReference("missing"); err != nil || tx != nil {
		t.Fatalf("FindByReference(missing) = %v, %v; want nil, nil", tx, err)
	}

	if err := repo.Append(&models.WalletTransaction{
		UserID: "u1", Amount: 100, Type: models.TxDeposit, ReferenceID: "dep-1",
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	tx, err := repo.FindByReference("dep-1")
	if err != nil || tx == nil {
		t.Fatalf("FindByReference(dep-1) = %v, %v", tx, err)
	}
	if tx.Amount != 100 {
		t.Errorf("amount = %d, want 100", tx.Amount)
	}

	// Failed rows are invisible: a retry under the same key is not a dup.
	failed := &models.WalletTransaction{
		UserID: "u1", Amount: -50, Type: models.TxPurchase,
		Status: models.TxFailed, ReferenceID: "buy-1",
	}
	if err := repo.Append(failed); err != nil {
		t.Fatalf("Append failed row: %v", err)
	}
	if tx, err := repo.FindByReference("buy-1"); err != nil || tx != nil {
		t.Fatalf("FindByReference(buy-1) = %v, %v; want nil, nil", tx, err)
	}
}
