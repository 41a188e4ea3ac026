package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/migrations"
)

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSettings_UpsertKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SetSetting(ctx, core.SettingTheme, core.ThemeDark))
	require.NoError(t, s.SetSetting(ctx, core.SettingTheme, core.ThemeLight))

	var count int
	var value string
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*), MAX(value) FROM settings WHERE key = 'theme'`).Scan(&count, &value))
	assert.Equal(t, 1, count)
	assert.Equal(t, core.ThemeLight, value)

	got, err := s.GetSetting(ctx, core.SettingTheme, core.ThemeSystem)
	require.NoError(t, err)
	assert.Equal(t, core.ThemeLight, got)
}

func TestSettings_DefaultsAndValidation(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	got, err := s.GetSetting(ctx, core.SettingBackupInterval, core.BackupOff)
	require.NoError(t, err)
	assert.Equal(t, core.BackupOff, got)

	assert.ErrorIs(t, s.SetSetting(ctx, core.SettingCurrency, "JPY"), core.ErrInvalidSetting)
	assert.ErrorIs(t, s.SetSetting(ctx, "", "x"), core.ErrEmptySettingKey)

	require.NoError(t, s.SetSetting(ctx, core.SettingCurrency, core.EUR))
	require.NoError(t, s.SetSetting(ctx, "custom", "anything"))

	settings, err := s.ListSettings(ctx)
	require.NoError(t, err)
	require.Len(t, settings, 2)
	assert.Equal(t, core.SettingCurrency, settings[0].Key)
	assert.Equal(t, "custom", settings[1].Key)

	require.NoError(t, s.ClearSettings(ctx))
	settings, err = s.ListSettings(ctx)
	require.NoError(t, err)
	assert.Empty(t, settings)
}

func TestTransactions_CRUD(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SetSetting(ctx, core.SettingCurrency, core.GBP))

	created, err := s.CreateTransaction(ctx, core.Transaction{
		Amount:      amount("-12.345"),
		Date:        day(2024, 5, 3),
		Description: "Lunch",
		Category:    "Food",
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.NotZero(t, created.CategoryID)
	assert.Equal(t, core.GBP, created.Currency, "empty currency takes the setting")

	got, err := s.GetTransaction(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "-12.35", got.Amount.StringFixed(2))
	assert.Equal(t, "Food", got.Category)
	assert.Equal(t, "Lunch", got.Description)
	assert.True(t, got.Date.Equal(day(2024, 5, 3)))
	assert.Zero(t, got.RecurringTransactionID)

	got.Category = "Dining"
	got.CategoryID = 0
	got.Amount = amount("-20")
	updated, err := s.UpdateTransaction(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "Dining", updated.Category)
	assert.Equal(t, "-20.00", updated.Amount.StringFixed(2))

	require.NoError(t, s.DeleteTransaction(ctx, created.ID))
	_, err = s.GetTransaction(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteTransaction(ctx, created.ID), ErrNotFound)

	_, err = s.UpdateTransaction(ctx, got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransactions_RejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.CreateTransaction(ctx, core.Transaction{Amount: amount("0"), Date: day(2024, 1, 1), Category: "x"})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = s.CreateTransaction(ctx, core.Transaction{Amount: amount("1"), Date: day(2024, 1, 1), CategoryID: 42})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.CreateTransaction(ctx, core.Transaction{
		Amount: amount("1"), Date: day(2024, 1, 1), Category: "x", RecurringTransactionID: 77,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func seedTransactions(t *testing.T, s *Store) {
	t.Helper()
	ts := []core.Transaction{
		{Amount: amount("1000"), Date: day(2024, 1, 1), Category: "Salary"},
		{Amount: amount("-30.50"), Date: day(2024, 1, 5), Category: "Food", Description: "Groceries"},
		{Amount: amount("-12"), Date: day(2024, 1, 9), Category: "Food", Description: "Pizza"},
		{Amount: amount("-400"), Date: day(2024, 2, 1), Category: "Rent"},
		{Amount: amount("25"), Date: day(2024, 2, 3), Category: "Food", Description: "Refund"},
	}
	n, err := s.CreateTransactions(context.Background(), ts)
	require.NoError(t, err)
	require.Equal(t, len(ts), n)
}

func TestTransactions_ListFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedTransactions(t, s)

	page, err := s.ListTransactions(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Items, 2)
	assert.True(t, page.Items[0].Date.Equal(day(2024, 2, 3)), "newest first by default")
	assert.Equal(t, 2, page.NextOffset)

	page, err = s.ListTransactions(ctx, ListOptions{Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, -1, page.NextOffset)

	page, err = s.ListTransactions(ctx, ListOptions{Category: "Food", OrderBy: "amount", Asc: true})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "-30.50", page.Items[0].Amount.StringFixed(2))
	assert.Equal(t, "25.00", page.Items[2].Amount.StringFixed(2))
	assert.Equal(t, -1, page.NextOffset)

	page, err = s.ListTransactions(ctx, ListOptions{From: day(2024, 1, 2), To: day(2024, 1, 31)})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	_, err = s.ListTransactions(ctx, ListOptions{OrderBy: "amount; DROP TABLE transactions"})
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestTransactions_Summaries(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedTransactions(t, s)

	sum, err := s.Summarize(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "1025.00", sum.Income.StringFixed(2))
	assert.Equal(t, "-442.50", sum.Expense.StringFixed(2))
	assert.Equal(t, "582.50", sum.Balance.StringFixed(2))

	january, err := s.Summarize(ctx, day(2024, 1, 1), day(2024, 1, 31))
	require.NoError(t, err)
	assert.Equal(t, "957.50", january.Balance.StringFixed(2))

	byCategory, err := s.SummarizeByCategory(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, byCategory, 3)
	assert.Equal(t, "Food", byCategory[0].Category)
	assert.Equal(t, "25.00", byCategory[0].Income.StringFixed(2))
	assert.Equal(t, "-42.50", byCategory[0].Expense.StringFixed(2))

	names, err := s.TransactionCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Food", "Rent", "Salary"}, names)

	n, err := s.ClearTransactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestTransactions_BatchSpansChunks(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ts := make([]core.Transaction, BatchSize*2+7)
	for i := range ts {
		ts[i] = core.Transaction{Amount: amount("-1"), Date: day(2024, 3, 1).Add(time.Duration(i) * time.Minute), Category: "Bulk"}
	}
	n, err := s.CreateTransactions(ctx, ts)
	require.NoError(t, err)
	assert.Equal(t, len(ts), n)

	page, err := s.ListTransactions(ctx, ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, len(ts), page.Total)
}

func TestTransactions_BatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ts := []core.Transaction{
		{Amount: amount("5"), Date: day(2024, 3, 1), Category: "Fresh"},
		{Amount: amount("5"), Date: day(2024, 3, 1), CategoryID: 999},
	}
	_, err := s.CreateTransactions(ctx, ts)
	require.ErrorIs(t, err, ErrNotFound)

	page, err := s.ListTransactions(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	_, err = s.CategoryByName(ctx, "Fresh")
	assert.ErrorIs(t, err, ErrNotFound, "category created by the failed batch must roll back")
}

func TestCategories_DeleteRestrictedWhileReferenced(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	tx, err := s.CreateTransaction(ctx, core.Transaction{Amount: amount("-3"), Date: day(2024, 1, 1), Category: "Coffee"})
	require.NoError(t, err)

	err = s.DeleteCategory(ctx, tx.CategoryID)
	assert.ErrorIs(t, err, ErrCategoryInUse)

	require.NoError(t, s.DeleteTransaction(ctx, tx.ID))
	require.NoError(t, s.DeleteCategory(ctx, tx.CategoryID))
	assert.ErrorIs(t, s.DeleteCategory(ctx, tx.CategoryID), ErrNotFound)
}

func TestCategories_CreateRenameList(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	c, err := s.CreateCategory(ctx, "  Travel ")
	require.NoError(t, err)
	assert.Equal(t, "Travel", c.Name)

	_, err = s.CreateCategory(ctx, "Travel")
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = s.CreateCategory(ctx, " ")
	assert.ErrorIs(t, err, core.ErrEmptyCategory)

	require.NoError(t, s.RenameCategory(ctx, c.ID, "Holidays"))
	_, err = s.CategoryByName(ctx, "Travel")
	assert.ErrorIs(t, err, ErrNotFound)

	tx, err := s.CreateTransaction(ctx, core.Transaction{Amount: amount("-80"), Date: day(2024, 7, 1), Category: "Holidays"})
	require.NoError(t, err)
	assert.Equal(t, c.ID, tx.CategoryID)

	all, err := s.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Holidays", all[0].Name)
}

func TestRecurring_IncurCarriesRuleCategory(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	rule, err := s.CreateRecurring(ctx, core.RecurringTransaction{
		Amount:      amount("-50"),
		Description: "Gym",
		Category:    "Health",
		StartDate:   day(2024, 1, 31),
		Recurrence:  "monthly",
	})
	require.NoError(t, err)
	assert.Equal(t, core.USD, rule.Currency)

	res, err := s.IncurRecurring(ctx, rule.ID, day(2024, 4, 15))
	require.NoError(t, err)
	require.Len(t, res.Transactions, 2)
	assert.True(t, res.Transactions[0].Date.Equal(day(2024, 2, 29)))
	assert.True(t, res.Transactions[1].Date.Equal(day(2024, 3, 31)))
	assert.True(t, res.LastCharged.Equal(day(2024, 3, 31)))

	for _, generated := range res.Transactions {
		stored, err := s.GetTransaction(ctx, generated.ID)
		require.NoError(t, err)
		assert.Equal(t, rule.ID, stored.RecurringTransactionID)
		assert.Equal(t, rule.CategoryID, stored.CategoryID)
		assert.Equal(t, rule.Category, stored.Category)
		assert.Equal(t, "-50.00", stored.Amount.StringFixed(2))
	}

	reloaded, err := s.GetRecurring(ctx, rule.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.LastCharged.Equal(day(2024, 3, 31)))

	again, err := s.IncurRecurring(ctx, rule.ID, day(2024, 4, 15))
	require.NoError(t, err)
	assert.Empty(t, again.Transactions, "nothing new is due")
}

func TestRecurring_DeleteKeepsGeneratedTransactions(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	rule, err := s.CreateRecurring(ctx, core.RecurringTransaction{
		Amount: amount("2000"), Category: "Salary", StartDate: day(2024, 1, 1), Recurrence: "0 0 25 * *",
	})
	require.NoError(t, err)
	res, err := s.IncurRecurring(ctx, rule.ID, day(2024, 2, 1))
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)

	require.NoError(t, s.DeleteRecurring(ctx, rule.ID))

	tx, err := s.GetTransaction(ctx, res.Transactions[0].ID)
	require.NoError(t, err)
	assert.Zero(t, tx.RecurringTransactionID)

	_, err = s.IncurRecurring(ctx, rule.ID, day(2024, 3, 1))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecurring_RejectsBadRecurrence(t *testing.T) {
	s := newStore(t)
	_, err := s.CreateRecurring(context.Background(), core.RecurringTransaction{
		Amount: amount("1"), Category: "x", StartDate: day(2024, 1, 1), Recurrence: "sometimes",
	})
	assert.Error(t, err)

	list, err := s.ListRecurring(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBackup_SnapshotAndValidate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedTransactions(t, s)

	dir := t.TempDir()
	path, err := s.Backup(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "finance-20240601T120000Z.db"), path)

	require.NoError(t, ValidateDatabase(ctx, path))

	last, err := s.LastBackup(ctx)
	require.NoError(t, err)
	assert.True(t, last.Equal(s.now()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary snapshot must not remain")
}

func TestBackup_SameSecondKeepsBoth(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	dir := t.TempDir()

	first, err := s.Backup(ctx, dir)
	require.NoError(t, err)
	seedTransactions(t, s)
	second, err := s.Backup(ctx, dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "finance-20240601T120000Z.db"), first)
	assert.Equal(t, filepath.Join(dir, "finance-20240601T120000Z-1.db"), second)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	require.NoError(t, ValidateDatabase(ctx, first))
	require.NoError(t, ValidateDatabase(ctx, second))
}

func TestValidateDatabase_Rejects(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	notDB := filepath.Join(dir, "notes.db")
	require.NoError(t, os.WriteFile(notDB, []byte("hello"), 0o644))
	assert.ErrorIs(t, ValidateDatabase(ctx, notDB), ErrInvalidDatabase)

	assert.ErrorIs(t, ValidateDatabase(ctx, filepath.Join(dir, "missing.db")), ErrInvalidDatabase)

	// A database at version 2 lacks the categories table.
	target := newTarget(t)
	mg := newMigrator(t, target, migrations.Catalog())
	require.NoError(t, mg.Goto(ctx, 2))
	require.NoError(t, mg.Close())

	err := ValidateDatabase(ctx, target.Path())
	require.ErrorIs(t, err, ErrInvalidDatabase)
	assert.Contains(t, err.Error(), "missing table categories")
	assert.Contains(t, err.Error(), "missing column transactions.category_id")
}
