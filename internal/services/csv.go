package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

// CSV rows are amount,transaction_date,category,description with the date in
// epoch milliseconds and no header row.
const csvFields = 4

var ErrInvalidCSV = errors.New("invalid csv")

// ExportCSV writes every transaction to w, oldest first, one page at a time.
func ExportCSV(ctx context.Context, store *storage.Store, w io.Writer, logger *log.Logger) (int, error) {
	if logger == nil {
		logger = log.Discard()
	}
	cw := csv.NewWriter(w)

	written := 0
	opts := storage.ListOptions{OrderBy: "transaction_date", Asc: true, Limit: storage.BatchSize}
	for {
		page, err := store.ListTransactions(ctx, opts)
		if err != nil {
			return written, fmt.Errorf("export transactions: %w", err)
		}
		for _, t := range page.Items {
			record := []string{
				t.Amount.StringFixed(2),
				strconv.FormatInt(core.ToMillis(t.Date), 10),
				t.Category,
				t.Description,
			}
			if err := cw.Write(record); err != nil {
				return written, fmt.Errorf("write csv: %w", err)
			}
			written++
		}
		if page.NextOffset < 0 {
			break
		}
		opts.Offset = page.NextOffset
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return written, fmt.Errorf("write csv: %w", err)
	}
	logger.WithComponent(log.ComponentExport).Info("Transactions exported",
		log.FieldOperation, log.OpExport, log.FieldCount, written)
	return written, nil
}

// ParseCSV reads transactions from r. Fields are trimmed, blank lines are
// skipped and a leading header row is tolerated. Every row is validated; the
// first bad row fails the whole parse.
func ParseCSV(r io.Reader) ([]core.Transaction, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = csvFields
	cr.TrimLeadingSpace = true

	var out []core.Transaction
	for first := true; ; first = false {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCSV, err)
		}
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		if first && strings.EqualFold(record[0], "amount") {
			continue
		}

		t, err := parseRecord(record)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("%w: line %d: %w", ErrInvalidCSV, line, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func parseRecord(record []string) (core.Transaction, error) {
	amount, err := core.ParseAmount(record[0])
	if err != nil {
		return core.Transaction{}, fmt.Errorf("amount %q: %w", record[0], err)
	}
	ms, err := strconv.ParseInt(record[1], 10, 64)
	if err != nil || ms <= 0 {
		return core.Transaction{}, fmt.Errorf("transaction_date %q: %w", record[1], core.ErrInvalidDate)
	}
	t := core.Transaction{
		Amount:      amount,
		Date:        core.FromMillis(ms),
		Category:    record[2],
		Description: record[3],
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

// ImportCSV parses r and stores every row in one database transaction.
func ImportCSV(ctx context.Context, svc *TransactionService, r io.Reader) (int, error) {
	ts, err := ParseCSV(r)
	if err != nil {
		return 0, err
	}
	return svc.ImportTransactions(ctx, ts)
}
