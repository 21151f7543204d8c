package journal

import (
	"context"
	"encoding/csv"
	"os"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var csvHeader = []string{"Time", "Action", "Symbol", "Price", "Amount", "Value", "Note"}

const csvTimeLayout = "2006-01-02 15:04:05"

// CSVLedger appends rows to a CSV file, writing the header only when the file
// is new or empty. Existing rows are never truncated.
type CSVLedger struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

func OpenCSV(path string) (*CSVLedger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open ledger %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat ledger %s", path)
	}

	l := &CSVLedger{file: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := l.write(csvHeader); err != nil {
			f.Close()
			return nil, err
		}
	}
	return l, nil
}

func (l *CSVLedger) write(row []string) error {
	if err := l.w.Write(row); err != nil {
		return errors.Wrap(err, "write ledger row")
	}
	l.w.Flush()
	return errors.Wrap(l.w.Error(), "flush ledger")
}

func (l *CSVLedger) Append(_ context.Context, t Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write([]string{
		t.Time.Format(csvTimeLayout),
		t.Action,
		t.Symbol,
		strconv.FormatFloat(t.Price, 'f', -1, 64),
		strconv.FormatFloat(t.Amount, 'f', -1, 64),
		decimal.NewFromFloat(t.Value()).StringFixed(2),
		t.Note,
	})
}

func (l *CSVLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
