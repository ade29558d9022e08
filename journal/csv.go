package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

var csvHeader = []string{"trade_id", "signal_id", "instrument", "direction", "source", "units", "entry_price", "exit_price", "stop_loss", "open_time", "close_time", "realized_pl", "reason"}

// CSV appends trade records to a file, writing the header when the file
// is new.
type CSV struct {
	w *csv.Writer
	f *os.File
}

func NewCSV(path string) (*CSV, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	w := csv.NewWriter(f)
	if st.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			_ = f.Close()
			return nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return &CSV{w: w, f: f}, nil
}

func (j *CSV) RecordTrade(t TradeRecord) error {
	err := j.w.Write([]string{
		t.TradeID,
		t.SignalID,
		t.Instrument,
		t.Direction.String(),
		t.Source,
		f(t.Units),
		f(t.EntryPrice),
		f(t.ExitPrice),
		f(t.StopLoss),
		t.OpenTime.UTC().Format(time.RFC3339),
		t.CloseTime.UTC().Format(time.RFC3339),
		f(t.RealizedPL),
		t.Reason,
	})
	if err != nil {
		return err
	}
	j.w.Flush()
	return j.w.Error()
}

func (j *CSV) Close() error {
	j.w.Flush()
	if err := j.w.Error(); err != nil {
		_ = j.f.Close()
		return err
	}
	return j.f.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
