package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ClosedPosition is the reporting snapshot taken when an exit order is
// confirmed: the final position state plus the account balances at close.
type ClosedPosition struct {
	PositionID string                     `json:"position_id"`
	Symbol     string                     `json:"symbol"`
	Side       string                     `json:"side"`
	Qty        decimal.Decimal            `json:"qty"`
	EntryPrice *decimal.Decimal           `json:"entry_price,omitempty"`
	PnL        decimal.Decimal            `json:"pnl"`
	OpenedAt   time.Time                  `json:"opened_at"`
	ClosedAt   time.Time                  `json:"closed_at"`
	Balances   map[string]decimal.Decimal `json:"balances,omitempty"`
}

// Archive appends closed positions to a JSONL file under the state dir. The
// archive is for external reporting only; the engine never reads it back at
// runtime.
type Archive struct {
	root string
	mu   sync.Mutex
}

func NewArchive(root string) (*Archive, error) {
	if root == "" {
		return nil, errors.New("state dir required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Archive{root: root}, nil
}

func (a *Archive) AppendClosed(rec ClosedPosition) error {
	if rec.ClosedAt.IsZero() {
		rec.ClosedAt = time.Now().UTC()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.OpenFile(a.closedPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// LoadClosed reads the whole archive, oldest first. Blank lines are skipped;
// a malformed line aborts the read so corruption is noticed, not papered over.
func (a *Archive) LoadClosed() ([]ClosedPosition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.Open(a.closedPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []ClosedPosition
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec ClosedPosition
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Archive) closedPath() string {
	return filepath.Join(a.root, "closed_positions.jsonl")
}
