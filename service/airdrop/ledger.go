package airdrop

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Ledger records failed transfers durably: a human-readable line appended
// to a plain-text log, and the structured record appended to a JSON array
// file that a retry pass can replay.
//
// The JSON append is a read-modify-write of the whole file, which is not
// safe under concurrent writers. All writes go through the ledger's mutex;
// transfer goroutines call Append concurrently and the ledger serializes
// them. Frequent flushing is kept so a crashed run loses at most the
// in-flight record.
type Ledger struct {
	mu       sync.Mutex
	textPath string
	jsonPath string
}

// NewLedger creates a ledger writing to the given text and JSON paths.
// Parent directories are created on first append.
func NewLedger(textPath, jsonPath string) *Ledger {
	return &Ledger{textPath: textPath, jsonPath: jsonPath}
}

// JSONPath returns the path of the JSON array file.
func (l *Ledger) JSONPath() string { return l.jsonPath }

// Append durably records one failed transfer.
func (l *Ledger) Append(rec ErrorRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.jsonPath), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	line := fmt.Sprintf("ERROR: sending %d of %s to %s failed: %s\n",
		rec.TransferAmount, rec.Mint, rec.Wallet, rec.Message)
	if err := appendLine(l.textPath, line); err != nil {
		return fmt.Errorf("append ledger text log: %w", err)
	}

	records, err := readRecords(l.jsonPath)
	if err != nil {
		return err
	}
	records = append(records, rec)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	if err := os.WriteFile(l.jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("write ledger %s: %w", l.jsonPath, err)
	}
	return nil
}

// Read returns the records currently in the ledger, in append order.
func (l *Ledger) Read() ([]ErrorRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return readRecords(l.jsonPath)
}

// Reset truncates both files. Fresh (non-retry) runs call this so a new
// airdrop does not inherit a previous run's failures.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.jsonPath), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	if err := os.WriteFile(l.textPath, nil, 0o644); err != nil {
		return fmt.Errorf("reset %s: %w", l.textPath, err)
	}
	if err := os.WriteFile(l.jsonPath, []byte("[]"), 0o644); err != nil {
		return fmt.Errorf("reset %s: %w", l.jsonPath, err)
	}
	return nil
}

// Compact empties the JSON array. Called only after a retry pass in which
// every replayed record succeeded; a pass with any renewed failure leaves
// the source ledger untouched.
func (l *Ledger) Compact() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.WriteFile(l.jsonPath, []byte("[]"), 0o644); err != nil {
		return fmt.Errorf("compact %s: %w", l.jsonPath, err)
	}
	return nil
}

// ReadLedgerFile reads a ledger JSON array from an arbitrary path, e.g. to
// seed a retry pass. A missing or empty file yields no records.
func ReadLedgerFile(path string) ([]ErrorRecord, error) {
	return readRecords(path)
}

func readRecords(path string) ([]ErrorRecord, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []ErrorRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	return records, nil
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line)
	return err
}
