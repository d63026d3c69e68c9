// Package nvram persists guest firmware variables in SQLite.
package nvram

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeeftor/vmcap/internal/capability"
	_ "modernc.org/sqlite"
)

// SystemGUID prefixes variables that live in the system partition.
const SystemGUID = "7C436110-AB2A-4BBB-A880-FE41995C9F82"

const schema = `
CREATE TABLE IF NOT EXISTS nvram_variables (
	machine    TEXT    NOT NULL,
	partition  INTEGER NOT NULL,
	name       TEXT    NOT NULL,
	kind       TEXT    NOT NULL,
	value      BLOB,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (machine, name)
);
CREATE INDEX IF NOT EXISTS nvram_variables_partition ON nvram_variables (machine, partition);
`

// Store holds the variables of every machine in one database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("nvram database path is required")
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create nvram schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ForMachine returns the variables of one machine as a capability.NVRAMStore.
func (s *Store) ForMachine(machine string) *MachineStore {
	return &MachineStore{store: s, machine: machine}
}

// Machines lists the machines that have at least one variable.
func (s *Store) Machines(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT machine FROM nvram_variables ORDER BY machine`)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Copy duplicates every variable of from into to, replacing existing ones.
func (s *Store) Copy(ctx context.Context, from, to string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO nvram_variables (machine, partition, name, kind, value, updated_at)
		 SELECT ?, partition, name, kind, value, ? FROM nvram_variables WHERE machine = ?`,
		to, time.Now().UTC().UnixMilli(), from)
	if err != nil {
		return fmt.Errorf("copy nvram %s -> %s: %w", from, to, err)
	}
	return nil
}

// DeleteMachine removes every variable of machine.
func (s *Store) DeleteMachine(ctx context.Context, machine string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nvram_variables WHERE machine = ?`, machine); err != nil {
		return fmt.Errorf("delete nvram of %s: %w", machine, err)
	}
	return nil
}

// MachineStore is the NVRAM of a single machine.
type MachineStore struct {
	store   *Store
	machine string
}

var _ capability.NVRAMStore = (*MachineStore)(nil)

// PartitionForName returns the partition a variable name belongs to.
func PartitionForName(name string) capability.NVRAMPartition {
	if guid, _, ok := strings.Cut(name, ":"); ok && strings.EqualFold(guid, SystemGUID) {
		return capability.PartitionSystem
	}
	return capability.PartitionCommon
}

// AllVariables returns every variable of the machine.
func (m *MachineStore) AllVariables(ctx context.Context) (map[string]capability.NVRAMValue, error) {
	return m.query(ctx, `SELECT name, kind, value FROM nvram_variables WHERE machine = ?`, m.machine)
}

// AllVariablesInPartition returns the variables of one partition.
func (m *MachineStore) AllVariablesInPartition(ctx context.Context, p capability.NVRAMPartition) (map[string]capability.NVRAMValue, error) {
	if p != capability.PartitionCommon && p != capability.PartitionSystem {
		return nil, fmt.Errorf("unknown NVRAM partition %d", uint(p))
	}
	return m.query(ctx, `SELECT name, kind, value FROM nvram_variables WHERE machine = ? AND partition = ?`, m.machine, uint(p))
}

func (m *MachineStore) query(ctx context.Context, q string, args ...any) (map[string]capability.NVRAMValue, error) {
	rows, err := m.store.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list nvram variables: %w", err)
	}
	defer rows.Close()

	out := make(map[string]capability.NVRAMValue)
	for rows.Next() {
		var name, kind string
		var raw []byte
		if err := rows.Scan(&name, &kind, &raw); err != nil {
			return nil, fmt.Errorf("scan nvram variable: %w", err)
		}
		v, err := decodeValue(kind, raw)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		out[name] = v
	}
	return out, rows.Err()
}

// Value returns the named variable, or capability.ErrNoValue.
func (m *MachineStore) Value(ctx context.Context, name string) (capability.NVRAMValue, error) {
	var kind string
	var raw []byte
	err := m.store.db.QueryRowContext(ctx,
		`SELECT kind, value FROM nvram_variables WHERE machine = ? AND name = ?`,
		m.machine, name).Scan(&kind, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, capability.ErrNoValue
	}
	if err != nil {
		return nil, fmt.Errorf("get nvram variable %q: %w", name, err)
	}
	return decodeValue(kind, raw)
}

// Remove deletes the named variable, or returns capability.ErrNoValue.
func (m *MachineStore) Remove(ctx context.Context, name string) error {
	res, err := m.store.db.ExecContext(ctx,
		`DELETE FROM nvram_variables WHERE machine = ? AND name = ?`, m.machine, name)
	if err != nil {
		return fmt.Errorf("remove nvram variable %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return capability.ErrNoValue
	}
	return nil
}

// SetValue creates or replaces the named variable.
func (m *MachineStore) SetValue(ctx context.Context, name string, value capability.NVRAMValue) error {
	if name == "" {
		return fmt.Errorf("nvram variable name is required")
	}
	v, err := capability.NormalizeNVRAMValue(value)
	if err != nil {
		return err
	}
	kind, raw, err := encodeValue(v)
	if err != nil {
		return err
	}
	_, err = m.store.db.ExecContext(ctx,
		`INSERT INTO nvram_variables (machine, partition, name, kind, value, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (machine, name) DO UPDATE SET
		   partition = excluded.partition, kind = excluded.kind,
		   value = excluded.value, updated_at = excluded.updated_at`,
		m.machine, uint(PartitionForName(name)), name, kind, raw, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("set nvram variable %q: %w", name, err)
	}
	return nil
}
