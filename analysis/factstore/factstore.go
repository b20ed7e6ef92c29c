// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package factstore persists the relations of an analysis run in PostgreSQL. Every relation is stored in a table of
// the same name, whose first column is the identifier of the run; the runs themselves are listed in the runs table.
package factstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/awslabs/ar-bin-tools/analysis/config"
	"github.com/awslabs/ar-bin-tools/analysis/datalog"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// RunsTable is the table listing the persisted runs.
const RunsTable = "argot_runs"

// Run describes an analysis run.
type Run struct {
	ID       uuid.UUID
	Started  time.Time
	Binaries []string
	Findings int
	Partial  bool
}

// Store is a connection to the fact store.
type Store struct {
	db     *sql.DB
	logger *config.LogGroup
}

// Open connects to the PostgreSQL database described by the connection string dsn.
func Open(ctx context.Context, dsn string, logger *config.LogGroup) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid fact store connection string: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to the fact store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores the rows of the tables under the identifier of the run, in one transaction.
func (s *Store) Save(ctx context.Context, run Run, tables []datalog.Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, runsTableSQL()); err != nil {
		return fmt.Errorf("could not create %s: %w", RunsTable, err)
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (run_id, started, binaries, findings, partial) VALUES ($1, $2, $3, $4, $5)",
			pq.QuoteIdentifier(RunsTable)),
		run.ID.String(), run.Started, pq.Array(run.Binaries), run.Findings, run.Partial)
	if err != nil {
		return fmt.Errorf("could not record run %s: %w", run.ID, err)
	}
	for _, t := range tables {
		if err := saveTable(ctx, tx, run.ID, t); err != nil {
			return err
		}
		if s.logger != nil {
			s.logger.Debugf("Stored %d rows of %s", t.Len(), t.Name())
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit run %s: %w", run.ID, err)
	}
	return nil
}

func saveTable(ctx context.Context, tx *sql.Tx, runID uuid.UUID, t datalog.Table) error {
	rows := t.Rows()
	kinds := ColumnKinds(t.Columns(), rows)
	if _, err := tx.ExecContext(ctx, CreateTableSQL(t.Name(), t.Columns(), kinds)); err != nil {
		return fmt.Errorf("could not create table %s: %w", t.Name(), err)
	}
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(t.Name(), append([]string{"run_id"}, t.Columns()...)...))
	if err != nil {
		return fmt.Errorf("could not prepare copy into %s: %w", t.Name(), err)
	}
	defer stmt.Close()
	for _, row := range rows {
		args := make([]any, 0, len(row)+1)
		args = append(args, runID.String())
		for _, v := range row {
			args = append(args, SQLValue(v))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("could not copy row into %s: %w", t.Name(), err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("could not flush copy into %s: %w", t.Name(), err)
	}
	return nil
}

func runsTableSQL() string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (run_id uuid PRIMARY KEY, started timestamptz NOT NULL, "+
		"binaries text[] NOT NULL, findings integer NOT NULL, partial boolean NOT NULL)", pq.QuoteIdentifier(RunsTable))
}

// ColumnKinds returns the kind of each column, read from the first row. Columns of an empty table are strings.
func ColumnKinds(columns []string, rows [][]datalog.Value) []datalog.Kind {
	kinds := make([]datalog.Kind, len(columns))
	for i := range kinds {
		kinds[i] = datalog.KindString
		if len(rows) > 0 && i < len(rows[0]) {
			kinds[i] = rows[0][i].Kind()
		}
	}
	return kinds
}

// CreateTableSQL returns the statement creating the table of a relation.
func CreateTableSQL(name string, columns []string, kinds []datalog.Kind) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (run_id uuid NOT NULL", pq.QuoteIdentifier(name))
	for i, c := range columns {
		fmt.Fprintf(&b, ", %s %s", pq.QuoteIdentifier(c), sqlType(kinds[i]))
	}
	b.WriteString(")")
	return b.String()
}

// sqlType maps value kinds to column types. Addresses and identifiers are unsigned 64 bit values, which do not fit
// in bigint.
func sqlType(k datalog.Kind) string {
	switch k {
	case datalog.KindAddress, datalog.KindStack, datalog.KindTrace:
		return "numeric(20)"
	case datalog.KindInt:
		return "bigint"
	case datalog.KindBool:
		return "boolean"
	case datalog.KindBytes:
		return "bytea"
	default:
		return "text"
	}
}

// SQLValue converts a value to the argument stored in its column.
func SQLValue(v datalog.Value) any {
	switch v.Kind() {
	case datalog.KindAddress, datalog.KindStack, datalog.KindTrace:
		return strconv.FormatUint(v.Uint(), 10)
	case datalog.KindInt:
		return int64(v.Uint())
	case datalog.KindBool:
		return v.Uint() != 0
	case datalog.KindBytes:
		return v.Blob()
	case datalog.KindString:
		return v.Text()
	default:
		return v.String()
	}
}
