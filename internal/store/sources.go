package store

import (
	"database/sql"
	"fmt"
)

// --- Source operations ---

// UpsertSource records src unless a source with the same hash exists, and
// sets src.ID to the id of the stored row either way.
func (s *Store) UpsertSource(src *Source) (int64, error) {
	if _, err := s.db.Exec(
		"INSERT OR IGNORE INTO sources (path, hash, content, loaded_at) VALUES (?, ?, ?, ?)",
		src.Path, src.Hash, src.Content, src.LoadedAt,
	); err != nil {
		return 0, fmt.Errorf("upsert source: %w", err)
	}
	var id int64
	if err := s.db.QueryRow("SELECT id FROM sources WHERE hash = ?", src.Hash).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert source: lookup: %w", err)
	}
	src.ID = id
	return id, nil
}

// SourceByHash returns the source with the given hash, or nil if none.
func (s *Store) SourceByHash(hash string) (*Source, error) {
	return s.scanSource(s.db.QueryRow(
		"SELECT id, path, hash, content, loaded_at FROM sources WHERE hash = ?", hash,
	))
}

// SourceByID returns the source with the given id, or nil if none.
func (s *Store) SourceByID(id int64) (*Source, error) {
	return s.scanSource(s.db.QueryRow(
		"SELECT id, path, hash, content, loaded_at FROM sources WHERE id = ?", id,
	))
}

func (s *Store) scanSource(row *sql.Row) (*Source, error) {
	src := &Source{}
	err := row.Scan(&src.ID, &src.Path, &src.Hash, &src.Content, &src.LoadedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}
	return src, nil
}

// --- Function catalog operations ---

// ReplaceFunctions transactionally replaces the function catalog of a source.
func (s *Store) ReplaceFunctions(sourceID int64, fns []*Function) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("replace functions: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM functions WHERE source_id = ?", sourceID); err != nil {
		return fmt.Errorf("replace functions: delete: %w", err)
	}
	for _, fn := range fns {
		fn.SourceID = sourceID
		id, err := insertFunctionTx(tx, fn)
		if err != nil {
			return fmt.Errorf("replace functions: %q: %w", fn.Name, err)
		}
		fn.ID = id
	}
	return tx.Commit()
}

// FunctionsBySource returns the catalog of a source ordered by function id.
func (s *Store) FunctionsBySource(sourceID int64) ([]*Function, error) {
	rows, err := s.db.Query(
		`SELECT id, source_id, function_id, name, params, external, line, shadowed
		 FROM functions WHERE source_id = ? ORDER BY function_id`, sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("functions by source: %w", err)
	}
	defer rows.Close()
	var fns []*Function
	for rows.Next() {
		fn := &Function{}
		var params string
		if err := rows.Scan(&fn.ID, &fn.SourceID, &fn.FunctionID, &fn.Name, &params, &fn.External, &fn.Line, &fn.Shadowed); err != nil {
			return nil, fmt.Errorf("scan function: %w", err)
		}
		fn.Params = unmarshalParams(params)
		fns = append(fns, fn)
	}
	return fns, rows.Err()
}

func insertFunctionTx(tx *sql.Tx, fn *Function) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO functions (source_id, function_id, name, params, external, line, shadowed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fn.SourceID, fn.FunctionID, fn.Name, marshalParams(fn.Params), fn.External, fn.Line, fn.Shadowed,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
