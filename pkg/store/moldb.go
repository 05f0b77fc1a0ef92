package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ChrisMcGann/SMEngine/pkg/moldb"
)

// SaveMolDB stores a molecular database with its formulas and sets db.ID.
// A database with the same name and version must not exist yet.
func (s *Store) SaveMolDB(ctx context.Context, db *moldb.MolecularDB) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var id int
		err := tx.QueryRowContext(ctx, s.q(`INSERT INTO molecular_db (name, version) VALUES (?, ?) RETURNING id`),
			db.Name, db.Version).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to insert molecular database %s: %w", db, err)
		}

		stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO formula (db_id, sf_id, sf, names, ids) VALUES (?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("failed to prepare formula statement: %w", err)
		}
		defer stmt.Close()

		for _, f := range db.Formulas {
			names, err := json.Marshal(f.Names)
			if err != nil {
				return err
			}
			ids, err := json.Marshal(f.IDs)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, id, f.ID, f.SF, string(names), string(ids)); err != nil {
				return fmt.Errorf("failed to insert formula %s: %w", f.SF, err)
			}
		}
		db.ID = id
		return nil
	})
}

// FindMolDB loads a molecular database with its formulas. An empty version
// selects the most recently stored version.
func (s *Store) FindMolDB(ctx context.Context, name, version string) (*moldb.MolecularDB, error) {
	var row *sql.Row
	if version == "" {
		row = s.db.QueryRowContext(ctx, s.q(`SELECT id, name, version FROM molecular_db WHERE name = ? ORDER BY id DESC LIMIT 1`), name)
	} else {
		row = s.db.QueryRowContext(ctx, s.q(`SELECT id, name, version FROM molecular_db WHERE name = ? AND version = ?`), name, version)
	}
	db := &moldb.MolecularDB{}
	err := row.Scan(&db.ID, &db.Name, &db.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", name, version, ErrUnknownMolDB)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load molecular database %s: %w", name, err)
	}
	if db.Formulas, err = s.formulas(ctx, db.ID); err != nil {
		return nil, err
	}
	return db, nil
}

// GetMolDB loads a molecular database by id.
func (s *Store) GetMolDB(ctx context.Context, id int) (*moldb.MolecularDB, error) {
	db := &moldb.MolecularDB{}
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, name, version FROM molecular_db WHERE id = ?`), id).
		Scan(&db.ID, &db.Name, &db.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("id %d: %w", id, ErrUnknownMolDB)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load molecular database %d: %w", id, err)
	}
	if db.Formulas, err = s.formulas(ctx, db.ID); err != nil {
		return nil, err
	}
	return db, nil
}

// ListMolDBs returns the stored databases without their formulas.
func (s *Store) ListMolDBs(ctx context.Context) ([]moldb.MolecularDB, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, version FROM molecular_db ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list molecular databases: %w", err)
	}
	defer rows.Close()

	var out []moldb.MolecularDB
	for rows.Next() {
		var db moldb.MolecularDB
		if err := rows.Scan(&db.ID, &db.Name, &db.Version); err != nil {
			return nil, fmt.Errorf("failed to list molecular databases: %w", err)
		}
		out = append(out, db)
	}
	return out, rows.Err()
}

func (s *Store) formulas(ctx context.Context, dbID int) ([]moldb.Formula, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT sf_id, sf, names, ids FROM formula WHERE db_id = ? ORDER BY sf_id`), dbID)
	if err != nil {
		return nil, fmt.Errorf("failed to load formulas of database %d: %w", dbID, err)
	}
	defer rows.Close()

	var out []moldb.Formula
	for rows.Next() {
		var (
			f          moldb.Formula
			names, ids sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.SF, &names, &ids); err != nil {
			return nil, fmt.Errorf("failed to load formulas of database %d: %w", dbID, err)
		}
		if err := unmarshalList(names, &f.Names); err != nil {
			return nil, err
		}
		if err := unmarshalList(ids, &f.IDs); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func unmarshalList(v sql.NullString, dst *[]string) error {
	if !v.Valid || v.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(v.String), dst); err != nil {
		return fmt.Errorf("invalid stored list %q: %w", v.String, err)
	}
	return nil
}
