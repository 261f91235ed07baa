package server

import (
	"log"

	"github.com/BurntSushi/migration"
)

// The migration library needs to read and record its schema version number,
// and the SQL for that is not portable between dialects. A database adapter
// fills in one of these with its own statements and hands the Get and Set
// methods to migration.OpenWith.
type schemaVersion struct {
	Query  string // returns the current version, one row one column
	Insert string // records a version, takes the version as its argument
	Create string // creates the version table
}

// Get reads the schema version. A query error is taken to mean the version
// table does not exist yet, so version 0 is reported.
func (v schemaVersion) Get(tx migration.LimitedTx) (int, error) {
	var version int
	err := tx.QueryRow(v.Query).Scan(&version)
	if err != nil {
		log.Println(err.Error())
		return 0, nil
	}
	return version, nil
}

// Set records the schema version, creating the version table on demand.
func (v schemaVersion) Set(tx migration.LimitedTx, version int) error {
	if err := v.insert(tx, version); err == nil {
		return nil
	}
	// assume the version table is missing. make it and try again.
	if _, err := tx.Exec(v.Create); err != nil {
		return err
	}
	if err := v.insert(tx, 0); err != nil {
		return err
	}
	return v.insert(tx, version)
}

func (v schemaVersion) insert(tx migration.LimitedTx, version int) error {
	_, err := tx.Exec(v.Insert, version)
	return err
}
