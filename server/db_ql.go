package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/cznic/ql/driver"
)

// This file implements the catalog and fixity interfaces on top of the QL
// embedded database. It is intended for single server installations and for
// development. Use MySQL if more than one server shares the catalog.

type qlCatalog struct {
	db *sql.DB
}

var _ Catalog = &qlCatalog{}
var _ FixityDB = &qlCatalog{}

const qlContainerInit = `
	CREATE TABLE IF NOT EXISTS containers (
		container string,
		uploaded time,
		size int,
		value blob
	);
	CREATE INDEX IF NOT EXISTS containerkey ON containers (container);
	CREATE INDEX IF NOT EXISTS containeruploaded ON containers (uploaded);
`

const qlFixityInit = `
	CREATE TABLE IF NOT EXISTS fixity (
		container string,
		scheduled_time time,
		status string,
		notes string
	);
	CREATE INDEX IF NOT EXISTS fixitycontainer ON fixity (container);
	CREATE INDEX IF NOT EXISTS fixitytime ON fixity (scheduled_time);
	CREATE INDEX IF NOT EXISTS fixitystatus ON fixity (status);
`

// each memory database gets a distinct name, otherwise opening "memory"
// twice would share state
var memoryCount int32

// NewQlCatalog opens a QL database in the given file, creating it if needed.
// The filename "memory" means to keep everything in memory.
func NewQlCatalog(filename string) (*qlCatalog, error) {
	var db *sql.DB
	var err error
	if filename == "memory" {
		n := atomic.AddInt32(&memoryCount, 1)
		db, err = sql.Open("ql-mem", fmt.Sprintf("mem%d.db", n))
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err == nil {
		_, err = performExec(db, qlContainerInit)
	}
	if err == nil {
		_, err = performExec(db, qlFixityInit)
	}
	if err != nil {
		log.Printf("Open QL: %s", err.Error())
		return nil, err
	}
	return &qlCatalog{db: db}, nil
}

func (qc *qlCatalog) Lookup(key string) *ContainerInfo {
	const dbLookup = `SELECT value FROM containers WHERE container == ?1 LIMIT 1`

	var value string
	err := qc.db.QueryRow(dbLookup, key).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("Catalog QL: %s", err.Error())
		}
		return nil
	}
	var info = new(ContainerInfo)
	err = json.Unmarshal([]byte(value), info)
	if err != nil {
		return nil
	}
	return info
}

func (qc *qlCatalog) Set(key string, info *ContainerInfo) {
	const dbUpdate = `UPDATE containers SET uploaded = ?2, size = ?3, value = ?4 WHERE container == ?1`
	const dbInsert = `INSERT INTO containers VALUES (?1, ?2, ?3, ?4)`

	value, err := json.Marshal(info)
	if err != nil {
		log.Printf("Catalog QL: %s", err.Error())
		return
	}
	result, err := performExec(qc.db, dbUpdate, key, info.Uploaded, info.Size, value)
	if err != nil {
		log.Printf("Catalog QL: %s", err.Error())
		return
	}
	nrows, err := result.RowsAffected()
	if err != nil {
		log.Printf("Catalog QL: %s", err.Error())
		return
	}
	if nrows == 0 {
		// record didn't exist. create it
		_, err = performExec(qc.db, dbInsert, key, info.Uploaded, info.Size, value)
		if err != nil {
			log.Printf("Catalog QL: %s", err.Error())
		}
	}
}

func (qc *qlCatalog) Delete(key string) {
	const query = `DELETE FROM containers WHERE container == ?1`

	_, err := performExec(qc.db, query, key)
	if err != nil {
		log.Printf("Catalog QL: %s", err.Error())
	}
}

func (qc *qlCatalog) NextFixity(cutoff time.Time) int64 {
	const query = `
		SELECT id(), scheduled_time
		FROM fixity
		WHERE status == "scheduled" AND scheduled_time <= ?1
		ORDER BY scheduled_time
		LIMIT 1;`

	var id int64
	var when time.Time
	err := qc.db.QueryRow(query, cutoff).Scan(&id, &when)
	if err == sql.ErrNoRows {
		// no next record
		return 0
	} else if err != nil {
		log.Println("nextfixity QL", err.Error())
		return 0
	}
	return id
}

func (qc *qlCatalog) GetFixity(id int64) *Fixity {
	const query = `
		SELECT id(), container, scheduled_time, status, notes
		FROM fixity
		WHERE id() == ?1
		LIMIT 1`

	var fx Fixity
	err := qc.db.QueryRow(query, id).Scan(
		&fx.ID,
		&fx.Key,
		&fx.ScheduledTime,
		&fx.Status,
		&fx.Notes)
	if err == sql.ErrNoRows {
		return nil
	} else if err != nil {
		log.Println("getfixity QL", err.Error())
		return nil
	}
	return &fx
}

func (qc *qlCatalog) UpdateFixity(fx Fixity) (int64, error) {
	if fx.Status == "" {
		fx.Status = "scheduled"
	}
	if fx.ID == 0 {
		const query = `INSERT INTO fixity VALUES (?1, ?2, ?3, ?4)`

		result, err := performExec(qc.db, query, fx.Key, fx.ScheduledTime, fx.Status, fx.Notes)
		if err != nil {
			return 0, err
		}
		return result.LastInsertId()
	}
	// a record is frozen once it leaves the scheduled state
	const query = `
		UPDATE fixity
		SET container = ?2, scheduled_time = ?3, status = ?4, notes = ?5
		WHERE id() == ?1 AND status == "scheduled"`

	_, err := performExec(qc.db, query, fx.ID, fx.Key, fx.ScheduledTime, fx.Status, fx.Notes)
	return fx.ID, err
}

func (qc *qlCatalog) SearchFixity(start, end time.Time, key string, status string) []*Fixity {
	query := `SELECT id(), container, scheduled_time, status, notes FROM fixity`
	var conds []string
	var args []interface{}
	addcond := func(expr string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}
	if !start.IsZero() {
		addcond("scheduled_time >= ?%d", start)
	}
	if !end.IsZero() {
		addcond("scheduled_time <= ?%d", end)
	}
	if key != "" {
		addcond("container == ?%d", key)
	}
	if status != "" {
		addcond("status == ?%d", status)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY scheduled_time;"

	rows, err := qc.db.Query(query, args...)
	if err != nil {
		log.Println("searchfixity QL", err.Error())
		return nil
	}
	defer rows.Close()
	var result []*Fixity
	for rows.Next() {
		fx := new(Fixity)
		err = rows.Scan(
			&fx.ID,
			&fx.Key,
			&fx.ScheduledTime,
			&fx.Status,
			&fx.Notes)
		if err != nil {
			log.Println("searchfixity QL", err.Error())
			continue
		}
		result = append(result, fx)
	}
	return result
}

func (qc *qlCatalog) DeleteFixity(id int64) error {
	const query = `
		DELETE FROM fixity
		WHERE id() == ?1 AND status == "scheduled"`

	_, err := performExec(qc.db, query, id)
	return err
}

func (qc *qlCatalog) LookupCheck(key string) (time.Time, error) {
	const query = `
		SELECT scheduled_time
		FROM fixity
		WHERE container == ?1 AND status == "scheduled"
		ORDER BY scheduled_time
		LIMIT 1`

	var when time.Time
	err := qc.db.QueryRow(query, key).Scan(&when)
	if err == sql.ErrNoRows {
		err = nil
	}
	return when, err
}

// performExec wraps an Exec in a transaction, since the QL driver will not
// execute statements outside of one.
func performExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	var result sql.Result
	result, err = tx.Exec(query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	err = tx.Commit()
	return result, err
}
