package server

import (
	"database/sql"
	"encoding/json"
	"log"
	"strings"
	"time"

	// no _ in import mysql since we need mysql.NullTime
	"github.com/BurntSushi/migration"
	"github.com/go-sql-driver/mysql"
)

// This file implements the catalog and fixity interfaces using MySQL as the
// backing store.

type mysqlCatalog struct {
	db *sql.DB
}

var _ Catalog = &mysqlCatalog{}
var _ FixityDB = &mysqlCatalog{}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of migrations already in this list.
var mysqlMigrations = []migration.Migrator{
	mysqlschema1,
}

// Adapt the schema versioning for MySQL
var mysqlVersioning = schemaVersion{
	Query:  `SELECT max(version) FROM migration_version`,
	Insert: `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	Create: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

// NewMysqlCatalog connects to a MySQL database and returns an object
// satisfying both the Catalog and FixityDB interfaces.
func NewMysqlCatalog(dial string) (*mysqlCatalog, error) {
	db, err := migration.OpenWith(
		"mysql",
		dial,
		mysqlMigrations,
		mysqlVersioning.Get,
		mysqlVersioning.Set)
	if err != nil {
		log.Printf("Open Mysql: %s", err.Error())
		return nil, err
	}
	return &mysqlCatalog{db: db}, nil
}

func (ms *mysqlCatalog) Lookup(key string) *ContainerInfo {
	const dbLookup = `SELECT value FROM containers WHERE container = ? LIMIT 1`

	var value string
	err := ms.db.QueryRow(dbLookup, key).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			// some kind of error...treat it as a miss
			log.Printf("Catalog: %s", err.Error())
		}
		return nil
	}
	var info = new(ContainerInfo)
	err = json.Unmarshal([]byte(value), info)
	if err != nil {
		log.Printf("Catalog: error in lookup: %s", err.Error())
		return nil
	}
	return info
}

func (ms *mysqlCatalog) Set(key string, info *ContainerInfo) {
	value, err := json.Marshal(info)
	if err != nil {
		log.Printf("Catalog: %s", err.Error())
		return
	}
	const stmt = `INSERT INTO containers (container, uploaded, size, value) VALUES (?, ?, ?, ?) ON DUPLICATE KEY UPDATE uploaded=?, size=?, value=?`

	_, err = ms.db.Exec(stmt, key, info.Uploaded, info.Size, value, info.Uploaded, info.Size, value)
	if err != nil {
		log.Printf("Catalog: %s", err.Error())
	}
}

func (ms *mysqlCatalog) Delete(key string) {
	const stmt = `DELETE FROM containers WHERE container = ?`

	_, err := ms.db.Exec(stmt, key)
	if err != nil {
		log.Printf("Catalog: %s", err.Error())
	}
}

func (ms *mysqlCatalog) NextFixity(cutoff time.Time) int64 {
	const query = `
		SELECT id
		FROM fixity
		WHERE status = "scheduled" AND scheduled_time <= ?
		ORDER BY scheduled_time
		LIMIT 1`

	var id int64
	err := ms.db.QueryRow(query, cutoff).Scan(&id)
	if err == sql.ErrNoRows {
		// no next record
		return 0
	} else if err != nil {
		log.Println("nextfixity", err.Error())
		return 0
	}
	return id
}

func (ms *mysqlCatalog) GetFixity(id int64) *Fixity {
	const query = `
		SELECT id, container, scheduled_time, status, notes
		FROM fixity
		WHERE id = ?
		LIMIT 1`

	var fx Fixity
	var when mysql.NullTime
	err := ms.db.QueryRow(query, id).Scan(
		&fx.ID,
		&fx.Key,
		&when,
		&fx.Status,
		&fx.Notes)
	if err == sql.ErrNoRows {
		return nil
	} else if err != nil {
		log.Println("getfixity", err.Error())
		return nil
	}
	if when.Valid {
		fx.ScheduledTime = when.Time
	}
	return &fx
}

func (ms *mysqlCatalog) UpdateFixity(fx Fixity) (int64, error) {
	if fx.Status == "" {
		fx.Status = "scheduled"
	}
	if fx.ID == 0 {
		const stmt = `INSERT INTO fixity (container, scheduled_time, status, notes) VALUES (?,?,?,?)`

		result, err := ms.db.Exec(stmt, fx.Key, fx.ScheduledTime, fx.Status, fx.Notes)
		if err != nil {
			return 0, err
		}
		return result.LastInsertId()
	}
	// a record is frozen once it leaves the scheduled state
	const stmt = `
		UPDATE fixity
		SET container = ?, scheduled_time = ?, status = ?, notes = ?
		WHERE id = ? AND status = "scheduled"`

	_, err := ms.db.Exec(stmt, fx.Key, fx.ScheduledTime, fx.Status, fx.Notes, fx.ID)
	return fx.ID, err
}

func (ms *mysqlCatalog) SearchFixity(start, end time.Time, key string, status string) []*Fixity {
	query := `SELECT id, container, scheduled_time, status, notes FROM fixity`
	var conds []string
	var args []interface{}
	if !start.IsZero() {
		conds = append(conds, "scheduled_time >= ?")
		args = append(args, start)
	}
	if !end.IsZero() {
		conds = append(conds, "scheduled_time <= ?")
		args = append(args, end)
	}
	if key != "" {
		conds = append(conds, "container = ?")
		args = append(args, key)
	}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY scheduled_time"

	rows, err := ms.db.Query(query, args...)
	if err != nil {
		log.Println("searchfixity", err.Error())
		return nil
	}
	defer rows.Close()
	var result []*Fixity
	for rows.Next() {
		fx := new(Fixity)
		var when mysql.NullTime
		err = rows.Scan(
			&fx.ID,
			&fx.Key,
			&when,
			&fx.Status,
			&fx.Notes)
		if err != nil {
			log.Println("searchfixity", err.Error())
			continue
		}
		if when.Valid {
			fx.ScheduledTime = when.Time
		}
		result = append(result, fx)
	}
	return result
}

func (ms *mysqlCatalog) DeleteFixity(id int64) error {
	const stmt = `
		DELETE FROM fixity
		WHERE id = ? AND status = "scheduled"`

	_, err := ms.db.Exec(stmt, id)
	return err
}

func (ms *mysqlCatalog) LookupCheck(key string) (time.Time, error) {
	const query = `
		SELECT scheduled_time
		FROM fixity
		WHERE container = ? AND status = "scheduled"
		ORDER BY scheduled_time
		LIMIT 1`

	var when mysql.NullTime
	err := ms.db.QueryRow(query, key).Scan(&when)
	if err == sql.ErrNoRows {
		err = nil
	}
	if when.Valid {
		return when.Time, err
	}
	return time.Time{}, err
}

// database migrations. each one is a go function. Add them to the list
// mysqlMigrations at the top of this file for them to be run.

func mysqlschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS containers (
		id int PRIMARY KEY AUTO_INCREMENT,
		container varchar(255),
		uploaded datetime,
		size BIGINT,
		value LONGTEXT,
		UNIQUE INDEX containers_container (container))`,

		`CREATE TABLE IF NOT EXISTS fixity (
		id int PRIMARY KEY AUTO_INCREMENT,
		container varchar(255),
		scheduled_time datetime,
		status varchar(32),
		notes text,
		INDEX fixity_container (container),
		INDEX fixity_time (scheduled_time),
		INDEX fixity_status (status))`,
	}
	return execlist(tx, s)
}

// execlist exec's each item in the list, return if there is an error.
// Used to work around mysql driver not handling compound exec statements.
func execlist(tx migration.LimitedTx, stms []string) error {
	var err error
	for _, s := range stms {
		_, err = tx.Exec(s)
		if err != nil {
			break
		}
	}
	return err
}
