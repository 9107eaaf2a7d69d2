package sqlstore

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/sqldb"
)

// dialect captures the differences between the PostgreSQL and SQLite
// renditions of the same queries. Queries are written with '?' placeholders.
type dialect struct {
	name        string
	numbered    bool
	lockSuffix  string
	schema      []string
	isUniqueErr func(error) bool
}

var postgresDialect = dialect{
	name:       sqldb.DriverPostgres,
	numbered:   true,
	lockSuffix: " FOR UPDATE",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id BIGSERIAL PRIMARY KEY,
			url TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			text TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS term_lexicon (
			id BIGSERIAL PRIMARY KEY,
			term TEXT NOT NULL UNIQUE,
			frequency INTEGER NOT NULL DEFAULT 0 CHECK (frequency >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS document_lexicon (
			id BIGSERIAL PRIMARY KEY,
			document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE RESTRICT,
			term_id BIGINT NOT NULL REFERENCES term_lexicon(id) ON DELETE RESTRICT,
			frequency INTEGER NOT NULL CHECK (frequency >= 0),
			UNIQUE (document_id, term_id)
		)`,
		`CREATE INDEX IF NOT EXISTS document_lexicon_term_id_idx ON document_lexicon (term_id)`,
	},
	isUniqueErr: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == "23505"
	},
}

// SQLite serializes writers, so row locks are unnecessary.
var sqliteDialect = dialect{
	name: sqldb.DriverSQLite,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			text TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS term_lexicon (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			term TEXT NOT NULL UNIQUE,
			frequency INTEGER NOT NULL DEFAULT 0 CHECK (frequency >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS document_lexicon (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE RESTRICT,
			term_id INTEGER NOT NULL REFERENCES term_lexicon(id) ON DELETE RESTRICT,
			frequency INTEGER NOT NULL CHECK (frequency >= 0),
			UNIQUE (document_id, term_id)
		)`,
		`CREATE INDEX IF NOT EXISTS document_lexicon_term_id_idx ON document_lexicon (term_id)`,
	},
	isUniqueErr: func(err error) bool {
		return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case sqldb.DriverPostgres:
		return postgresDialect, nil
	case sqldb.DriverSQLite:
		return sqliteDialect, nil
	default:
		return dialect{}, errors.New("sqlstore: unsupported driver " + strconv.Quote(driver))
	}
}

// rebind rewrites '?' placeholders to $1, $2, ... for dialects that number
// their parameters. Queries never contain literal question marks.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
