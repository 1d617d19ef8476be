package repository

import (
	"strconv"
	"strings"
)

// Dialect adapts postgres-style queries to the configured driver.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// DialectFor maps a database driver name to its dialect.
func DialectFor(driver string) Dialect {
	if strings.EqualFold(strings.TrimSpace(driver), "sqlite") {
		return SQLite
	}
	return Postgres
}

// Bind rewrites $N placeholders for the dialect. SQLite receives anonymous
// placeholders with args reordered (and repeated) by occurrence.
func (d Dialect) Bind(query string, args ...any) (string, []any) {
	if d == Postgres {
		return query, args
	}

	var (
		b   strings.Builder
		out = make([]any, 0, len(args))
	)
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c != '$' {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if j == i+1 {
			b.WriteByte(c)
			continue
		}
		n, err := strconv.Atoi(query[i+1 : j])
		if err != nil || n < 1 || n > len(args) {
			b.WriteString(query[i:j])
			i = j - 1
			continue
		}
		b.WriteByte('?')
		out = append(out, args[n-1])
		i = j - 1
	}
	return b.String(), out
}
