// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// A search request is a path of slash-separated tokens, for example
//
//	exact/country/FI/show/names/sort/employee_count/limit/10
//
// Matching operators take a field name and a value. Fields match anywhere in
// the document, including inside lists and subpath documents. The remaining
// operators control projection and paging.
type searchQuery struct {
	conditions []searchCondition
	show       []string
	showAll    bool
	sortKeys   []string
	offset     int
	limit      int
}

type searchCondition struct {
	operator string
	key      string
	value    string
}

// arity per matching operator, projection and paging operators are handled
// separately
var matchingOperators = map[string]bool{
	"contains":   true,
	"exact":      true,
	"ge":         true,
	"gt":         true,
	"le":         true,
	"lt":         true,
	"ne":         true,
	"startswith": true,
}

// parseSearch parses the condition path of a search request.
func parseSearch(raw string) (*searchQuery, error) {
	tokens := strings.Split(raw, "/")
	for i, token := range tokens {
		unescaped, err := url.PathUnescape(token)
		if err != nil {
			return nil, searchParserError{message: fmt.Sprintf("invalid search token: %s", token)}
		}
		tokens[i] = unescaped
	}

	sq := &searchQuery{offset: -1, limit: -1}
	for i := 0; i < len(tokens); {
		op := tokens[i]
		i++
		take := func() (string, error) {
			if i >= len(tokens) {
				return "", searchParserError{message: fmt.Sprintf("missing arguments for operator: %s", op)}
			}
			arg := tokens[i]
			i++
			return arg, nil
		}
		switch {
		case matchingOperators[op]:
			key, err := take()
			if err != nil {
				return nil, err
			}
			value, err := take()
			if err != nil {
				return nil, err
			}
			sq.conditions = append(sq.conditions, searchCondition{operator: op, key: key, value: value})
		case op == "show":
			field, err := take()
			if err != nil {
				return nil, err
			}
			sq.show = append(sq.show, field)
		case op == "show_all":
			sq.showAll = true
		case op == "sort":
			key, err := take()
			if err != nil {
				return nil, err
			}
			sq.sortKeys = append(sq.sortKeys, key)
		case op == "offset" || op == "limit":
			arg, err := take()
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(arg)
			if err != nil || n < 0 {
				return nil, searchParserError{message: fmt.Sprintf("invalid %s: %s", op, arg)}
			}
			if op == "offset" {
				sq.offset = n
			} else {
				sq.limit = n
			}
		default:
			return nil, searchParserError{message: fmt.Sprintf("unknown search operator: %s", op)}
		}
	}
	return sq, nil
}

// coerceSearchValue converts the raw search value according to the field's
// prototype kind. String values are lowercased, stored search values are.
func coerceSearchValue(kind fieldKind, value string) (interface{}, error) {
	switch kind {
	case fieldNumber:
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, err
		}
		return n, nil
	case fieldBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return strings.ToLower(value), nil
}

// compileSearch renders a parsed search into one SQL query. All exact
// conditions are folded into a single containment test against the indexed
// search column. Every other matching condition joins its own alias of the
// auxiliary table, so conditions can match different leaves independently.
// Sort expressions are added to the select list because of the DISTINCT.
func (b *Backend) compileSearch(rt *resourceType, sq *searchQuery) (string, []interface{}, error) {
	var args []interface{}
	param := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	needData := sq.showAll || len(sq.show) > 0
	selectColumns := []string{"m.id"}
	if needData {
		selectColumns = append(selectColumns, "m.revision", "m.data")
	}

	var joins string
	var conditions []string
	var ginEntries []map[string]interface{}
	for _, c := range sq.conditions {
		kind, ok := rt.fields[c.key]
		if !ok {
			return "", nil, searchParserError{message: fmt.Sprintf("unknown search field: %s", c.key)}
		}
		value, err := coerceSearchValue(kind, c.value)
		if err != nil {
			return "", nil, searchParserError{message: fmt.Sprintf("invalid search value for field %s: %s", c.key, c.value)}
		}
		if c.operator == "exact" {
			ginEntries = append(ginEntries, map[string]interface{}{c.key: value})
			continue
		}
		alias := fmt.Sprintf("t%d", len(conditions)+1)
		joins += fmt.Sprintf(` JOIN %s."%s" %s ON %s.id = m.id`, b.db.Schema, rt.auxTable, alias, alias)
		switch c.operator {
		case "startswith":
			conditions = append(conditions, fmt.Sprintf(`%s.data->>%s LIKE %s`,
				alias, param(c.key), param(fmt.Sprintf("%v", value)+"%")))
		case "contains":
			conditions = append(conditions, fmt.Sprintf(`%s.data->>%s LIKE %s`,
				alias, param(c.key), param("%"+fmt.Sprintf("%v", value)+"%")))
		default:
			operator := map[string]string{"ge": ">=", "gt": ">", "le": "<=", "lt": "<", "ne": "!="}[c.operator]
			valueJSON, err := json.Marshal(value)
			if err != nil {
				return "", nil, err
			}
			conditions = append(conditions, fmt.Sprintf(`%s.data->%s %s %s::jsonb`,
				alias, param(c.key), operator, param(string(valueJSON))))
		}
	}
	if len(ginEntries) > 0 {
		ginJSON, err := json.Marshal(ginEntries)
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, fmt.Sprintf(`m.search @> %s::jsonb`, param(string(ginJSON))))
	}

	var orderBy []string
	for _, key := range sq.sortKeys {
		if key == "id" {
			orderBy = append(orderBy, "m.id")
			continue
		}
		alias := fmt.Sprintf("sort_%d", len(orderBy)+1)
		selectColumns = append(selectColumns, fmt.Sprintf("m.data->%s AS %s", param(key), alias))
		orderBy = append(orderBy, alias)
	}

	query := "SELECT DISTINCT " + strings.Join(selectColumns, ", ") +
		fmt.Sprintf(` FROM %s."%s" m`, b.db.Schema, rt.table) + joins
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	if len(orderBy) > 0 {
		query += " ORDER BY " + strings.Join(orderBy, ", ")
	}
	if sq.limit >= 0 {
		query += " LIMIT " + param(sq.limit)
	}
	if sq.offset >= 0 {
		query += " OFFSET " + param(sq.offset)
	}
	return query + ";", args, nil
}

// searchDocuments parses, compiles and runs a search. The result rows are
// already shaped for the response: bare ids by default, the requested fields
// with show, the full documents with show_all.
func (b *Backend) searchDocuments(rt *resourceType, raw string) ([]map[string]interface{}, error) {
	sq, err := parseSearch(raw)
	if err != nil {
		return nil, err
	}
	query, args, err := b.compileSearch(rt, sq)
	if err != nil {
		return nil, err
	}
	rows, err := b.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	needData := sq.showAll || len(sq.show) > 0
	result := []map[string]interface{}{}
	for rows.Next() {
		var id, revision, dataJSON string
		dest := make([]interface{}, len(columns))
		dest[0] = &id
		if needData {
			dest[1] = &revision
			dest[2] = &dataJSON
		}
		for i := range dest {
			if dest[i] == nil {
				dest[i] = &sql.RawBytes{}
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if !needData {
			result = append(result, map[string]interface{}{"id": id})
			continue
		}
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(dataJSON), &doc); err != nil {
			return nil, err
		}
		if sq.showAll {
			doc["id"] = id
			doc["revision"] = revision
			result = append(result, doc)
			continue
		}
		row := map[string]interface{}{"id": id}
		for _, field := range sq.show {
			if value, ok := doc[field]; ok {
				row[field] = value
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
