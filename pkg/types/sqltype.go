package types

import (
	"fmt"
	"strings"
)

// SQLType is a column type code. The codes follow the JDBC numbering so
// existing metadata stores (xsyscolumns.coltype) stay readable.
type SQLType int

const (
	TypeUnknown   SQLType = 0
	TypeChar      SQLType = 1
	TypeNumeric   SQLType = 2
	TypeDecimal   SQLType = 3
	TypeInteger   SQLType = 4
	TypeSmallInt  SQLType = 5
	TypeFloat     SQLType = 6
	TypeReal      SQLType = 7
	TypeDouble    SQLType = 8
	TypeVarchar   SQLType = 12
	TypeBoolean   SQLType = 16
	TypeDate      SQLType = 91
	TypeTime      SQLType = 92
	TypeTimestamp SQLType = 93
	TypeText      SQLType = -1
	TypeBigInt    SQLType = -5
	TypeBlob      SQLType = 2004
)

var sqlTypeNames = map[SQLType]string{
	TypeChar:      "CHAR",
	TypeNumeric:   "NUMERIC",
	TypeDecimal:   "DECIMAL",
	TypeInteger:   "INTEGER",
	TypeSmallInt:  "SMALLINT",
	TypeFloat:     "FLOAT",
	TypeReal:      "REAL",
	TypeDouble:    "DOUBLE PRECISION",
	TypeVarchar:   "VARCHAR",
	TypeBoolean:   "BOOLEAN",
	TypeDate:      "DATE",
	TypeTime:      "TIME",
	TypeTimestamp: "TIMESTAMP",
	TypeText:      "TEXT",
	TypeBigInt:    "BIGINT",
	TypeBlob:      "BLOB",
}

var sqlTypeAliases = map[string]SQLType{
	"char":              TypeChar,
	"character":         TypeChar,
	"numeric":           TypeNumeric,
	"decimal":           TypeDecimal,
	"int":               TypeInteger,
	"integer":           TypeInteger,
	"int4":              TypeInteger,
	"serial":            TypeInteger,
	"smallint":          TypeSmallInt,
	"int2":              TypeSmallInt,
	"smallserial":       TypeSmallInt,
	"bigint":            TypeBigInt,
	"int8":              TypeBigInt,
	"bigserial":         TypeBigInt,
	"float":             TypeFloat,
	"real":              TypeReal,
	"double":            TypeDouble,
	"double precision":  TypeDouble,
	"varchar":           TypeVarchar,
	"character varying": TypeVarchar,
	"boolean":           TypeBoolean,
	"bool":              TypeBoolean,
	"date":              TypeDate,
	"time":              TypeTime,
	"timestamp":         TypeTimestamp,
	"text":              TypeText,
	"blob":              TypeBlob,
	"bytea":             TypeBlob,
}

func (t SQLType) String() string {
	if s, ok := sqlTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("SQLType(%d)", int(t))
}

// IsInteger reports whether values of t are whole numbers.
func (t SQLType) IsInteger() bool {
	return t == TypeSmallInt || t == TypeInteger || t == TypeBigInt
}

// HasLength reports whether a declaration of t carries a length.
func (t SQLType) HasLength() bool {
	return t == TypeChar || t == TypeVarchar
}

// HasPrecision reports whether a declaration of t carries precision and scale.
func (t SQLType) HasPrecision() bool {
	return t == TypeNumeric || t == TypeDecimal
}

// ParseSQLType parses a type name as written in DDL, ignoring any
// parenthesized length or precision.
func ParseSQLType(s string) (SQLType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	name = strings.Join(strings.Fields(name), " ")
	if t, ok := sqlTypeAliases[name]; ok {
		return t, nil
	}
	return TypeUnknown, fmt.Errorf("unknown SQL type: %q", s)
}
