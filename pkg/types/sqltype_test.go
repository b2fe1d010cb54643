package types

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestParseSQLType(t *testing.T) {
	tests := []struct {
		in   string
		want SQLType
	}{
		{"int", TypeInteger},
		{"INTEGER", TypeInteger},
		{"bigserial", TypeBigInt},
		{"varchar(40)", TypeVarchar},
		{"  Character   Varying (12) ", TypeVarchar},
		{"decimal(10,2)", TypeDecimal},
		{"double precision", TypeDouble},
		{"bytea", TypeBlob},
	}
	for _, tt := range tests {
		got, err := ParseSQLType(tt.in)
		if err != nil {
			t.Errorf("ParseSQLType(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSQLType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseSQLType("geometry"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestSQLTypeClasses(t *testing.T) {
	for _, typ := range []SQLType{TypeSmallInt, TypeInteger, TypeBigInt} {
		if !typ.IsInteger() {
			t.Errorf("%v should be an integer type", typ)
		}
	}
	if TypeDecimal.IsInteger() || TypeVarchar.IsInteger() {
		t.Error("decimal and varchar are not integer types")
	}
	if !TypeVarchar.HasLength() || TypeInteger.HasLength() {
		t.Error("only character types carry a length")
	}
	if !TypeNumeric.HasPrecision() || TypeDouble.HasPrecision() {
		t.Error("only exact numerics carry precision")
	}
	if got := SQLType(999).String(); got != "SQLType(999)" {
		t.Errorf("String() of an unknown code = %q", got)
	}
}

func TestSQLTypeNamesRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	known := make([]interface{}, 0, len(sqlTypeNames))
	for typ := range sqlTypeNames {
		known = append(known, typ)
	}

	properties.Property("every type name parses back to its type", prop.ForAll(
		func(typ SQLType, lower bool) bool {
			name := typ.String()
			if lower {
				name = strings.ToLower(name)
			}
			got, err := ParseSQLType(name)
			return err == nil && got == typ
		},
		gen.OneConstOf(known...).Map(func(v interface{}) SQLType { return v.(SQLType) }),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
