// Package dataframe provides the tabular input container for model fitting,
// along with the argument coercion applied by every family entry point.
//
// A DataFrame is an ordered collection of named, homogeneous columns of equal
// length. Columns are numeric ([]float64), categorical ([]string) or logical
// ([]bool); rows are aligned by position. A table may carry columns no
// formula ever references.
//
// Normalize coerces the caller's data into a DataFrame; ValidateForPredict
// re-applies the same coercion at prediction time and verifies that every
// column the fitted formula needs is present.
package dataframe

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	twidlrErrors "github.com/srepho/twidlr/pkg/errors"
)

// ColumnType identifies the element type of a column.
type ColumnType int

const (
	// Numeric columns hold float64 values.
	Numeric ColumnType = iota
	// Categorical columns hold string labels.
	Categorical
	// Logical columns hold booleans.
	Logical
)

func (t ColumnType) String() string {
	switch t {
	case Numeric:
		return "numeric"
	case Categorical:
		return "categorical"
	case Logical:
		return "logical"
	default:
		return "unknown"
	}
}

// Column is a named, homogeneous column. Exactly one of the value slices is
// populated, matching Type.
type Column struct {
	Name    string
	Type    ColumnType
	Floats  []float64
	Strings []string
	Bools   []bool
}

// Num creates a numeric column.
func Num(name string, values []float64) Column {
	return Column{Name: name, Type: Numeric, Floats: values}
}

// Cat creates a categorical column.
func Cat(name string, values []string) Column {
	return Column{Name: name, Type: Categorical, Strings: values}
}

// Bool creates a logical column.
func Bool(name string, values []bool) Column {
	return Column{Name: name, Type: Logical, Bools: values}
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	switch c.Type {
	case Numeric:
		return len(c.Floats)
	case Categorical:
		return len(c.Strings)
	case Logical:
		return len(c.Bools)
	default:
		return 0
	}
}

// DataFrame is an ordered table of named columns with positionally aligned
// rows. DataFrames are immutable after construction; all accessors return
// copies or read-only views.
type DataFrame struct {
	cols  []Column
	index map[string]int
	nrows int
}

// New constructs a DataFrame from columns in the given order.
//
// Returns:
//   - *DataFrame: the constructed table
//   - error: a SchemaError if column names are empty or duplicated, or if
//     column lengths differ (non-rectangular input)
//
// Example:
//
//	df, err := dataframe.New(
//	    dataframe.Num("x1", []float64{0, 1, 2, 3}),
//	    dataframe.Cat("group", []string{"a", "a", "b", "b"}),
//	)
func New(cols ...Column) (*DataFrame, error) {
	if len(cols) == 0 {
		return nil, twidlrErrors.NewSchemaError("dataframe.New", "table has no columns")
	}

	df := &DataFrame{
		cols:  make([]Column, len(cols)),
		index: make(map[string]int, len(cols)),
	}

	for i, col := range cols {
		if col.Name == "" {
			return nil, twidlrErrors.NewSchemaError("dataframe.New",
				fmt.Sprintf("column %d has an empty name", i))
		}
		if _, exists := df.index[col.Name]; exists {
			return nil, twidlrErrors.NewSchemaError("dataframe.New",
				fmt.Sprintf("duplicate column name %q", col.Name))
		}

		if i == 0 {
			df.nrows = col.Len()
		} else if col.Len() != df.nrows {
			return nil, twidlrErrors.NewSchemaError("dataframe.New",
				fmt.Sprintf("column %q has %d rows, expected %d (table is not rectangular)",
					col.Name, col.Len(), df.nrows))
		}

		df.cols[i] = col
		df.index[col.Name] = i
	}

	return df, nil
}

// FromMatrix constructs a DataFrame from a numeric matrix. Column names
// default to x1..xp when names is nil; otherwise names must match the
// matrix width.
func FromMatrix(m mat.Matrix, names []string) (*DataFrame, error) {
	r, c := m.Dims()
	if r == 0 || c == 0 {
		return nil, twidlrErrors.NewSchemaError("dataframe.FromMatrix", "matrix is empty")
	}
	if names != nil && len(names) != c {
		return nil, twidlrErrors.NewSchemaError("dataframe.FromMatrix",
			fmt.Sprintf("%d names supplied for %d columns", len(names), c))
	}

	cols := make([]Column, c)
	for j := 0; j < c; j++ {
		values := make([]float64, r)
		for i := 0; i < r; i++ {
			values[i] = m.At(i, j)
		}

		name := fmt.Sprintf("x%d", j+1)
		if names != nil {
			name = names[j]
		}
		cols[j] = Num(name, values)
	}

	return New(cols...)
}

// NumRows returns the number of rows.
func (df *DataFrame) NumRows() int {
	return df.nrows
}

// NumCols returns the number of columns.
func (df *DataFrame) NumCols() int {
	return len(df.cols)
}

// Names returns the column names in table order.
func (df *DataFrame) Names() []string {
	names := make([]string, len(df.cols))
	for i, col := range df.cols {
		names[i] = col.Name
	}
	return names
}

// Has reports whether a column with the given name exists.
func (df *DataFrame) Has(name string) bool {
	_, ok := df.index[name]
	return ok
}

// Column returns the named column.
func (df *DataFrame) Column(name string) (*Column, bool) {
	idx, ok := df.index[name]
	if !ok {
		return nil, false
	}
	return &df.cols[idx], true
}

// Numeric returns the named column coerced to float64 values: numeric
// columns as-is, logical columns as 0/1. Categorical columns cannot be
// coerced and yield a SchemaError; they must go through dummy coding.
func (df *DataFrame) Numeric(name string) ([]float64, error) {
	col, ok := df.Column(name)
	if !ok {
		return nil, twidlrErrors.NewMissingColumnError("DataFrame.Numeric", name)
	}

	switch col.Type {
	case Numeric:
		values := make([]float64, len(col.Floats))
		copy(values, col.Floats)
		return values, nil
	case Logical:
		values := make([]float64, len(col.Bools))
		for i, b := range col.Bools {
			if b {
				values[i] = 1
			}
		}
		return values, nil
	default:
		return nil, twidlrErrors.NewSchemaError("DataFrame.Numeric",
			fmt.Sprintf("column %q is %s, not coercible to numeric", name, col.Type))
	}
}

// Levels returns the sorted distinct values of a categorical column.
// Sorting makes dummy coding a pure function of the column's value set.
func (df *DataFrame) Levels(name string) ([]string, error) {
	col, ok := df.Column(name)
	if !ok {
		return nil, twidlrErrors.NewMissingColumnError("DataFrame.Levels", name)
	}
	if col.Type != Categorical {
		return nil, twidlrErrors.NewSchemaError("DataFrame.Levels",
			fmt.Sprintf("column %q is %s, not categorical", name, col.Type))
	}

	seen := make(map[string]bool)
	var levels []string
	for _, v := range col.Strings {
		if !seen[v] {
			seen[v] = true
			levels = append(levels, v)
		}
	}
	sort.Strings(levels)
	return levels, nil
}

// Normalize coerces arbitrary tabular input into a DataFrame. Accepted
// inputs:
//
//   - *DataFrame: returned unchanged (DataFrames are immutable)
//   - mat.Matrix: numeric columns named x1..xp
//   - [][]float64: rows of a numeric table, columns named x1..xp
//   - map[string][]float64: numeric columns, ordered by sorted name for
//     determinism
//   - []Column: columns in the given order
//
// Any other input fails with a SchemaError. Normalize never mutates the
// caller's data.
func Normalize(data interface{}) (*DataFrame, error) {
	switch v := data.(type) {
	case *DataFrame:
		if v == nil {
			return nil, twidlrErrors.NewSchemaError("dataframe.Normalize", "nil DataFrame")
		}
		return v, nil

	case []Column:
		return New(v...)

	case mat.Matrix:
		return FromMatrix(v, nil)

	case [][]float64:
		if len(v) == 0 || len(v[0]) == 0 {
			return nil, twidlrErrors.NewSchemaError("dataframe.Normalize", "empty row data")
		}
		width := len(v[0])
		for i, row := range v {
			if len(row) != width {
				return nil, twidlrErrors.NewSchemaError("dataframe.Normalize",
					fmt.Sprintf("row %d has %d values, expected %d (input is not rectangular)",
						i, len(row), width))
			}
		}

		cols := make([]Column, width)
		for j := 0; j < width; j++ {
			values := make([]float64, len(v))
			for i := range v {
				values[i] = v[i][j]
			}
			cols[j] = Num(fmt.Sprintf("x%d", j+1), values)
		}
		return New(cols...)

	case map[string][]float64:
		if len(v) == 0 {
			return nil, twidlrErrors.NewSchemaError("dataframe.Normalize", "empty column map")
		}
		names := make([]string, 0, len(v))
		for name := range v {
			names = append(names, name)
		}
		sort.Strings(names)

		cols := make([]Column, len(names))
		for i, name := range names {
			values := make([]float64, len(v[name]))
			copy(values, v[name])
			cols[i] = Num(name, values)
		}
		return New(cols...)

	default:
		return nil, twidlrErrors.NewSchemaError("dataframe.Normalize",
			fmt.Sprintf("unsupported input type %T", data))
	}
}

// ValidateForPredict coerces prediction-time data and verifies that every
// column in required is present. The fitted model's response column is not
// part of required; prediction data typically lacks it.
//
// Returns the coerced DataFrame, or a SchemaError naming the first missing
// column.
func ValidateForPredict(data interface{}, required []string) (*DataFrame, error) {
	df, err := Normalize(data)
	if err != nil {
		return nil, err
	}

	for _, name := range required {
		if !df.Has(name) {
			return nil, twidlrErrors.NewMissingColumnError("dataframe.ValidateForPredict", name)
		}
	}
	return df, nil
}
