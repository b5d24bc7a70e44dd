package board

import (
	"encoding/json"
	"fmt"
	"strings"
)

// LineKind selects the family of a winning line.
type LineKind uint8

const (
	Row      LineKind = 0
	Column   LineKind = 1
	Diagonal LineKind = 2
)

func (k LineKind) String() string {
	switch k {
	case Row:
		return "row"
	case Column:
		return "column"
	case Diagonal:
		return "diagonal"
	default:
		return fmt.Sprintf("LineKind(%d)", uint8(k))
	}
}

// ParseLineKind accepts the names produced by String as well as the numeric form.
func ParseLineKind(s string) (LineKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "row", "0":
		return Row, nil
	case "column", "col", "1":
		return Column, nil
	case "diagonal", "diag", "2":
		return Diagonal, nil
	}
	return 0, fmt.Errorf("unknown line kind %q", s)
}

func (k LineKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *LineKind) UnmarshalJSON(data []byte) error {
	var n uint8
	if err := json.Unmarshal(data, &n); err == nil {
		*k = LineKind(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLineKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// WinningLine looks for a completed line, checking rows, then columns, then the
// main and anti diagonals. Both diagonals report (0, Diagonal).
func WinningLine(m Matrix) (int, LineKind, bool) {
	for i := 0; i < Size; i++ {
		if rowComplete(m, i) {
			return i, Row, true
		}
	}
	for j := 0; j < Size; j++ {
		if columnComplete(m, j) {
			return j, Column, true
		}
	}
	if mainDiagonalComplete(m) || antiDiagonalComplete(m) {
		return 0, Diagonal, true
	}
	return -1, 0, false
}

// HasWon reports whether any line of m is complete.
func HasWon(m Matrix) bool {
	_, _, ok := WinningLine(m)
	return ok
}

// LineComplete reports whether the line selected by (index, kind) is fully marked.
// index is ignored for Diagonal, where either diagonal counts.
func LineComplete(m Matrix, index int, kind LineKind) (bool, error) {
	switch kind {
	case Row, Column:
		if index < 0 || index >= Size {
			return false, fmt.Errorf("line index %d out of range", index)
		}
		if kind == Row {
			return rowComplete(m, index), nil
		}
		return columnComplete(m, index), nil
	case Diagonal:
		return mainDiagonalComplete(m) || antiDiagonalComplete(m), nil
	}
	return false, fmt.Errorf("unknown line kind %d", uint8(kind))
}

func rowComplete(m Matrix, i int) bool {
	for j := 0; j < Size; j++ {
		if !m[i][j] {
			return false
		}
	}
	return true
}

func columnComplete(m Matrix, j int) bool {
	for i := 0; i < Size; i++ {
		if !m[i][j] {
			return false
		}
	}
	return true
}

func mainDiagonalComplete(m Matrix) bool {
	for i := 0; i < Size; i++ {
		if !m[i][i] {
			return false
		}
	}
	return true
}

func antiDiagonalComplete(m Matrix) bool {
	for i := 0; i < Size; i++ {
		if !m[i][Size-1-i] {
			return false
		}
	}
	return true
}
