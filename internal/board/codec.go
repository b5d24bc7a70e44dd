// internal/board/codec.go
package board

import (
	"github.com/holiman/uint256"
)

// Size is the side length of every board.
const Size = 5

// Cells is the number of squares on a board.
const Cells = Size * Size

// Word layout, least significant bit first:
//
//	bits   0..199  grid field, cell k = row*5+col occupies bits [8k, 8k+8)
//	bits 200..224  mark field, cell k occupies bit 200+k
//	bits 225..255  reserved, preserved by every encode
const (
	cellBits   = 8
	gridOffset = 0
	gridBits   = Cells * cellBits
	markOffset = gridOffset + gridBits
	markBits   = Cells
)

var (
	gridMask = fieldMask(gridOffset, gridBits)
	markMask = fieldMask(markOffset, markBits)
)

// Grid holds the numbers printed on a board, row-major.
type Grid [Size][Size]uint8

// Matrix holds the marked squares of a board, row-major.
type Matrix [Size][Size]bool

func fieldMask(offset, width uint) uint256.Int {
	var m uint256.Int
	m.SetOne()
	m.Lsh(&m, width)
	m.SubUint64(&m, 1)
	m.Lsh(&m, offset)
	return m
}

func cellIndex(row, col int) uint {
	return uint(row*Size + col)
}

// EncodeGrid writes g into the grid field of w and returns the new word.
// The mark field and reserved bits of w are carried over untouched.
func EncodeGrid(g Grid, w uint256.Int) uint256.Int {
	var field, cell uint256.Int
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			cell.SetUint64(uint64(g[r][c]))
			cell.Lsh(&cell, gridOffset+cellBits*cellIndex(r, c))
			field.Or(&field, &cell)
		}
	}
	return compose(w, gridMask, field)
}

// DecodeGrid extracts the grid field of w.
func DecodeGrid(w uint256.Int) Grid {
	var g Grid
	var v uint256.Int
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			v.Rsh(&w, gridOffset+cellBits*cellIndex(r, c))
			g[r][c] = uint8(v.Uint64())
		}
	}
	return g
}

// EncodeBoolMatrix writes m into the mark field of w and returns the new word.
// The grid field and reserved bits of w are carried over untouched.
func EncodeBoolMatrix(m Matrix, w uint256.Int) uint256.Int {
	var field, bit uint256.Int
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if !m[r][c] {
				continue
			}
			bit.SetOne()
			bit.Lsh(&bit, markOffset+cellIndex(r, c))
			field.Or(&field, &bit)
		}
	}
	return compose(w, markMask, field)
}

// DecodeBoolMatrix extracts the mark field of w.
func DecodeBoolMatrix(w uint256.Int) Matrix {
	var m Matrix
	var v uint256.Int
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			v.Rsh(&w, markOffset+cellIndex(r, c))
			m[r][c] = v.Uint64()&1 == 1
		}
	}
	return m
}

// Pack builds a fresh word from a grid and a mark matrix.
func Pack(g Grid, m Matrix) uint256.Int {
	return EncodeBoolMatrix(m, EncodeGrid(g, uint256.Int{}))
}

// MarkCell sets the mark bit at (row, col). Marking twice is a no-op.
// Callers validate the coordinates.
func MarkCell(w uint256.Int, row, col int) uint256.Int {
	m := DecodeBoolMatrix(w)
	m[row][col] = true
	return EncodeBoolMatrix(m, w)
}

// compose replaces the bits selected by mask in w with field.
func compose(w, mask, field uint256.Int) uint256.Int {
	var out, keep uint256.Int
	keep.Not(&mask)
	out.And(&w, &keep)
	field.And(&field, &mask)
	out.Or(&out, &field)
	return out
}

// InRange reports whether (row, col) addresses a square.
func InRange(row, col int) bool {
	return row >= 0 && row < Size && col >= 0 && col < Size
}

// NotFound is the row and column Find reports for an absent number.
const NotFound = Size

// Find returns the position of n on g, or (NotFound, NotFound).
func Find(g Grid, n uint8) (int, int) {
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if g[r][c] == n {
				return r, c
			}
		}
	}
	return NotFound, NotFound
}
