package board

// MinValue and MaxValue bound every number printed on a board and every draw.
const (
	MinValue = 1
	MaxValue = 254
)

// Entropy yields successive 32-byte blocks of pseudo-random data.
type Entropy interface {
	Next() [32]byte
}

// Generate fills a grid with distinct numbers in [MinValue, MaxValue].
// Each byte of an entropy block is reduced into range; values already on the
// board are skipped and a fresh block is pulled once one runs out.
func Generate(e Entropy) Grid {
	var g Grid
	var seen [MaxValue + 1]bool

	k := 0
	for k < Cells {
		block := e.Next()
		for _, b := range block {
			v := Reduce(b)
			if seen[v] {
				continue
			}
			seen[v] = true
			g[k/Size][k%Size] = v
			k++
			if k == Cells {
				break
			}
		}
	}
	return g
}

// Reduce maps any byte into [MinValue, MaxValue].
func Reduce(b byte) uint8 {
	return uint8(uint16(b)%(MaxValue-MinValue+1)) + MinValue
}
