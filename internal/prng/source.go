// Package prng derives pseudo-random numbers for boards and draws.
//
// Every block is keccak256 over fixed-width big-endian fields:
//
//	unix seconds (8) | game id (8) | caller uuid (16) | nonce (8)
//
// so any observer holding the same inputs can recompute a draw. The output is NOT
// adversary-resistant: whoever controls the call time or ordering can bias it.
package prng

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/jason-s-yu/bingo/internal/board"
)

// Source hands out entropy streams that share one nonce counter.
type Source struct {
	now func() time.Time

	mu    sync.Mutex
	nonce uint64
}

// NewSource builds a Source reading the current time from now.
func NewSource(now func() time.Time) *Source {
	if now == nil {
		now = time.Now
	}
	return &Source{now: now}
}

// Nonce returns the number of blocks produced so far.
func (s *Source) Nonce() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonce
}

func (s *Source) next(gameID uint64, caller uuid.UUID) [32]byte {
	s.mu.Lock()
	n := s.nonce
	s.nonce++
	s.mu.Unlock()
	return Mix(s.now().Unix(), gameID, caller, n)
}

// RandomBytes returns one raw block not tied to any game or caller.
func (s *Source) RandomBytes() [32]byte {
	return s.next(0, uuid.Nil)
}

// Stream binds the source to one game and caller.
func (s *Source) Stream(gameID uint64, caller uuid.UUID) *Stream {
	return &Stream{src: s, gameID: gameID, caller: caller}
}

// Stream is an Entropy bound to a (game, caller) pair.
type Stream struct {
	src    *Source
	gameID uint64
	caller uuid.UUID
}

// Next returns a fresh block and advances the shared nonce.
func (st *Stream) Next() [32]byte {
	return st.src.next(st.gameID, st.caller)
}

// Byte returns a number in [board.MinValue, board.MaxValue].
func (st *Stream) Byte() uint8 {
	return InRange(st.Next())
}

// Mix is the keccak256 mixing step shared by every stream.
func Mix(unix int64, gameID uint64, caller uuid.UUID, nonce uint64) [32]byte {
	var buf [8 + 8 + 16 + 8]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(unix))
	binary.BigEndian.PutUint64(buf[8:16], gameID)
	copy(buf[16:32], caller[:])
	binary.BigEndian.PutUint64(buf[32:40], nonce)

	h := sha3.NewLegacyKeccak256()
	h.Write(buf[:])
	var out [32]byte
	h.Sum(out[:0])
	return out
}

var span = uint256.NewInt(board.MaxValue - board.MinValue + 1)

// InRange reduces a whole block, read as a big-endian 256-bit integer, modulo 254
// and shifts it into [1, 254].
func InRange(block [32]byte) uint8 {
	var v uint256.Int
	v.SetBytes32(block[:])
	v.Mod(&v, span)
	return uint8(v.Uint64()) + board.MinValue
}
