// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ints(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func counter(limit int) Generator[int] {
	i := 0
	return func() (int, bool, error) {
		if i >= limit {
			return 0, false, nil
		}
		i++
		return i - 1, true, nil
	}
}

func TestSlice_NextPeekSkip(t *testing.T) {
	s := FromSlice(ints(5))
	assert.Equal(t, KindSlice, s.Kind())

	v, ok, err := s.Peek()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, v)
	assert.Equal(t, 0, s.Position(), "peek does not advance")

	v, ok, _ = s.Next()
	require.True(t, ok)
	assert.Equal(t, 0, v)

	n, err := s.Skip(10)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "skip reports the actual count")
	assert.True(t, s.IsExhausted())

	_, ok, err = s.Next()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestEmpty(t *testing.T) {
	s := Empty[byte]()
	assert.True(t, s.IsExhausted())
	_, ok, err := s.Next()
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Position())
}

func TestFail_DeliversErrorOnce(t *testing.T) {
	s := Fail[byte](ErrSourceIO)
	assert.False(t, s.IsExhausted())

	_, _, err := s.Peek()
	assert.ErrorIs(t, err, ErrSourceIO)

	_, ok, err := s.Next()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrSourceIO)

	_, _, err = s.Next()
	assert.NoError(t, err)
	assert.True(t, s.IsExhausted())
}

func TestGenerator_PeekThenNext(t *testing.T) {
	closed := 0
	s := FromGeneratorWithClose(counter(3), func() { closed++ })

	v, ok, err := s.Peek()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, v)
	assert.Equal(t, 0, s.Position())

	got, err := Collect(&s, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, got)
	assert.Equal(t, 3, s.Position())
	assert.True(t, s.IsExhausted())

	s.Close()
	s.Close()
	assert.Equal(t, 1, closed)
}

func TestGenerator_ErrorIsNotWrapped(t *testing.T) {
	calls := 0
	s := FromGenerator(func() (byte, bool, error) {
		calls++
		if calls == 2 {
			return 0, false, ErrInvalidData
		}
		return 'x', true, nil
	})

	_, ok, err := s.Next()
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = s.Next()
	assert.True(t, errors.Is(err, ErrInvalidData))
	assert.Equal(t, ErrInvalidData, err)
}

func TestRing_StreamSeesLatePushes(t *testing.T) {
	ring := NewRingBuffer[int](3)
	assert.Equal(t, 4, ring.Cap())

	for i := 0; i < 4; i++ {
		require.NoError(t, ring.Push(i))
	}
	assert.ErrorIs(t, ring.Push(99), ErrBufferFull)

	s := FromRing(ring)
	got, err := Collect(&s, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, got)

	require.NoError(t, ring.Push(4))
	got, err = Collect(&s, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, got)
	assert.Equal(t, 5, s.Position())
	assert.True(t, s.IsExhausted())
}

func TestFilter(t *testing.T) {
	arena := NewArena[int](0)
	even := arena.Filter(FromSlice(ints(10)), func(v int) bool { return v%2 == 0 })

	v, ok, err := even.Peek()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, v)

	got, err := Collect(&even, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4, 6, 8}, got)
	assert.Equal(t, 5, even.Position())
}

func TestFilter_ExhaustionIsSourceState(t *testing.T) {
	arena := NewArena[int](0)
	s := arena.Filter(FromSlice([]int{2, 3, 5}), func(v int) bool { return v%2 == 0 })

	v, ok, _ := s.Next()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	// Only odd items remain: the source is not exhausted yet.
	assert.False(t, s.IsExhausted())

	_, ok, err := s.Next()
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, s.IsExhausted())
}

func TestTake(t *testing.T) {
	arena := NewArena[int](0)
	s := arena.Take(FromSlice(ints(10)), 3)

	n, err := s.Skip(2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := Collect(&s, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, got)
	assert.True(t, s.IsExhausted())
	assert.Equal(t, 3, s.Position())
}

func TestDrop_PositionStartsAfterDrop(t *testing.T) {
	arena := NewArena[int](0)
	s := arena.Drop(FromSlice(ints(6)), 4)
	assert.Equal(t, 0, s.Position())

	v, ok, err := s.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, v)
	assert.Equal(t, 1, s.Position())

	short := arena.Drop(FromSlice(ints(2)), 5)
	_, ok, err = short.Next()
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, short.Position())
}

func TestCombinators_Compose(t *testing.T) {
	arena := NewArena[int](2)
	evens := arena.Filter(FromSlice(ints(20)), func(v int) bool { return v%2 == 0 })
	s := arena.Take(arena.Drop(evens, 2), 3)

	got, err := Collect(&s, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 6, 8}, got)
	assert.Equal(t, 3, arena.Len())
	assert.Equal(t, 3, arena.Peak())
}

func TestClose_PropagatesToSource(t *testing.T) {
	closed := false
	arena := NewArena[int](0)
	src := FromGeneratorWithClose(counter(100), func() { closed = true })
	s := arena.Take(arena.Filter(src, func(int) bool { return true }), 5)

	_, _, _ = s.Next()
	s.Close()
	assert.True(t, closed)
	assert.True(t, s.IsExhausted())
	_, ok, err := s.Next()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestArena_RotateInvalidatesStreams(t *testing.T) {
	arena := NewArena[int](0)
	s := arena.Take(FromSlice(ints(3)), 2)
	epoch := arena.Epoch()

	arena.Rotate()
	assert.Equal(t, epoch+1, arena.Epoch())
	assert.Equal(t, 0, arena.Len())

	_, _, err := s.Next()
	assert.ErrorIs(t, err, ErrArenaRotated)
	_, err = s.Skip(1)
	assert.ErrorIs(t, err, ErrArenaRotated)
	assert.True(t, s.IsExhausted())

	// New streams on the rotated arena work.
	fresh := arena.Take(FromSlice(ints(3)), 2)
	got, err := Collect(&fresh, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, got)
}

func TestForEach_StopsOnCallbackError(t *testing.T) {
	s := FromBytes([]byte("abc"))
	stop := errors.New("stop")
	var seen []byte
	err := ForEach(&s, func(b byte) error {
		seen = append(seen, b)
		if b == 'b' {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []byte("ab"), seen)
}
