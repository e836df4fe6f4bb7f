/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package utilities

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConcurrentMap(t *testing.T) {
	cmap := NewConcurrentMap[string, int]()
	require.True(t, cmap.Empty())

	cmap.Set("a", 1)
	cmap.Set("b", 2)
	require.Equal(t, 2, cmap.Len())

	value, found := cmap.Get("a")
	require.True(t, found)
	require.Equal(t, 1, value)

	cmap.Delete("a")
	_, found = cmap.Get("a")
	require.False(t, found)
}

func TestConcurrentMapParallelWriters(t *testing.T) {
	cmap := NewConcurrentMap[int, int]()

	var group sync.WaitGroup
	for i := 0; i < 32; i++ {
		group.Add(1)
		go func(i int) {
			defer group.Done()
			cmap.Set(i, i)
		}(i)
	}
	group.Wait()

	require.Equal(t, 32, cmap.Len())
}
