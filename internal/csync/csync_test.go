// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package csync

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_GetSetDelete(t *testing.T) {
	m := NewMap[string, int]()

	_, ok := m.Get("a")
	assert.False(t, ok)

	m.Set("a", 1)
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, m.Len())

	m.Delete("a")
	assert.Equal(t, 0, m.Len())
}

func TestMap_GetOrSetCreatesOnce(t *testing.T) {
	m := NewMap[string, *int]()
	var created atomic.Int32

	var wg sync.WaitGroup
	results := make([]*int, 50)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _ := m.GetOrSet("s1", func() *int {
				created.Add(1)
				n := i
				return &n
			})
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestMap_CompareAndDelete(t *testing.T) {
	m := NewMap[string, int]()
	m.Set("a", 1)

	assert.False(t, m.CompareAndDelete("a", func(v int) bool { return v == 2 }))
	assert.True(t, m.CompareAndDelete("a", func(v int) bool { return v == 1 }))
	assert.False(t, m.CompareAndDelete("a", func(int) bool { return true }))
}

func TestMap_SeqAndValues(t *testing.T) {
	m := NewMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)

	sum := 0
	for _, v := range m.Seq2() {
		sum += v
	}
	assert.Equal(t, 3, sum)
	assert.ElementsMatch(t, []int{1, 2}, m.Values())
}
