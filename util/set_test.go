package util

import (
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestSet_create(t *testing.T) {
	set := ToSet([]string{"miner-1", "miner-2"})
	assert.True(t, set["miner-1"])
	assert.True(t, set["miner-2"])
	assert.False(t, set["foo"])
}

func TestSet_addAndRemove(t *testing.T) {
	set := NewSet()
	AddToSet(set, "miner-1", "miner-2")
	assert.True(t, set["miner-1"])

	RemoveFromSet(set, "miner-1")
	assert.False(t, set["miner-1"])
	assert.True(t, set["miner-2"])
}

func TestSet_values(t *testing.T) {
	set := ToSet([]string{"one", "two"})
	values := SetValues(set)
	assert.Len(t, values, 2)
	assert.Contains(t, values, "one")
	assert.Contains(t, values, "two")
}

func TestSet_difference(t *testing.T) {
	set1 := ToSet([]string{"three", "four", "five", "one", "two"})
	set2 := ToSet([]string{"three", "four", "five", "six"})

	result := Difference(set1, set2)

	assert.True(t, result["one"])
	assert.True(t, result["two"])
	assert.False(t, result["three"])
	assert.True(t, result["six"])
	assert.False(t, result["foo"])
}

func TestSet_difference_givenEmptySet(t *testing.T) {
	set1 := ToSet([]string{})
	set2 := ToSet([]string{"one", "two", "three"})

	result := Difference(set1, set2)
	assert.True(t, result["one"])
	assert.True(t, result["two"])
	assert.True(t, result["three"])

	assert.Empty(t, Difference(set1, set1))
}
