package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWarningsReplaceByCategoryAndComponent(t *testing.T) {
	w := NewWarnings()

	first := w.Add(WarningCategoryAI, "mock mode", "", "ai")
	second := w.Add(WarningCategoryAI, "still mock mode", "", "ai")
	assert.NotEqual(t, first, second)

	list := w.List()
	require.Len(t, list, 1)
	assert.Equal(t, "still mock mode", list[0].Message)

	// Same category on a different component accumulates.
	w.Add(WarningCategoryAI, "provider timeout", "", "engine")
	assert.Len(t, w.List(), 2)
}

func TestWarningsListOrdering(t *testing.T) {
	w := NewWarnings()
	w.Add(WarningCategoryEncryption, "no key", "", "crypto")
	w.Add(WarningCategoryAI, "mock mode", "", "ai")
	w.Add(WarningCategoryAlerting, "no bootstrap file", "", "seeder")

	list := w.List()
	require.Len(t, list, 3)
	assert.Equal(t, WarningCategoryAI, list[0].Category)
	assert.Equal(t, WarningCategoryAlerting, list[1].Category)
	assert.Equal(t, WarningCategoryEncryption, list[2].Category)
}

func TestWarningsClear(t *testing.T) {
	w := NewWarnings()
	w.Add(WarningCategoryAlerting, "no bootstrap file", "", "seeder")

	assert.True(t, w.Clear(WarningCategoryAlerting, "seeder"))
	assert.False(t, w.Clear(WarningCategoryAlerting, "seeder"))
	assert.Empty(t, w.List())
}

func TestWarningsListCopies(t *testing.T) {
	w := NewWarnings()
	w.Add(WarningCategoryAI, "mock mode", "", "ai")

	w.List()[0].Message = "mutated"
	assert.Equal(t, "mock mode", w.List()[0].Message)
}
