package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTemplate_Empty(t *testing.T) {
	nodes, edges, frames, err := buildTemplate("empty")
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
	assert.Empty(t, edges)
	assert.Empty(t, frames)
}

func TestBuildTemplate_DefaultIsEmpty(t *testing.T) {
	nodes, _, _, err := buildTemplate("")
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestBuildTemplate_BasicIsInternallyValid(t *testing.T) {
	nodes, edges, _, err := buildTemplate("basic")
	require.NoError(t, err)
	doc := newDoc(nodes, edges)
	assert.NoError(t, validate(newArena(doc)))
}

func TestBuildTemplate_EcommerceIsInternallyValid(t *testing.T) {
	nodes, edges, _, err := buildTemplate("ecommerce")
	require.NoError(t, err)
	doc := newDoc(nodes, edges)
	assert.NoError(t, validate(newArena(doc)))
}

func TestBuildTemplate_UnknownNameErrors(t *testing.T) {
	_, _, _, err := buildTemplate("does-not-exist")
	assert.Error(t, err)
}
