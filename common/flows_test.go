package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlowConfig(t *testing.T) {
	cfg := FlowConfig{
		CouchDBURL:   "http://localhost:5984",
		DatabaseName: "test-db",
		ApiKey:       "test-api-key",
	}

	assert.Equal(t, "http://localhost:5984", cfg.CouchDBURL)
	assert.Equal(t, "test-db", cfg.DatabaseName)
	assert.Equal(t, "test-api-key", cfg.ApiKey)
}
