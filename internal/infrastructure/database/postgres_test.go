package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@db:5432/cars", "postgres://u:p@db:5432/cars"},
		{"  postgresql+asyncpg://u:p@db/cars ", "postgresql://u:p@db/cars"},
		{"postgres+pgx://u@db/cars", "postgres://u@db/cars"},
		{"postgresql+psycopg2://u@db/cars", "postgresql://u@db/cars"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeDSN(tt.in), tt.in)
	}
}

func TestConnect_EmptyDSN(t *testing.T) {
	_, err := Connect(context.Background(), "   ")
	assert.Error(t, err)
}
