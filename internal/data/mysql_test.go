package data

import (
	"testing"

	"Bastion/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMySQLClient_NotConfigured(t *testing.T) {
	tests := []struct {
		name string
		conf *conf.Data
	}{
		{"nil config", nil},
		{"nil database block", &conf.Data{}},
		{"empty source", &conf.Data{Database: &conf.Data_Database{Driver: "mysql"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, cleanup, err := NewMySQLClient(tt.conf, log.DefaultLogger)
			require.NoError(t, err)
			assert.Nil(t, db)
			require.NotNil(t, cleanup)
			cleanup()
		})
	}
}
