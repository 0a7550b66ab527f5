/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/friendsincode/grimnir_playback/internal/config"
	"github.com/friendsincode/grimnir_playback/internal/telemetry"
)

type probe struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func TestConnectSQLiteRecordsQueryMetrics(t *testing.T) {
	cfg := &config.Config{DBBackend: config.DatabaseSQLite, DBDSN: "file::memory:"}
	gdb, err := Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(gdb) })

	require.NoError(t, gdb.AutoMigrate(&probe{}))

	require.NoError(t, gdb.Create(&probe{Name: "a"}).Error)
	var got probe
	require.NoError(t, gdb.First(&got).Error)
	require.Equal(t, "a", got.Name)

	// One series each for create and query on the probes table.
	require.GreaterOrEqual(t, testutil.CollectAndCount(telemetry.DatabaseQueryDuration), 2)

	UpdateConnectionMetrics(gdb)
	require.Equal(t, float64(1), testutil.ToFloat64(telemetry.DatabaseConnectionsActive))
}

func TestConnectUnknownBackend(t *testing.T) {
	_, err := Connect(&config.Config{DBBackend: "oracle"})
	require.Error(t, err)
}
