//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pygmalion/accounts/internal/store"
)

func TestMigrator_FullCycle(t *testing.T) {
	ctx := context.Background()

	connStr, stop, err := startPostgres(ctx)
	require.NoError(t, err)
	defer stop()

	migrator, err := store.NewMigrator(connStr)
	require.NoError(t, err)
	defer migrator.Close()

	version, dirty, err := migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	err = migrator.Up()
	require.NoError(t, err)

	version, dirty, err = migrator.Version()
	require.NoError(t, err)
	assert.Greater(t, version, uint(0), "Up() should apply at least one migration")
	assert.False(t, dirty)
	assert.Equal(t, uint(3), version)
	latestVersion := version

	name, err := store.MigrationName(version)
	require.NoError(t, err)
	assert.Equal(t, "000003_admin_bootstrap", name)

	err = migrator.Steps(-1)
	require.NoError(t, err)

	version, _, err = migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, latestVersion-1, version, "Steps(-1) should rollback one version")

	err = migrator.Steps(1)
	require.NoError(t, err)

	version, _, err = migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, latestVersion, version, "Steps(1) should restore to latest version")

	err = migrator.Down()
	require.NoError(t, err)

	version, dirty, err = migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version, "Down() should rollback to version 0")
	assert.False(t, dirty)

	err = migrator.Up()
	require.NoError(t, err)

	err = migrator.Force(2)
	require.NoError(t, err)

	version, dirty, err = migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version, "Force() should set version to 2")
	assert.False(t, dirty, "Force() should clear dirty flag")
}
