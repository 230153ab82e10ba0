package main

import (
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/healme-core/migrations"
)

type fakeMigrator struct {
	upErr   error
	steps   []int
	forced  []int
	version uint
}

func (f *fakeMigrator) Up() error { return f.upErr }

func (f *fakeMigrator) Steps(n int) error {
	f.steps = append(f.steps, n)
	return nil
}

func (f *fakeMigrator) Force(v int) error {
	f.forced = append(f.forced, v)
	return nil
}

func (f *fakeMigrator) Version() (uint, bool, error) {
	if f.version == 0 {
		return 0, false, migrate.ErrNilVersion
	}
	return f.version, false, nil
}

func TestRunUpTreatsNoChangeAsSuccess(t *testing.T) {
	assert.NoError(t, run(&fakeMigrator{upErr: migrate.ErrNoChange}, nil))
	assert.Error(t, run(&fakeMigrator{upErr: errors.New("boom")}, []string{"up"}))
}

func TestRunDownAndForce(t *testing.T) {
	m := &fakeMigrator{}
	require.NoError(t, run(m, []string{"down", "2"}))
	require.NoError(t, run(m, []string{"force", "1"}))
	assert.Equal(t, []int{-2}, m.steps)
	assert.Equal(t, []int{1}, m.forced)

	assert.Error(t, run(m, []string{"down"}))
	assert.Error(t, run(m, []string{"force", "x"}))
	assert.Error(t, run(m, []string{"down", "-1"}))
}

func TestRunVersionAndUnknown(t *testing.T) {
	assert.NoError(t, run(&fakeMigrator{}, []string{"version"}))
	assert.NoError(t, run(&fakeMigrator{version: 2}, []string{"version"}))
	assert.Error(t, run(&fakeMigrator{}, []string{"sideways"}))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups, downs := 0, 0
	for _, name := range entries {
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups++
			_, err := fs.Stat(migrations.FS, strings.TrimSuffix(name, ".up.sql")+".down.sql")
			assert.NoError(t, err, "missing down migration for %s", name)
		case strings.HasSuffix(name, ".down.sql"):
			downs++
		}
	}
	assert.Equal(t, ups, downs)
}
