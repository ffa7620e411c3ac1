package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Embedded(t *testing.T) {
	migrations, err := Load(files)
	require.NoError(t, err)
	require.Len(t, migrations, 3)

	versions := make([]string, len(migrations))
	for i, m := range migrations {
		versions[i] = m.Version
	}
	assert.Equal(t, []string{"0001_images", "0002_credits", "0003_restoration_runs"}, versions)

	assert.Contains(t, migrations[1].SQL, "CHECK (balance >= 0)")
	assert.Contains(t, migrations[1].SQL, "WHERE type = 'TOPUP' AND related_entity_id IS NOT NULL")
	assert.Contains(t, migrations[0].SQL, "ON DELETE CASCADE")
}

func TestLoad_SortsAndRejectsEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/0002_b.sql": {Data: []byte("SELECT 2;")},
		"sql/0001_a.sql": {Data: []byte("SELECT 1;")},
		"sql/README.md":  {Data: []byte("ignored")},
	}

	migrations, err := Load(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "0001_a", migrations[0].Version)
	assert.Equal(t, "0002_b", migrations[1].Version)

	fsys["sql/0003_c.sql"] = &fstest.MapFile{Data: []byte("  \n")}
	_, err = Load(fsys)
	assert.ErrorContains(t, err, "0003_c.sql is empty")
}
