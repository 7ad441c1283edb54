package settings

import (
	"testing"

	testingpkg "github.com/aristath/bucketeer/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) (*Repository, func()) {
	db, cleanup := testingpkg.NewTestDB(t, "config")
	return NewRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled)), cleanup
}

func TestRepository_GetMissing(t *testing.T) {
	repo, cleanup := newTestRepository(t)
	defer cleanup()

	value, err := repo.Get("broker_token")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestRepository_SetAndGet(t *testing.T) {
	repo, cleanup := newTestRepository(t)
	defer cleanup()

	desc := "execution API token"
	require.NoError(t, repo.Set("broker_token", "abc", &desc))
	require.NoError(t, repo.Set("broker_token", "def", nil))

	value, err := repo.Get("broker_token")
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "def", *value)

	all, err := repo.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, desc, all[0].Description)
}

func TestRepository_StrategyOverrides(t *testing.T) {
	repo, cleanup := newTestRepository(t)
	defer cleanup()

	require.NoError(t, repo.Set("broker_token", "abc", nil))
	require.NoError(t, repo.SetStrategyOverride("max_trades_per_cycle", "3"))
	require.NoError(t, repo.SetStrategyOverride("roll_dte", "21"))

	overrides, err := repo.StrategyOverrides()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"max_trades_per_cycle": "3", "roll_dte": "21"}, overrides)

	require.NoError(t, repo.DeleteStrategyOverride("roll_dte"))
	require.NoError(t, repo.DeleteStrategyOverride("roll_dte"))

	overrides, err = repo.StrategyOverrides()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"max_trades_per_cycle": "3"}, overrides)
}
