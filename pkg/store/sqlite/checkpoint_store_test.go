package sqlite_test

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/plaenen/bankledger/pkg/store"
	"github.com/plaenen/bankledger/pkg/store/sqlite"
)

func TestCheckpointStoreSaveAndLoad(t *testing.T) {
	eventStore := newTestStore(t)

	checkpointStore, err := sqlite.NewCheckpointStore(eventStore.DB())
	require.NoError(t, err)

	require.NoError(t, checkpointStore.Save(&store.ProjectionCheckpoint{
		ProjectionName: "account_balance_projector_v1",
		Position:       42,
	}))

	loaded, err := checkpointStore.Load("account_balance_projector_v1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), loaded.Position)
}

func TestCheckpointStoreLoadUnknownProjectorReturnsNegativeOne(t *testing.T) {
	eventStore := newTestStore(t)
	checkpointStore, err := sqlite.NewCheckpointStore(eventStore.DB())
	require.NoError(t, err)

	loaded, err := checkpointStore.Load("never-run")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), loaded.Position)
}

func TestCheckpointStoreWorksAgainstSeparateDatabase(t *testing.T) {
	readModelDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer readModelDB.Close()
	readModelDB.SetMaxOpenConns(1)

	checkpointStore, err := sqlite.NewCheckpointStore(readModelDB)
	require.NoError(t, err)

	require.NoError(t, checkpointStore.Save(&store.ProjectionCheckpoint{ProjectionName: "p1", Position: 7}))
	loaded, err := checkpointStore.Load("p1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), loaded.Position)
}

func TestCheckpointStoreSaveInTxAtomicWithProjectionUpdate(t *testing.T) {
	readModelDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer readModelDB.Close()
	readModelDB.SetMaxOpenConns(1)

	checkpointStore, err := sqlite.NewCheckpointStore(readModelDB)
	require.NoError(t, err)

	_, err = readModelDB.Exec(`CREATE TABLE user_balances (user_id TEXT PRIMARY KEY, balance INTEGER)`)
	require.NoError(t, err)

	tx, err := readModelDB.Begin()
	require.NoError(t, err)

	_, err = tx.Exec(`INSERT INTO user_balances (user_id, balance) VALUES (?, ?)`, "user-1", 1000)
	require.NoError(t, err)

	require.NoError(t, checkpointStore.SaveInTx(tx, &store.ProjectionCheckpoint{ProjectionName: "user-balances", Position: 50}))
	require.NoError(t, tx.Commit())

	var balance int
	require.NoError(t, readModelDB.QueryRow(`SELECT balance FROM user_balances WHERE user_id = ?`, "user-1").Scan(&balance))
	assert.Equal(t, 1000, balance)

	loaded, err := checkpointStore.Load("user-balances")
	require.NoError(t, err)
	assert.Equal(t, int64(50), loaded.Position)
}

func TestCheckpointStoreDelete(t *testing.T) {
	eventStore := newTestStore(t)
	checkpointStore, err := sqlite.NewCheckpointStore(eventStore.DB())
	require.NoError(t, err)

	require.NoError(t, checkpointStore.Save(&store.ProjectionCheckpoint{ProjectionName: "to-delete", Position: 5}))
	require.NoError(t, checkpointStore.Delete("to-delete"))

	loaded, err := checkpointStore.Load("to-delete")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), loaded.Position)
}
