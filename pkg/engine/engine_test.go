package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinydb-go/tinydb/pkg/bson"
)

func testOptions() Options {
	return Options{EnableJournaling: true, DatabaseName: "testdb"}
}

func openTestEngine(t *testing.T, opts Options) (*Engine, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tinydb")
	e, err := Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, path
}

func TestOpenCreatesAndReopensCleanly(t *testing.T) {
	e, path := openTestEngine(t, testOptions())
	c, err := e.Collection("widgets")
	require.NoError(t, err)
	require.NoError(t, c.Insert(bson.NewDocument().Set("_id", bson.Int32V(1)).Set("name", bson.StringV("gear"))))
	require.NoError(t, e.Close())

	e2, err := Open(path, testOptions())
	require.NoError(t, err)
	defer e2.Close()

	c2, err := e2.Collection("widgets")
	require.NoError(t, err)
	doc, found, err := c2.FindByID(bson.Int32V(1))
	require.NoError(t, err)
	require.True(t, found)
	name, _ := doc.Get("name")
	require.Equal(t, "gear", name.Str)
}

func TestPasswordGatesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secure.tinydb")
	opts := testOptions()
	opts.Password = "hunter2"
	e, err := Open(path, opts)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = Open(path, testOptions())
	require.Error(t, err)

	wrong := testOptions()
	wrong.Password = "nope"
	_, err = Open(path, wrong)
	require.Error(t, err)

	right := testOptions()
	right.Password = "hunter2"
	e2, err := Open(path, right)
	require.NoError(t, err)
	require.NoError(t, e2.Close())
}

func TestCheckpointTruncatesWAL(t *testing.T) {
	e, path := openTestEngine(t, testOptions())
	c, err := e.Collection("events")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, c.Insert(bson.NewDocument().Set("_id", bson.Int32V(int32(i)))))
	}
	require.NoError(t, e.Checkpoint())

	info, err := os.Stat(path + ".wal")
	require.NoError(t, err)
	require.Zero(t, info.Size())
}

func TestFlushWithoutCheckpointKeepsWAL(t *testing.T) {
	e, path := openTestEngine(t, testOptions())
	c, err := e.Collection("events")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Insert(bson.NewDocument().Set("_id", bson.Int32V(int32(i)))))
	}
	require.NoError(t, e.Flush())

	info, err := os.Stat(path + ".wal")
	require.NoError(t, err)
	require.NotZero(t, info.Size())

	n, err := c.Count()
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

func TestCompactPreservesDataAndIndexes(t *testing.T) {
	e, _ := openTestEngine(t, testOptions())
	c, err := e.Collection("users")
	require.NoError(t, err)
	require.NoError(t, c.EnsureIndex("by_email", []string{"email"}, true))

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Insert(bson.NewDocument().
			Set("_id", bson.Int32V(int32(i))).
			Set("email", bson.StringV(fmt.Sprintf("user%d@example.com", i)))))
	}
	for i := 0; i < 5; i++ {
		_, err := c.Delete(bson.Int32V(int32(i)))
		require.NoError(t, err)
	}

	require.NoError(t, e.Compact())

	c2, err := e.Collection("users")
	require.NoError(t, err)
	n, err := c2.Count()
	require.NoError(t, err)
	require.Equal(t, 5, n)

	docs, err := c2.IndexLookup("by_email", []bson.Value{bson.StringV("user7@example.com")})
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestBeginTransactionCommitsAcrossCollections(t *testing.T) {
	e, _ := openTestEngine(t, testOptions())
	tx, err := e.BeginTransaction()
	require.NoError(t, err)

	require.NoError(t, tx.Insert("accounts", bson.NewDocument().Set("_id", bson.Int32V(1)).Set("balance", bson.Int32V(100))))
	require.NoError(t, tx.Insert("accounts", bson.NewDocument().Set("_id", bson.Int32V(2)).Set("balance", bson.Int32V(0))))
	require.NoError(t, tx.Commit())

	c, err := e.Collection("accounts")
	require.NoError(t, err)
	n, err := c.Count()
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
