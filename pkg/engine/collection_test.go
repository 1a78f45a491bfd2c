package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinydb-go/tinydb/pkg/bson"
	"github.com/tinydb-go/tinydb/pkg/tinyerr"
)

func TestCollectionInsertFindUpdateDelete(t *testing.T) {
	e, _ := openTestEngine(t, testOptions())
	c, err := e.Collection("widgets")
	require.NoError(t, err)

	require.NoError(t, c.Insert(bson.NewDocument().Set("_id", bson.Int32V(1)).Set("size", bson.Int32V(10))))
	doc, found, err := c.FindByID(bson.Int32V(1))
	require.NoError(t, err)
	require.True(t, found)
	size, _ := doc.Get("size")
	require.Equal(t, int32(10), size.Int32)

	require.NoError(t, c.Update(bson.NewDocument().Set("_id", bson.Int32V(1)).Set("size", bson.Int32V(20))))
	doc, _, err = c.FindByID(bson.Int32V(1))
	require.NoError(t, err)
	size, _ = doc.Get("size")
	require.Equal(t, int32(20), size.Int32)

	removed, err := c.Delete(bson.Int32V(1))
	require.NoError(t, err)
	require.True(t, removed)
	_, found, err = c.FindByID(bson.Int32V(1))
	require.NoError(t, err)
	require.False(t, found)
}

func TestCollectionInsertAssignsIDWhenMissing(t *testing.T) {
	e, _ := openTestEngine(t, testOptions())
	c, err := e.Collection("widgets")
	require.NoError(t, err)

	require.NoError(t, c.Insert(bson.NewDocument().Set("name", bson.StringV("unnamed"))))
	n, err := c.Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCollectionUniqueIndexRejectsDuplicateKey(t *testing.T) {
	e, _ := openTestEngine(t, testOptions())
	c, err := e.Collection("users")
	require.NoError(t, err)
	require.NoError(t, c.EnsureIndex("by_email", []string{"email"}, true))

	require.NoError(t, c.Insert(bson.NewDocument().Set("_id", bson.Int32V(1)).Set("email", bson.StringV("a@example.com"))))
	err = c.Insert(bson.NewDocument().Set("_id", bson.Int32V(2)).Set("email", bson.StringV("a@example.com")))
	require.Error(t, err)
	require.True(t, tinyerr.Is(err, tinyerr.KindDuplicateKey))

	n, err := c.Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCollectionIndexLookupByField(t *testing.T) {
	e, _ := openTestEngine(t, testOptions())
	c, err := e.Collection("products")
	require.NoError(t, err)
	require.NoError(t, c.EnsureIndex("by_sku", []string{"sku"}, false))

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Insert(bson.NewDocument().
			Set("_id", bson.Int32V(int32(i))).
			Set("sku", bson.StringV(fmt.Sprintf("SKU-%d", i%2)))))
	}

	docs, err := c.IndexLookup("by_sku", []bson.Value{bson.StringV("SKU-0")})
	require.NoError(t, err)
	require.Len(t, docs, 3)
}

func TestCollectionBestIndexPicksPrefixMatch(t *testing.T) {
	e, _ := openTestEngine(t, testOptions())
	c, err := e.Collection("logs")
	require.NoError(t, err)
	require.NoError(t, c.EnsureIndex("by_tenant", []string{"tenant"}, false))
	require.NoError(t, c.EnsureIndex("by_tenant_day", []string{"tenant", "day"}, false))

	name, ok := c.BestIndex([]string{"tenant", "day"})
	require.True(t, ok)
	require.Equal(t, "by_tenant_day", name)
}

type rejectEverything struct{}

func (rejectEverything) Validate(collection string, doc *bson.Document) error {
	return tinyerr.New(tinyerr.KindInvalidArgument, "test.Validate", "always rejected")
}

func TestSchemaValidationStrictRejectsWrite(t *testing.T) {
	opts := testOptions()
	opts.SchemaValidationMode = SchemaValidationStrict
	opts.SchemaValidator = rejectEverything{}
	e, _ := openTestEngine(t, opts)

	c, err := e.Collection("widgets")
	require.NoError(t, err)
	err = c.Insert(bson.NewDocument().Set("_id", bson.Int32V(1)))
	require.Error(t, err)
}

func TestSchemaValidationWarnAllowsWrite(t *testing.T) {
	opts := testOptions()
	opts.SchemaValidationMode = SchemaValidationWarn
	opts.SchemaValidator = rejectEverything{}
	e, _ := openTestEngine(t, opts)

	c, err := e.Collection("widgets")
	require.NoError(t, err)
	require.NoError(t, c.Insert(bson.NewDocument().Set("_id", bson.Int32V(1))))
}

func TestDropIndexRemovesLookupAbility(t *testing.T) {
	e, _ := openTestEngine(t, testOptions())
	c, err := e.Collection("widgets")
	require.NoError(t, err)
	require.NoError(t, c.EnsureIndex("by_name", []string{"name"}, false))
	require.NoError(t, c.Insert(bson.NewDocument().Set("_id", bson.Int32V(1)).Set("name", bson.StringV("bolt"))))

	require.NoError(t, c.DropIndex("by_name"))
	_, _, ok := c.IndexShape("by_name")
	require.False(t, ok)
}
