package mongo

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dexterhq/dexter/runtime/agent/audit"
)

func TestClientInsertValidation(t *testing.T) {
	t.Parallel()

	c := &client{coll: &fakeCollection{}}

	err := c.Insert(context.Background(), nil)
	assert.Error(t, err)

	err = c.Insert(context.Background(), &audit.Entry{Timestamp: time.Unix(1, 0)})
	assert.Error(t, err)

	err = c.Insert(context.Background(), &audit.Entry{Tool: "webSearch"})
	assert.Error(t, err)

	err = c.Insert(context.Background(), &audit.Entry{
		Timestamp:     time.Unix(1, 0).UTC(),
		Tool:          "webSearch",
		ResultSummary: "ok",
		Duration:      150 * time.Millisecond,
	})
	require.NoError(t, err)
}

func TestClientListNextCursor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		entryCount int
		limit      int
		wantNext   string
	}{
		{name: "fewer_than_limit", entryCount: 2, limit: 3, wantNext: ""},
		{name: "exactly_limit_no_more", entryCount: 3, limit: 3, wantNext: ""},
		{name: "more_than_limit_has_next", entryCount: 4, limit: 3, wantNext: "000000000000000000000003"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			coll := &fakeCollection{findDocs: fakeEntryDocuments("webSearch", tc.entryCount)}
			c := &client{coll: coll}

			page, err := c.List(context.Background(), "webSearch", "", tc.limit)
			require.NoError(t, err)
			assert.Len(t, page.Entries, min(tc.entryCount, tc.limit))
			assert.Equal(t, tc.wantNext, page.NextCursor)

			if tc.wantNext == "" {
				return
			}

			next, err := c.List(context.Background(), "webSearch", page.NextCursor, tc.limit)
			require.NoError(t, err)
			assert.Len(t, next.Entries, tc.entryCount-tc.limit)
			assert.Empty(t, next.NextCursor)
		})
	}
}

func TestClientListRoundTripsFields(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{findDocs: []entryDocument{{
		ID:            primitive.ObjectID{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1},
		Timestamp:     time.Unix(10, 0).UTC(),
		Tool:          "webSearch",
		Args:          map[string]any{"query": "fed"},
		ResultSummary: "rates unchanged",
		SourceURLs:    []string{"https://example.com/a"},
		ToolCallID:    "call-1",
		DurationMS:    420,
	}}}
	c := &client{coll: coll}

	page, err := c.List(context.Background(), "webSearch", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	e := page.Entries[0]
	assert.Equal(t, "webSearch", e.Tool)
	assert.Equal(t, map[string]any{"query": "fed"}, e.Args)
	assert.Equal(t, []string{"https://example.com/a"}, e.SourceURLs)
	assert.Equal(t, 420*time.Millisecond, e.Duration)
}

func fakeEntryDocuments(tool string, n int) []entryDocument {
	docs := make([]entryDocument, 0, n)
	for i := 1; i <= n; i++ {
		docs = append(docs, entryDocument{
			ID:            primitive.ObjectID{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, byte(i)},
			Timestamp:     time.Unix(int64(i), 0).UTC(),
			Tool:          tool,
			ResultSummary: "ok",
		})
	}
	return docs
}

type fakeCollection struct {
	findDocs []entryDocument
}

func (c *fakeCollection) InsertOne(context.Context, any, ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error) {
	return &mongodriver.InsertOneResult{InsertedID: primitive.NewObjectID()}, nil
}

func (c *fakeCollection) Find(_ context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	f, ok := filter.(bson.M)
	if !ok {
		return &fakeCursor{}, nil
	}

	tool, _ := f["tool"].(string)
	var after primitive.ObjectID
	if id, ok := f["_id"].(bson.M); ok {
		if gt, ok := id["$gt"].(primitive.ObjectID); ok {
			after = gt
		}
	}

	filtered := make([]entryDocument, 0, len(c.findDocs))
	for _, doc := range c.findDocs {
		if tool != "" && doc.Tool != tool {
			continue
		}
		if !after.IsZero() && bytes.Compare(doc.ID[:], after[:]) <= 0 {
			continue
		}
		filtered = append(filtered, doc)
	}

	var limit int64
	if len(opts) > 0 && opts[0] != nil && opts[0].Limit != nil {
		limit = *opts[0].Limit
	}
	if limit > 0 && int64(len(filtered)) > limit {
		filtered = filtered[:limit]
	}

	return &fakeCursor{docs: filtered}, nil
}

func (c *fakeCollection) Indexes() indexView {
	return fakeIndexView{}
}

type fakeIndexView struct{}

func (fakeIndexView) CreateOne(context.Context, mongodriver.IndexModel, ...*options.CreateIndexesOptions) (string, error) {
	return "", nil
}

type fakeCursor struct {
	docs []entryDocument
	pos  int
	err  error
}

func (c *fakeCursor) Next(context.Context) bool {
	if c.err != nil || c.pos >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *fakeCursor) Decode(val any) error {
	if c.err != nil {
		return c.err
	}
	if c.pos == 0 || c.pos > len(c.docs) {
		return nil
	}
	if p, ok := val.(*entryDocument); ok {
		*p = c.docs[c.pos-1]
	}
	return nil
}

func (c *fakeCursor) Err() error                  { return c.err }
func (c *fakeCursor) Close(context.Context) error { return nil }
