package mcp_test

import (
	"context"
	"encoding/json"
	"slices"
	"testing"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/repository"
	bmcp "github.com/m-mizutani/burrow/pkg/service/mcp"
	"github.com/m-mizutani/burrow/pkg/usecase/analysis"
	"github.com/m-mizutani/burrow/pkg/usecase/gateway"
	"github.com/m-mizutani/gt"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type stubClassifier struct{}

func (stubClassifier) Invoke(ctx context.Context, id model.ID, text string, params model.Params) (*model.Map, error) {
	return model.MapOf("y_pred", "1", "y_proba", 0.75), nil
}

func connect(t *testing.T) (*mcp.ClientSession, *repository.Memory) {
	t.Helper()
	ctx := context.Background()
	repo := repository.NewMemory()
	srv := bmcp.New(gateway.New(repo), analysis.New(repo, analysis.WithClassifier(stubClassifier{})))

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	_, err := srv.Connect(ctx, serverTransport)
	gt.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "burrow-test", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session, repo
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	gt.NoError(t, err)
	gt.A(t, result.Content).Length(1)
	text, ok := result.Content[0].(*mcp.TextContent)
	gt.True(t, ok)
	return text.Text, result.IsError
}

func TestListTools(t *testing.T) {
	session, _ := connect(t)
	resp, err := session.ListTools(context.Background(), nil)
	gt.NoError(t, err)

	var names []string
	for _, tool := range resp.Tools {
		names = append(names, tool.Name)
	}
	for _, want := range []string{
		"list_documents", "get_document", "insert_document", "upsert_document", "delete_documents",
		"distinct_values", "summarize_text", "classify_review", "train_review",
	} {
		gt.True(t, slices.Contains(names, want))
	}
}

func TestDocumentTools(t *testing.T) {
	session, _ := connect(t)

	text, isErr := callTool(t, session, "insert_document", map[string]any{
		"collection": "content",
		"document":   map[string]any{"title": "hello", "n": 1},
	})
	gt.False(t, isErr)
	var inserted map[string]string
	gt.NoError(t, json.Unmarshal([]byte(text), &inserted))
	id := inserted["_id"]
	gt.Equal(t, len(id), 24)

	text, isErr = callTool(t, session, "get_document", map[string]any{"collection": "content", "id": id})
	gt.False(t, isErr)
	var doc map[string]any
	gt.NoError(t, json.Unmarshal([]byte(text), &doc))
	gt.Equal(t, doc["title"], any("hello"))

	text, isErr = callTool(t, session, "upsert_document", map[string]any{
		"collection": "content",
		"id":         id,
		"document":   map[string]any{"tag": "x"},
	})
	gt.False(t, isErr)
	gt.Equal(t, text, `{"created":false,"modified_count":1}`)

	text, isErr = callTool(t, session, "list_documents", map[string]any{
		"collection": "content",
		"filter":     map[string]any{"tag": "x"},
	})
	gt.False(t, isErr)
	var listed map[string][]map[string]any
	gt.NoError(t, json.Unmarshal([]byte(text), &listed))
	gt.A(t, listed["content"]).Length(1)

	text, isErr = callTool(t, session, "distinct_values", map[string]any{"collection": "content", "field": "title"})
	gt.False(t, isErr)
	gt.Equal(t, text, `["hello"]`)

	text, isErr = callTool(t, session, "delete_documents", map[string]any{
		"collection": "content",
		"filter":     map[string]any{},
	})
	gt.False(t, isErr)
	gt.Equal(t, text, `{"deleted_count":1}`)

	_, isErr = callTool(t, session, "get_document", map[string]any{"collection": "content", "id": id})
	gt.True(t, isErr)
}

func TestListLimit(t *testing.T) {
	session, repo := connect(t)
	for i := range 5 {
		_, err := repo.Insert(context.Background(), "items", model.MapOf("i", i))
		gt.NoError(t, err)
	}

	text, isErr := callTool(t, session, "list_documents", map[string]any{"collection": "items", "limit": 2})
	gt.False(t, isErr)
	var listed map[string][]map[string]any
	gt.NoError(t, json.Unmarshal([]byte(text), &listed))
	gt.A(t, listed["items"]).Length(2)
	gt.Equal(t, listed["items"][0]["i"], any(float64(0)))
}

func TestAnalysisTools(t *testing.T) {
	session, repo := connect(t)
	id, err := repo.Insert(context.Background(), "review", model.MapOf("review_text", "nice"))
	gt.NoError(t, err)

	text, isErr := callTool(t, session, "classify_review", map[string]any{"id": id.String()})
	gt.False(t, isErr)
	gt.Equal(t, text, `{"y_pred":"1","y_proba":0.75}`)

	text, isErr = callTool(t, session, "train_review", map[string]any{"id": id.String(), "label": "0"})
	gt.False(t, isErr)
	gt.Equal(t, text, `{}`)

	doc, err := repo.Get(context.Background(), "review", id)
	gt.NoError(t, err)
	v, _ := doc.Lookup("y")
	gt.Equal(t, v.AsString(), "0")

	// no summarizer configured
	_, isErr = callTool(t, session, "summarize_text", map[string]any{"id": id.String(), "word_limit": 5})
	gt.True(t, isErr)

	_, isErr = callTool(t, session, "classify_review", map[string]any{"id": "not-an-id"})
	gt.True(t, isErr)
}

func TestInsertTaggedDate(t *testing.T) {
	session, repo := connect(t)

	text, isErr := callTool(t, session, "insert_document", map[string]any{
		"collection": "events",
		"document":   map[string]any{"at": map[string]any{"$date": "2024-01-02T03:04:05Z"}},
	})
	gt.False(t, isErr)
	var inserted map[string]string
	gt.NoError(t, json.Unmarshal([]byte(text), &inserted))
	id, err := model.ParseID(inserted["_id"])
	gt.NoError(t, err)

	doc, err := repo.Get(context.Background(), "events", id)
	gt.NoError(t, err)
	v, ok := doc.Fields.Get("at")
	gt.True(t, ok)
	gt.Equal(t, v.Kind(), model.KindTime)
}
