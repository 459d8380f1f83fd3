package mcp

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type listInput struct {
	Collection string         `json:"collection" jsonschema:"collection name"`
	Filter     map[string]any `json:"filter,omitempty" jsonschema:"query document using $eq $ne $gt $gte $lt $lte $in $exists $and $or; omit to list everything"`
	Limit      int            `json:"limit,omitempty" jsonschema:"maximum number of documents to return (default 100)"`
}

type documentInput struct {
	Collection string `json:"collection" jsonschema:"collection name"`
	ID         string `json:"id" jsonschema:"document identifier as 24 hex characters"`
}

type insertInput struct {
	Collection string         `json:"collection" jsonschema:"collection name"`
	Document   map[string]any `json:"document" jsonschema:"fields of the new document; _id is ignored"`
}

type upsertInput struct {
	Collection string         `json:"collection" jsonschema:"collection name"`
	ID         string         `json:"id" jsonschema:"document identifier as 24 hex characters"`
	Document   map[string]any `json:"document" jsonschema:"fields to set; other fields are kept"`
}

type deleteInput struct {
	Collection string         `json:"collection" jsonschema:"collection name"`
	Filter     map[string]any `json:"filter" jsonschema:"query document selecting the documents to delete; {} deletes everything"`
}

type distinctInput struct {
	Collection string `json:"collection" jsonschema:"collection name"`
	Field      string `json:"field" jsonschema:"field path, dotted for nested fields"`
}

type summarizeInput struct {
	ID        string `json:"id" jsonschema:"content document identifier"`
	WordLimit int    `json:"word_limit" jsonschema:"maximum number of words in the summary"`
}

type classifyInput struct {
	ID string `json:"id" jsonschema:"review document identifier"`
}

type trainInput struct {
	ID    string `json:"id" jsonschema:"review document identifier"`
	Label string `json:"label" jsonschema:"label to record, stored verbatim"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_documents",
		Description: "List documents of a collection in insertion order, optionally filtered",
	}, s.handleList)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_document",
		Description: "Get one document by identifier",
	}, s.handleGet)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "insert_document",
		Description: "Insert a document and return its new identifier",
	}, s.handleInsert)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "upsert_document",
		Description: "Set fields on the document with the identifier, creating it when absent",
	}, s.handleUpsert)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete_documents",
		Description: "Delete every document of a collection matching the filter",
	}, s.handleDelete)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "distinct_values",
		Description: "List the distinct values of a field across a collection",
	}, s.handleDistinct)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "summarize_text",
		Description: "Summarize the content_text of a content document and store the summary on it",
	}, s.handleSummarize)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "classify_review",
		Description: "Predict the label of a review document and store the prediction on it",
	}, s.handleClassify)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "train_review",
		Description: "Record a label on a review document",
	}, s.handleTrain)
}

// textResult renders v as JSON text content
func textResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to encode tool result")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

// toMap decodes fields the same way the HTTP body is decoded, so tagged
// values such as {"$date": "..."} become typed values
func toMap(fields map[string]any) (*model.Map, error) {
	if fields == nil {
		return nil, goerr.Wrap(model.ErrInvalidRequest, "document is required")
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, goerr.Wrap(model.ErrInvalidRequest, "document is not JSON encodable", goerr.V("error", err.Error()))
	}
	m := model.NewMap()
	if err := m.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	return m, nil
}

func toFilter(filter map[string]any) (model.Filter, error) {
	if filter == nil {
		return nil, nil
	}
	raw, err := json.Marshal(filter)
	if err != nil {
		return nil, goerr.Wrap(model.ErrInvalidQuery, "filter is not JSON encodable", goerr.V("error", err.Error()))
	}
	return model.ParseFilter(raw)
}

func (s *Server) handleList(ctx context.Context, _ *mcp.CallToolRequest, in listInput) (*mcp.CallToolResult, any, error) {
	filter, err := toFilter(in.Filter)
	if err != nil {
		return nil, nil, err
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	docs := []*model.Document{}
	for doc, err := range s.gateway.List(ctx, in.Collection, filter) {
		if err != nil {
			return nil, nil, err
		}
		docs = append(docs, doc)
		if len(docs) >= limit {
			break
		}
	}

	logging.From(ctx).Debug("mcp list", "collection", in.Collection, "count", len(docs))
	return textResult(map[string]any{in.Collection: docs})
}

func (s *Server) handleGet(ctx context.Context, _ *mcp.CallToolRequest, in documentInput) (*mcp.CallToolResult, any, error) {
	id, err := model.ParseID(in.ID)
	if err != nil {
		return nil, nil, err
	}
	doc, err := s.gateway.Get(ctx, in.Collection, id)
	if err != nil {
		return nil, nil, err
	}
	return textResult(doc)
}

func (s *Server) handleInsert(ctx context.Context, _ *mcp.CallToolRequest, in insertInput) (*mcp.CallToolResult, any, error) {
	fields, err := toMap(in.Document)
	if err != nil {
		return nil, nil, err
	}
	id, err := s.gateway.Insert(ctx, in.Collection, fields)
	if err != nil {
		return nil, nil, err
	}
	return textResult(map[string]string{model.IDField: id.String()})
}

func (s *Server) handleUpsert(ctx context.Context, _ *mcp.CallToolRequest, in upsertInput) (*mcp.CallToolResult, any, error) {
	id, err := model.ParseID(in.ID)
	if err != nil {
		return nil, nil, err
	}
	fields, err := toMap(in.Document)
	if err != nil {
		return nil, nil, err
	}
	result, err := s.gateway.Upsert(ctx, in.Collection, id, fields)
	if err != nil {
		return nil, nil, err
	}
	return textResult(result)
}

func (s *Server) handleDelete(ctx context.Context, _ *mcp.CallToolRequest, in deleteInput) (*mcp.CallToolResult, any, error) {
	filter, err := toFilter(in.Filter)
	if err != nil {
		return nil, nil, err
	}
	n, err := s.gateway.DeleteMany(ctx, in.Collection, filter)
	if err != nil {
		return nil, nil, err
	}
	return textResult(map[string]int64{"deleted_count": n})
}

func (s *Server) handleDistinct(ctx context.Context, _ *mcp.CallToolRequest, in distinctInput) (*mcp.CallToolResult, any, error) {
	values, err := s.gateway.Distinct(ctx, in.Collection, in.Field)
	if err != nil {
		return nil, nil, err
	}
	if values == nil {
		values = []model.Value{}
	}
	return textResult(values)
}

func (s *Server) handleSummarize(ctx context.Context, _ *mcp.CallToolRequest, in summarizeInput) (*mcp.CallToolResult, any, error) {
	id, err := model.ParseID(in.ID)
	if err != nil {
		return nil, nil, err
	}
	result, err := s.analysis.Summarize(ctx, id, in.WordLimit)
	if err != nil {
		return nil, nil, err
	}
	return textResult(result)
}

func (s *Server) handleClassify(ctx context.Context, _ *mcp.CallToolRequest, in classifyInput) (*mcp.CallToolResult, any, error) {
	id, err := model.ParseID(in.ID)
	if err != nil {
		return nil, nil, err
	}
	result, err := s.analysis.Classify(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return textResult(result)
}

func (s *Server) handleTrain(ctx context.Context, _ *mcp.CallToolRequest, in trainInput) (*mcp.CallToolResult, any, error) {
	id, err := model.ParseID(in.ID)
	if err != nil {
		return nil, nil, err
	}
	result, err := s.analysis.Train(ctx, id, in.Label)
	if err != nil {
		return nil, nil, err
	}
	return textResult(result)
}
