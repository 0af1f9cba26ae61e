package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/duplexhq/duplex/pkg/api"
)

const mongoOpTimeout = 5 * time.Second

// MongoDocumentStore is a DocumentStore backed by MongoDB. It is the system
// of record for historical API reads; this package only owns the write path
// and a read used for verification.
type MongoDocumentStore struct {
	executions *mongo.Collection
	rules      *mongo.Collection
	region     string
}

// Ensure MongoDocumentStore implements DocumentStore.
var _ DocumentStore = (*MongoDocumentStore)(nil)

// NewMongoDocumentStore creates a Mongo-backed document store.
// dbName defaults to "duplex" if empty; region feeds the derived console
// url on each stored execution.
func NewMongoDocumentStore(client *mongo.Client, dbName, region string) *MongoDocumentStore {
	if dbName == "" {
		dbName = "duplex"
	}
	db := client.Database(dbName)
	return &MongoDocumentStore{
		executions: db.Collection("executions"),
		rules:      db.Collection("rules"),
		region:     region,
	}
}

// executionDoc is the document-store mirror of one execution. It is a
// superset of the relational row: it additionally keeps the schema version
// and raw task map of the event that produced it.
type executionDoc struct {
	Arn             string         `bson:"_id"`
	WorkflowName    string         `bson:"workflow_name"`
	Status          string         `bson:"status"`
	SchemaVersion   string         `bson:"schema_version,omitempty"`
	URL             string         `bson:"url"`
	Tasks           map[string]any `bson:"tasks,omitempty"`
	DurationSeconds int64          `bson:"duration_seconds"`
	OriginalPayload map[string]any `bson:"original_payload,omitempty"`
	FinalPayload    map[string]any `bson:"final_payload,omitempty"`
	Error           map[string]any `bson:"error"`
	CreatedAt       time.Time      `bson:"created_at"`
	UpdatedAt       time.Time      `bson:"updated_at"`
	Timestamp       time.Time      `bson:"timestamp"`
	Collection      string         `bson:"collection,omitempty"`
	AsyncOperation  string         `bson:"async_operation,omitempty"`
	ParentArn       string         `bson:"parent_arn,omitempty"`
}

type ruleDoc struct {
	Name      string         `bson:"_id"`
	Workflow  string         `bson:"workflow"`
	State     string         `bson:"state"`
	Value     map[string]any `bson:"value,omitempty"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

// StoreExecution mirrors the event into the executions collection, keyed on
// arn. The write is a replace-upsert and therefore idempotent: storing the
// same event twice leaves one document with identical content.
func (s *MongoDocumentStore) StoreExecution(ctx context.Context, ev *api.CanonicalEvent) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	now := time.Now().UTC()

	doc := executionDoc{
		Arn:             ev.Arn,
		WorkflowName:    ev.WorkflowName,
		Status:          string(ev.Status),
		SchemaVersion:   ev.SchemaVersion,
		URL:             api.ExecutionURL(s.region, ev.Arn),
		Tasks:           ev.Tasks,
		DurationSeconds: ev.Duration(),
		Error:           ev.Error,
		CreatedAt:       ev.StartTime,
		UpdatedAt:       now,
		Timestamp:       now,
		AsyncOperation:  ev.AsyncOperationID,
		ParentArn:       ev.ParentArn,
	}
	if doc.Error == nil {
		doc.Error = map[string]any{}
	}
	if ev.Status.Terminal() {
		doc.FinalPayload = ev.Payload
	} else {
		doc.OriginalPayload = ev.Payload
	}
	if ev.Collection != nil {
		doc.Collection = ev.Collection.Name + "___" + ev.Collection.Version
	}

	_, err := s.executions.ReplaceOne(ctx,
		bson.M{"_id": ev.Arn},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}

// StoreRule mirrors a rule into the rules collection, keyed on name.
func (s *MongoDocumentStore) StoreRule(ctx context.Context, rule api.Rule) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	doc := ruleDoc{
		Name:      rule.Name,
		Workflow:  rule.Workflow,
		State:     rule.State,
		Value:     rule.Value,
		UpdatedAt: time.Now().UTC(),
	}

	_, err := s.rules.ReplaceOne(ctx,
		bson.M{"_id": rule.Name},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}

// GetExecutionStatus reads back the stored status for an arn. Used by
// integration tests; historical API reads live outside this package.
func (s *MongoDocumentStore) GetExecutionStatus(ctx context.Context, arn string) (api.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var doc executionDoc
	err := s.executions.FindOne(ctx, bson.M{"_id": arn}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", api.ErrExecutionNotFound
		}
		return "", err
	}
	return api.Status(doc.Status), nil
}
