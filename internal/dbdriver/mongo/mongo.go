// Package mongo implements dbdriver.Database on top of
// go.mongodb.org/mongo-driver, storing each model's documents natively
// rather than under a wrapper column. Connection setup follows the
// teacher's ConnectMongo style (internal/db/db.go): ApplyURI, Connect, then
// a bounded Ping before declaring success.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/relaycrud/engine/internal/dbdriver"
)

// Connect dials mongo and verifies connectivity before returning.
func Connect(ctx context.Context, mongoURL string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer disconnectCancel()
		if derr := client.Disconnect(disconnectCtx); derr != nil {
			slog.Error("failed to disconnect from mongo after ping failure", "error", derr)
		}
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	slog.Info("database connection established", "db", "mongo")
	return client, nil
}

// Driver implements dbdriver.Database against a Mongo database handle.
// Every model is one collection; documents use `_id` as their string id but
// are otherwise stored as given.
type Driver struct {
	db *mongo.Database
}

func New(db *mongo.Database) *Driver {
	return &Driver{db: db}
}

func (d *Driver) Handle() any { return d.db }

func (d *Driver) TableList(ctx context.Context) ([]string, error) {
	names, err := d.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("mongo: list collections: %w", err)
	}
	return names, nil
}

func (d *Driver) TableCreate(ctx context.Context, table string) error {
	if err := d.db.CreateCollection(ctx, table); err != nil {
		if isNamespaceExists(err) {
			return nil
		}
		return fmt.Errorf("mongo: create collection %s: %w", table, err)
	}
	return nil
}

func isNamespaceExists(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == 48
	}
	return false
}

func (d *Driver) IndexList(ctx context.Context, table string) ([]string, error) {
	cursor, err := d.db.Collection(table).Indexes().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("mongo: list indexes on %s: %w", table, err)
	}
	defer cursor.Close(ctx)

	var names []string
	for cursor.Next(ctx) {
		var spec struct {
			Name string `bson:"name"`
		}
		if err := cursor.Decode(&spec); err != nil {
			return nil, fmt.Errorf("mongo: decode index spec: %w", err)
		}
		names = append(names, spec.Name)
	}
	return names, cursor.Err()
}

func (d *Driver) IndexCreate(ctx context.Context, table string, def dbdriver.IndexDef) error {
	if def.Fn != nil {
		return def.Fn(d.db)
	}
	keys := bson.D{}
	for _, field := range def.Fields {
		keys = append(keys, bson.E{Key: field, Value: 1})
	}
	model := mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetName(def.Name),
	}
	if _, err := d.db.Collection(table).Indexes().CreateOne(ctx, model); err != nil {
		return fmt.Errorf("mongo: create index %s on %s: %w", def.Name, table, err)
	}
	return nil
}

func (d *Driver) IndexDrop(ctx context.Context, table, name string) error {
	if _, err := d.db.Collection(table).Indexes().DropOne(ctx, name); err != nil {
		return fmt.Errorf("mongo: drop index %s on %s: %w", name, table, err)
	}
	return nil
}

func (d *Driver) Get(ctx context.Context, table, id string) (map[string]any, error) {
	var doc map[string]any
	err := d.db.Collection(table).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("mongo: get %s/%s: %w", table, id, err)
	}
	delete(doc, "_id")
	doc["id"] = id
	return doc, nil
}

func toDocument(value map[string]any) bson.M {
	doc := bson.M{}
	for k, v := range value {
		if k == "id" {
			continue
		}
		doc[k] = v
	}
	if id, ok := value["id"]; ok {
		doc["_id"] = id
	}
	return doc
}

func fromDocument(doc bson.M) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "_id" {
			out["id"] = v
			continue
		}
		out[k] = v
	}
	return out
}

func (d *Driver) Insert(ctx context.Context, table string, value map[string]any, returnChanges bool) (dbdriver.WriteResult, error) {
	doc := toDocument(value)
	if _, err := d.db.Collection(table).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			id, _ := value["id"].(string)
			return dbdriver.WriteResult{}, fmt.Errorf("duplicate primary key `%s`: %w", id, err)
		}
		return dbdriver.WriteResult{}, fmt.Errorf("mongo: insert into %s: %w", table, err)
	}
	if !returnChanges {
		return dbdriver.WriteResult{}, nil
	}
	return dbdriver.WriteResult{Changes: []map[string]any{fromDocument(doc)}}, nil
}

func (d *Driver) Update(ctx context.Context, table, id string, value map[string]any, returnChanges bool) (dbdriver.WriteResult, error) {
	update := bson.M{"$set": toDocument(value)}
	delete(update["$set"].(bson.M), "_id")

	if !returnChanges {
		res, err := d.db.Collection(table).UpdateOne(ctx, bson.M{"_id": id}, update)
		if err != nil {
			return dbdriver.WriteResult{}, fmt.Errorf("mongo: update %s/%s: %w", table, id, err)
		}
		if res.MatchedCount == 0 {
			return dbdriver.WriteResult{}, &notFoundError{table: table, id: id}
		}
		return dbdriver.WriteResult{}, nil
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc bson.M
	err := d.db.Collection(table).FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return dbdriver.WriteResult{}, &notFoundError{table: table, id: id}
		}
		return dbdriver.WriteResult{}, fmt.Errorf("mongo: update %s/%s: %w", table, id, err)
	}
	return dbdriver.WriteResult{Changes: []map[string]any{fromDocument(doc)}}, nil
}

func (d *Driver) Replace(ctx context.Context, table, id string, value map[string]any, returnChanges bool) (dbdriver.WriteResult, error) {
	doc := toDocument(value)
	doc["_id"] = id

	if !returnChanges {
		res, err := d.db.Collection(table).ReplaceOne(ctx, bson.M{"_id": id}, doc)
		if err != nil {
			return dbdriver.WriteResult{}, fmt.Errorf("mongo: replace %s/%s: %w", table, id, err)
		}
		if res.MatchedCount == 0 {
			return dbdriver.WriteResult{}, &notFoundError{table: table, id: id}
		}
		return dbdriver.WriteResult{}, nil
	}

	opts := options.FindOneAndReplace().SetReturnDocument(options.After)
	var replaced bson.M
	err := d.db.Collection(table).FindOneAndReplace(ctx, bson.M{"_id": id}, doc, opts).Decode(&replaced)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return dbdriver.WriteResult{}, &notFoundError{table: table, id: id}
		}
		return dbdriver.WriteResult{}, fmt.Errorf("mongo: replace %s/%s: %w", table, id, err)
	}
	return dbdriver.WriteResult{Changes: []map[string]any{fromDocument(replaced)}}, nil
}

func (d *Driver) Delete(ctx context.Context, table, id string, returnChanges bool) (dbdriver.WriteResult, error) {
	if !returnChanges {
		res, err := d.db.Collection(table).DeleteOne(ctx, bson.M{"_id": id})
		if err != nil {
			return dbdriver.WriteResult{}, fmt.Errorf("mongo: delete %s/%s: %w", table, id, err)
		}
		if res.DeletedCount == 0 {
			return dbdriver.WriteResult{}, &notFoundError{table: table, id: id}
		}
		return dbdriver.WriteResult{}, nil
	}

	opts := options.FindOneAndDelete()
	var doc bson.M
	err := d.db.Collection(table).FindOneAndDelete(ctx, bson.M{"_id": id}, opts).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return dbdriver.WriteResult{}, &notFoundError{table: table, id: id}
		}
		return dbdriver.WriteResult{}, fmt.Errorf("mongo: delete %s/%s: %w", table, id, err)
	}
	return dbdriver.WriteResult{Changes: []map[string]any{fromDocument(doc)}}, nil
}

type notFoundError struct {
	table, id string
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("the query did not find a document and returned null for %s/%s", e.table, e.id)
}
