package store

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const jobCollectionName = "job"

// MongoMainStore is the Mongo-backed MainRepo, translated from
// original_source's src/dbrepo/main_db_mongo.rs. One instance backs the
// whole job manager, independent of any per-job database.
type MongoMainStore struct {
	jobCol *mongo.Collection
}

var _ MainRepo = (*MongoMainStore)(nil)

// NewMongoMainStore connects to database and ensures the job collection's
// indexes exist.
func NewMongoMainStore(ctx context.Context, client *mongo.Client, database string) (*MongoMainStore, error) {
	col := client.Database(database).Collection(jobCollectionName)
	s := &MongoMainStore{jobCol: col}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, trace.Wrap(err, "ensuring job collection indexes")
	}
	return s, nil
}

func (s *MongoMainStore) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetName("idx_name").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "state", Value: 1}},
			Options: options.Index().SetName("idx_state"),
		},
	}
	for _, idx := range indexes {
		if _, err := s.jobCol.Indexes().CreateOne(ctx, idx); err != nil && !mongo.IsDuplicateKeyError(err) {
			return trace.Wrap(err)
		}
	}
	return nil
}

func (s *MongoMainStore) Insert(ctx context.Context, job *Job) (*Job, error) {
	if job.ID.IsZero() {
		job.ID = primitive.NewObjectID()
	}
	res, err := s.jobCol.InsertOne(ctx, job)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var inserted Job
	if err := s.jobCol.FindOne(ctx, bson.M{"_id": res.InsertedID}).Decode(&inserted); err != nil {
		return nil, trace.Wrap(err, "reading back inserted job")
	}
	return &inserted, nil
}

func (s *MongoMainStore) Get(ctx context.Context, params GetJobParams) (*Job, error) {
	query := bson.M{}
	if params.ID != nil {
		query["_id"] = *params.ID
	}
	if params.Name != nil {
		query["name"] = *params.Name
	}
	if len(query) == 0 {
		return nil, trace.BadParameter("get job: id or name required")
	}

	var job Job
	err := s.jobCol.FindOne(ctx, query).Decode(&job)
	if err == mongo.ErrNoDocuments {
		return nil, trace.NotFound("job not found")
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &job, nil
}

func (s *MongoMainStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.jobCol.DeleteOne(ctx, bson.M{"_id": id})
	return trace.Wrap(err)
}

// GetJobForRunning atomically claims one Created, non-manual-run job. Jobs
// marked manual_run are skipped: they must be started explicitly through
// the job API/CLI.
func (s *MongoMainStore) GetJobForRunning(ctx context.Context) (*Job, error) {
	query := bson.M{
		"state":      JobStateCreated,
		"manual_run": false,
	}
	update := bson.M{"$set": bson.M{
		"state":      JobStateSelected,
		"updated_at": time.Now().Unix(),
	}}
	var job Job
	err := s.jobCol.FindOneAndUpdate(ctx, query, update).Decode(&job)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &job, nil
}

func (s *MongoMainStore) Update(ctx context.Context, id primitive.ObjectID, info JobUpdateInfo) error {
	set := bson.M{"updated_at": time.Now().Unix()}
	if info.State != nil {
		set["state"] = *info.State
	}
	_, err := s.jobCol.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	return trace.Wrap(err)
}

func (s *MongoMainStore) ListJobs(ctx context.Context, params ListJobParams) ([]*Job, error) {
	query := bson.M{}
	if params.State != nil {
		query["state"] = *params.State
	}
	cur, err := s.jobCol.Find(ctx, query)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer cur.Close(ctx)
	var jobs []*Job
	if err := cur.All(ctx, &jobs); err != nil {
		return nil, trace.Wrap(err)
	}
	return jobs, nil
}
