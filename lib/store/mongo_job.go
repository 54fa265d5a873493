package store

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	graphCollectionName = "graph"
	nodeCollectionName  = "node"
	dataCollectionName  = "data"
)

// MongoJobStore is the Mongo-backed JobDbRepo, translated from
// original_source's src/dbrepo/job_db_mongo.rs. One instance is created per
// job database (one Mongo database per job, per spec.md §4.1).
type MongoJobStore struct {
	graphCol *mongo.Collection
	nodeCol  *mongo.Collection
	dataCol  *mongo.Collection
}

var _ JobDbRepo = (*MongoJobStore)(nil)

// NewMongoJobStore connects to database and ensures the indexes the tracker
// and sweeper queries rely on exist.
func NewMongoJobStore(ctx context.Context, client *mongo.Client, database string) (*MongoJobStore, error) {
	db := client.Database(database)
	s := &MongoJobStore{
		graphCol: db.Collection(graphCollectionName),
		nodeCol:  db.Collection(nodeCollectionName),
		dataCol:  db.Collection(dataCollectionName),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, trace.Wrap(err, "ensuring job store indexes")
	}
	return s, nil
}

func (s *MongoJobStore) ensureIndexes(ctx context.Context) error {
	type spec struct {
		col    *mongo.Collection
		keys   bson.D
		name   string
		unique bool
	}
	specs := []spec{
		{s.nodeCol, bson.D{{Key: "node_name", Value: 1}}, "idx_node_name_unique", true},
		{s.dataCol, bson.D{{Key: "created_at", Value: 1}}, "idx_created_at", false},
		{s.dataCol, bson.D{{Key: "node_name", Value: 1}, {Key: "state", Value: 1}, {Key: "direction", Value: 1}}, "idx_node_name_state_direction", false},
		{s.dataCol, bson.D{{Key: "node_name", Value: 1}, {Key: "id", Value: 1}, {Key: "direction", Value: 1}}, "idx_node_name_id_direction", false},
		{s.dataCol, bson.D{{Key: "node_name", Value: 1}, {Key: "id", Value: 1}, {Key: "direction", Value: 1}, {Key: "flag.is_transparent_data", Value: 1}}, "idx_node_name_id_direction_transparent_data", false},
	}
	for _, sp := range specs {
		_, err := sp.col.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    sp.keys,
			Options: options.Index().SetName(sp.name).SetUnique(sp.unique),
		})
		if err != nil && !mongo.IsDuplicateKeyError(err) {
			return trace.Wrap(err, "creating index %v", sp.name)
		}
	}
	return nil
}

func (s *MongoJobStore) InsertGlobalState(ctx context.Context, graph *Graph) error {
	_, err := s.graphCol.InsertOne(ctx, graph)
	return trace.Wrap(err)
}

func (s *MongoJobStore) GetGlobalState(ctx context.Context) (*Graph, error) {
	var g Graph
	err := s.graphCol.FindOne(ctx, bson.D{}).Decode(&g)
	if err == mongo.ErrNoDocuments {
		return nil, trace.NotFound("global state not set")
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &g, nil
}

func (s *MongoJobStore) InsertNode(ctx context.Context, node *Node) error {
	_, err := s.nodeCol.InsertOne(ctx, node)
	return trace.Wrap(err)
}

func (s *MongoJobStore) GetNodeByName(ctx context.Context, name string) (*Node, error) {
	var n Node
	err := s.nodeCol.FindOne(ctx, bson.M{"node_name": name}).Decode(&n)
	if err == mongo.ErrNoDocuments {
		return nil, trace.NotFound("node %v not found", name)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &n, nil
}

func (s *MongoJobStore) UpdateNodeByName(ctx context.Context, name string, state TrackerState) error {
	update := bson.M{"$set": bson.M{
		"state":      state,
		"updated_at": time.Now().Unix(),
	}}
	_, err := s.nodeCol.UpdateOne(ctx, bson.M{"node_name": name}, update)
	return trace.Wrap(err)
}

func (s *MongoJobStore) MarkIncomingFinish(ctx context.Context, name string) error {
	update := bson.M{"$set": bson.M{
		"state":      TrackerStateInComingFinish,
		"updated_at": time.Now().Unix(),
	}}
	query := bson.M{
		"node_name": name,
		"state":     bson.M{"$ne": TrackerStateFinish},
	}
	_, err := s.nodeCol.UpdateOne(ctx, query, update)
	return trace.Wrap(err)
}

func (s *MongoJobStore) IsAllNodeFinish(ctx context.Context) (bool, error) {
	count, err := s.nodeCol.CountDocuments(ctx, bson.M{"state": bson.M{"$ne": TrackerStateFinish}})
	if err != nil {
		return false, trace.Wrap(err)
	}
	return count == 0, nil
}

func (s *MongoJobStore) IsAllNodeReady(ctx context.Context) (bool, error) {
	count, err := s.nodeCol.CountDocuments(ctx, bson.M{"state": TrackerStateInit})
	if err != nil {
		return false, trace.Wrap(err)
	}
	return count == 0, nil
}

func (s *MongoJobStore) FindDataAndMarkState(
	ctx context.Context,
	nodeName string,
	direction Direction,
	includeTransparentData bool,
	state DataState,
	machineName string,
) (*DataRecord, error) {
	set := bson.M{
		"state":      state,
		"updated_at": time.Now().Unix(),
	}
	if machineName != "" {
		set["machine"] = machineName
	}

	query := bson.M{
		"node_name": nodeName,
		"state":     bson.M{"$in": []DataState{DataStateReceived, DataStatePartialSent}},
		"direction": direction,
	}
	if !includeTransparentData {
		query["flag.is_transparent_data"] = false
	}

	opts := options.FindOneAndUpdate().SetSort(bson.D{{Key: "priority", Value: 1}})
	var rec DataRecord
	err := s.dataCol.FindOneAndUpdate(ctx, query, bson.M{"$set": set}, opts).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &rec, nil
}

func (s *MongoJobStore) RevertNoSuccessSent(ctx context.Context, nodeName string, direction Direction) (int64, error) {
	update := bson.M{"$set": bson.M{
		"state":      DataStateReceived,
		"updated_at": time.Now().Unix(),
	}}
	cutoff := time.Now().Add(-time.Minute).Unix()
	query := bson.M{
		"node_name":  nodeName,
		"state":      DataStateSelectForSend,
		"direction":  direction,
		"updated_at": bson.M{"$lt": cutoff},
	}
	res, err := s.dataCol.UpdateMany(ctx, query, update)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return res.ModifiedCount, nil
}

func (s *MongoJobStore) FindByNodeID(ctx context.Context, nodeName, id string, direction Direction) (*DataRecord, error) {
	var rec DataRecord
	query := bson.M{"id": id, "node_name": nodeName, "direction": direction}
	err := s.dataCol.FindOne(ctx, query).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &rec, nil
}

func (s *MongoJobStore) ListByNodeNameAndState(ctx context.Context, nodeName string, state DataState) ([]*DataRecord, error) {
	cur, err := s.dataCol.Find(ctx, bson.M{"node_name": nodeName, "state": state})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer cur.Close(ctx)
	var out []*DataRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}

func (s *MongoJobStore) Count(ctx context.Context, nodeName string, states []DataState, direction *Direction) (int, error) {
	query := bson.M{"node_name": nodeName}
	if len(states) > 0 {
		query["state"] = bson.M{"$in": states}
	}
	if direction != nil {
		query["direction"] = *direction
	}
	count, err := s.dataCol.CountDocuments(ctx, query)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return int(count), nil
}

func (s *MongoJobStore) InsertNewPath(ctx context.Context, record *DataRecord) error {
	_, err := s.dataCol.InsertOne(ctx, record)
	return trace.Wrap(err)
}

func (s *MongoJobStore) UpdateState(ctx context.Context, nodeName, id string, direction Direction, state DataState, sent []string) error {
	set := bson.M{
		"state":      state,
		"updated_at": time.Now().Unix(),
	}
	if sent != nil {
		set["sent"] = sent
	}
	query := bson.M{"node_name": nodeName, "id": id, "direction": direction}
	_, err := s.dataCol.UpdateOne(ctx, query, bson.M{"$set": set})
	return trace.Wrap(err)
}
