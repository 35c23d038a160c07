package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/vtpl1/camrelay/models"
)

const (
	databaseName       = "camrelay"
	camerasCollection  = "cameras"
	segmentsCollection = "segments"
	countersCollection = "segmentCounters"
	eventsCollection   = "events"
	opTimeout          = 1 * time.Second
)

// MongoStore is the MongoDB-backed Store
type MongoStore struct {
	client *mongo.Client
}

// NewMongoStore wraps a connected client
func NewMongoStore(client *mongo.Client) *MongoStore {
	return &MongoStore{client: client}
}

func (s *MongoStore) collection(name string) *mongo.Collection {
	return s.client.Database(databaseName).Collection(name)
}

func (s *MongoStore) UpsertCamera(ctx context.Context, cam *models.Camera) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	filter := bson.M{"cameraId": cam.ID}
	_, err := s.collection(camerasCollection).ReplaceOne(ctx, filter, cam, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) CameraByID(ctx context.Context, id string) (*models.Camera, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	var cam models.Camera
	err := s.collection(camerasCollection).FindOne(ctx, bson.M{"cameraId": id}).Decode(&cam)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrCameraNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cam, nil
}

func (s *MongoStore) CameraByAgentName(ctx context.Context, agentName string) (*models.Camera, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	var cam models.Camera
	err := s.collection(camerasCollection).FindOne(ctx, bson.M{"agentName": agentName}).Decode(&cam)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrCameraNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cam, nil
}

func (s *MongoStore) Cameras(ctx context.Context, includeTombstoned bool) ([]models.Camera, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	filter := bson.M{}
	if !includeTombstoned {
		filter["tombstoned"] = bson.M{"$ne": true}
	}
	cursor, err := s.collection(camerasCollection).Find(ctx, filter, options.Find().SetSort(bson.M{"name": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx) //nolint:errcheck
	var cams []models.Camera
	if err := cursor.All(ctx, &cams); err != nil {
		return nil, err
	}
	return cams, nil
}

func (s *MongoStore) InsertSegment(ctx context.Context, seg *models.RecordingSegment) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := s.collection(segmentsCollection).InsertOne(ctx, seg)
	return err
}

func (s *MongoStore) CloseSegment(ctx context.Context, cameraID string, segmentID int64, end time.Time, byteSize int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	filter := bson.M{"cameraId": cameraID, "segmentId": segmentID, "state": models.SegmentOpen}
	update := bson.M{"$set": bson.M{"state": models.SegmentClosed, "endTime": end, "byteSize": byteSize}}
	res, err := s.collection(segmentsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrSegmentStateConflict
	}
	return nil
}

func (s *MongoStore) MarkSegmentDeleted(ctx context.Context, cameraID string, segmentID int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	filter := bson.M{"cameraId": cameraID, "segmentId": segmentID, "state": models.SegmentClosed}
	update := bson.M{"$set": bson.M{"state": models.SegmentDeleted}}
	res, err := s.collection(segmentsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrSegmentStateConflict
	}
	return nil
}

func (s *MongoStore) OpenSegments(ctx context.Context) ([]models.RecordingSegment, error) {
	return s.findSegments(ctx, bson.M{"state": models.SegmentOpen}, 0)
}

func (s *MongoStore) SegmentsByCamera(ctx context.Context, cameraID string, from, to time.Time) ([]models.RecordingSegment, error) {
	filter := bson.M{"cameraId": cameraID, "state": bson.M{"$ne": models.SegmentDeleted}}
	startRange := bson.M{}
	if !from.IsZero() {
		startRange["$gte"] = from
	}
	if !to.IsZero() {
		startRange["$lte"] = to
	}
	if len(startRange) > 0 {
		filter["startTime"] = startRange
	}
	return s.findSegments(ctx, filter, 0)
}

func (s *MongoStore) ClosedSegmentsOlderThan(ctx context.Context, cutoff time.Time) ([]models.RecordingSegment, error) {
	filter := bson.M{"state": models.SegmentClosed, "startTime": bson.M{"$lt": cutoff}}
	return s.findSegments(ctx, filter, 0)
}

func (s *MongoStore) OldestClosedSegments(ctx context.Context, limit int) ([]models.RecordingSegment, error) {
	return s.findSegments(ctx, bson.M{"state": models.SegmentClosed}, limit)
}

func (s *MongoStore) findSegments(ctx context.Context, filter bson.M, limit int) ([]models.RecordingSegment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	opts := options.Find().SetSort(bson.M{"startTime": 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.collection(segmentsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx) //nolint:errcheck
	var segs []models.RecordingSegment
	if err := cursor.All(ctx, &segs); err != nil {
		return nil, err
	}
	return segs, nil
}

func (s *MongoStore) NextSegmentID(ctx context.Context, cameraID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	filter := bson.M{"cameraId": cameraID}
	update := bson.M{"$inc": bson.M{"seq": int64(1)}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.collection(countersCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Seq, nil
}

func (s *MongoStore) AppendEvent(ctx context.Context, entry *models.EventLogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := s.collection(eventsCollection).InsertOne(ctx, entry)
	return err
}

func (s *MongoStore) Events(ctx context.Context, filter EventFilter) ([]models.EventLogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	query := bson.M{}
	if filter.CameraID != "" {
		query["cameraId"] = filter.CameraID
	}
	if filter.Kind != "" {
		query["kind"] = filter.Kind
	}
	timeRange := bson.M{}
	if !filter.Since.IsZero() {
		timeRange["$gte"] = filter.Since
	}
	if !filter.Until.IsZero() {
		timeRange["$lte"] = filter.Until
	}
	if len(timeRange) > 0 {
		query["timestamp"] = timeRange
	}
	opts := options.Find().SetSort(bson.M{"timestamp": -1})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cursor, err := s.collection(eventsCollection).Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx) //nolint:errcheck
	var entries []models.EventLogEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *MongoStore) PruneEvents(ctx context.Context, olderThan time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	res, err := s.collection(eventsCollection).DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": olderThan}})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}
