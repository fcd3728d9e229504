package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vidpipe/internal/video"
)

type mongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type mongoVideo struct {
	ID              string    `bson:"_id"`
	Status          string    `bson:"status"`
	ModerationScore *float64  `bson:"moderationScore,omitempty"`
	HLSURL          string    `bson:"hlsUrl,omitempty"`
	Qualities       []string  `bson:"qualities,omitempty"`
	Error           string    `bson:"error,omitempty"`
	CreatedAt       time.Time `bson:"createdAt"`
	UpdatedAt       time.Time `bson:"updatedAt"`
}

// OpenMongo connects to MongoDB and uses database.collection for records.
func OpenMongo(ctx context.Context, uri, database, collection string) (Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "updatedAt", Value: -1}}})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create mongo index: %w", err)
	}
	return &mongoStore{client: client, collection: coll}, nil
}

func (m *mongoStore) Create(ctx context.Context, id string) (*video.Record, error) {
	if err := video.ValidateID(id); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	doc := mongoVideo{ID: id, Status: string(video.StatusUploading), CreatedAt: now, UpdatedAt: now}
	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %s", ErrExists, id)
		}
		return nil, fmt.Errorf("insert video: %w", err)
	}
	rec := doc.record()
	return &rec, nil
}

func (m *mongoStore) Get(ctx context.Context, id string) (*video.Record, error) {
	var doc mongoVideo
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	rec := doc.record()
	return &rec, nil
}

func (m *mongoStore) Apply(ctx context.Context, id string, p video.Patch) (*video.Record, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	set := bson.M{"updatedAt": time.Now().UTC()}
	unset := bson.M{}
	for field, value := range p.Fields() {
		if value == nil {
			unset[field] = ""
			continue
		}
		set[field] = value
	}
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	filter := bson.M{"_id": id, "status": bson.M{"$in": statusStrings(p.AllowedFrom())}}

	res, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, fmt.Errorf("update video: %w", err)
	}
	current, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		return current, rejected(id, current.Status, p)
	}
	return current, nil
}

func (m *mongoStore) List(ctx context.Context, limit int) ([]video.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}).SetLimit(int64(listLimit(limit)))
	cursor, err := m.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoVideo
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode videos: %w", err)
	}
	out := make([]video.Record, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.record())
	}
	return out, nil
}

func (m *mongoStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *mongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (doc mongoVideo) record() video.Record {
	status, _ := video.ParseStatus(doc.Status)
	return video.Record{
		ID:              doc.ID,
		Status:          status,
		ModerationScore: doc.ModerationScore,
		HLSURL:          doc.HLSURL,
		Qualities:       doc.Qualities,
		Error:           doc.Error,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
}
