package storage

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStore keeps learned parameters in a Mongo collection.
type MongoStore struct {
	ctx    context.Context
	client *mongo.Client
	params *mongo.Collection
}

type learnedDoc struct {
	Key           string    `bson:"_id"`
	Material      string    `bson:"material"`
	TargetWeight  float64   `bson:"target_weight"`
	CoarseSpeed   float64   `bson:"coarse_speed"`
	FineSpeed     float64   `bson:"fine_speed"`
	CoarseAdvance float64   `bson:"coarse_advance"`
	FallValue     float64   `bson:"fall_value"`
	FlowRate      *float64  `bson:"flow_rate,omitempty"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func NewMongoStore(uri string) (*MongoStore, error) {
	ctx := context.TODO()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}
	return &MongoStore{
		ctx:    ctx,
		client: client,
		params: client.Database("weigher").Collection("learned_params"),
	}, nil
}

func (s *MongoStore) Lookup(material string, targetWeight float64) (*LearnedParams, bool, error) {
	var doc learnedDoc
	err := s.params.FindOne(s.ctx, bson.M{"_id": storeKey(material, targetWeight)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &LearnedParams{
		Material:      doc.Material,
		TargetWeight:  doc.TargetWeight,
		CoarseSpeed:   doc.CoarseSpeed,
		FineSpeed:     doc.FineSpeed,
		CoarseAdvance: doc.CoarseAdvance,
		FallValue:     doc.FallValue,
		FlowRate:      doc.FlowRate,
		UpdatedAt:     doc.UpdatedAt,
	}, true, nil
}

func (s *MongoStore) Save(p *LearnedParams) error {
	doc := learnedDoc{
		Key:           storeKey(p.Material, p.TargetWeight),
		Material:      p.Material,
		TargetWeight:  p.TargetWeight,
		CoarseSpeed:   p.CoarseSpeed,
		FineSpeed:     p.FineSpeed,
		CoarseAdvance: p.CoarseAdvance,
		FallValue:     p.FallValue,
		FlowRate:      p.FlowRate,
		UpdatedAt:     time.Now(),
	}
	opts := options.Replace().SetUpsert(true)
	_, err := s.params.ReplaceOne(s.ctx, bson.M{"_id": doc.Key}, doc, opts)
	return err
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(s.ctx)
}
