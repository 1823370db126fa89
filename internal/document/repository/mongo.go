package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/streamline-studio/streamline/backend/go-services/internal/document"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// DefaultInlineLimit keeps revision documents well under Mongo's 16MB cap.
const DefaultInlineLimit = 4 << 20

// errLostRace signals that the conditional update matched nothing because
// another writer committed between our read and our update.
var errLostRace = errors.New("document changed during write")

const maxForceAttempts = 3

// MongoStore implements Store on two collections: "documents" and
// "document_revisions". Writes run inside a multi-document transaction, which
// requires a replica set or sharded cluster.
type MongoStore struct {
	client      *mongo.Client
	docs        *mongo.Collection
	revisions   *mongo.Collection
	blobs       BlobStore
	inlineLimit int
	logger      *zap.Logger
}

// NewMongoStore ensures indexes and returns the store. blobs may be nil, in
// which case every revision is stored inline.
func NewMongoStore(ctx context.Context, db *mongo.Database, blobs BlobStore, inlineLimit int, logger *zap.Logger) (*MongoStore, error) {
	if inlineLimit <= 0 {
		inlineLimit = DefaultInlineLimit
	}
	m := &MongoStore{
		client:      db.Client(),
		docs:        db.Collection("documents"),
		revisions:   db.Collection("document_revisions"),
		blobs:       blobs,
		inlineLimit: inlineLimit,
		logger:      logger.Named("MongoStore"),
	}
	_, err := m.docs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "videoId", Value: 1}, {Key: "type", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("documents index: %w", err)
	}
	_, err = m.revisions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "documentId", Value: 1}, {Key: "version", Value: -1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("revisions index: %w", err)
	}
	return m, nil
}

func (m *MongoStore) Name() string { return "mongo" }

func (m *MongoStore) Create(ctx context.Context, doc *document.Document) (*document.Document, error) {
	now := time.Now().UTC()
	id := doc.ID
	if id == "" {
		id = uuid.NewString()
	}
	filter := bson.M{"videoId": doc.VideoID, "type": doc.Type}
	update := bson.M{"$setOnInsert": bson.M{
		"_id":       id,
		"videoId":   doc.VideoID,
		"type":      doc.Type,
		"content":   doc.Content,
		"version":   document.InitialVersion,
		"createdAt": now,
		"updatedAt": now,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var out document.Document
	err := m.docs.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
	if mongo.IsDuplicateKeyError(err) {
		// concurrent upsert for the same pair; the other insert won
		return m.GetByVideo(ctx, doc.VideoID, doc.Type)
	}
	if err != nil {
		return nil, document.Persistence("create document", err)
	}
	return &out, nil
}

func (m *MongoStore) findOne(ctx context.Context, filter bson.M) (*document.Document, error) {
	var d document.Document
	if err := m.docs.FindOne(ctx, filter).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, document.Persistence("read document", err)
	}
	return &d, nil
}

func (m *MongoStore) Get(ctx context.Context, id string) (*document.Document, error) {
	return m.findOne(ctx, bson.M{"_id": id})
}

func (m *MongoStore) GetByVideo(ctx context.Context, videoID string, t document.DocumentType) (*document.Document, error) {
	return m.findOne(ctx, bson.M{"videoId": videoID, "type": t})
}

func (m *MongoStore) ListByVideo(ctx context.Context, videoID string) ([]*document.Document, error) {
	cur, err := m.docs.Find(ctx, bson.M{"videoId": videoID}, options.Find().SetSort(bson.D{{Key: "type", Value: 1}}))
	if err != nil {
		return nil, document.Persistence("list documents", err)
	}
	defer cur.Close(ctx)
	out := []*document.Document{}
	for cur.Next(ctx) {
		var d document.Document
		if err := cur.Decode(&d); err != nil {
			return nil, document.Persistence("decode document", err)
		}
		out = append(out, &d)
	}
	return out, document.Persistence("list documents", cur.Err())
}

func (m *MongoStore) WriteIfVersion(ctx context.Context, req document.WriteRequest, now time.Time) (*document.WriteResult, error) {
	attempts := 1
	if req.Force {
		attempts = maxForceAttempts
	}
	var err error
	for i := 0; i < attempts; i++ {
		var res *document.WriteResult
		res, err = m.writeOnce(ctx, req, now)
		if !errors.Is(err, errLostRace) {
			return res, err
		}
		m.logger.Debug("lost write race", zap.String("documentID", req.DocumentID), zap.Int("attempt", i+1))
	}
	if req.Force {
		return nil, document.Persistence("force write", err)
	}
	cur, gerr := m.Get(ctx, req.DocumentID)
	if gerr != nil {
		return nil, gerr
	}
	return nil, conflictFrom(cur, req.ExpectedVersion)
}

func (m *MongoStore) writeOnce(ctx context.Context, req document.WriteRequest, now time.Time) (*document.WriteResult, error) {
	sess, err := m.client.StartSession()
	if err != nil {
		return nil, document.Persistence("start session", err)
	}
	defer sess.EndSession(ctx)

	out, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		var cur document.Document
		if err := m.docs.FindOne(sc, bson.M{"_id": req.DocumentID}).Decode(&cur); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		if !req.Force && cur.Version != req.ExpectedVersion {
			return nil, conflictFrom(&cur, req.ExpectedVersion)
		}

		rev := document.Revision{
			ID:         uuid.NewString(),
			DocumentID: cur.ID,
			Version:    cur.Version,
			Content:    cur.Content,
			CreatedAt:  now,
			CreatedBy:  req.Editor(),
		}
		if m.blobs != nil && len(cur.Content) > m.inlineLimit {
			// keyed by version, so a retried transaction rewrites the same object
			key := revisionKey(cur.ID, cur.Version)
			if err := m.blobs.PutText(sc, key, cur.Content); err != nil {
				return nil, fmt.Errorf("offload revision content: %w", err)
			}
			rev.Content = ""
			rev.ContentKey = key
		}
		if _, err := m.revisions.InsertOne(sc, rev); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, errLostRace
			}
			return nil, err
		}

		set := bson.M{"content": req.Content, "updatedAt": now, "updatedBy": req.Editor()}
		upd, err := m.docs.UpdateOne(sc,
			bson.M{"_id": cur.ID, "version": cur.Version},
			bson.M{"$set": set, "$inc": bson.M{"version": 1}},
		)
		if err != nil {
			return nil, err
		}
		if upd.MatchedCount == 0 {
			return nil, errLostRace
		}
		return &document.WriteResult{DocumentID: cur.ID, Version: cur.Version + 1, PreviousVersion: cur.Version, UpdatedAt: now}, nil
	})
	if err != nil {
		if errors.Is(err, errLostRace) {
			return nil, errLostRace
		}
		return nil, document.Persistence("write document", err)
	}
	return out.(*document.WriteResult), nil
}

func (m *MongoStore) loadContent(ctx context.Context, r *document.Revision) error {
	if r.ContentKey == "" {
		return nil
	}
	if m.blobs == nil {
		return document.Persistence("load revision", fmt.Errorf("revision %s/%d stored in blob storage but no blob store configured", r.DocumentID, r.Version))
	}
	content, err := m.blobs.GetText(ctx, r.ContentKey)
	if err != nil {
		return document.Persistence("load revision", err)
	}
	r.Content = content
	return nil
}

func (m *MongoStore) ListRevisions(ctx context.Context, documentID string) ([]*document.Revision, error) {
	if _, err := m.Get(ctx, documentID); err != nil {
		return nil, err
	}
	cur, err := m.revisions.Find(ctx, bson.M{"documentId": documentID}, options.Find().SetSort(bson.D{{Key: "version", Value: -1}}))
	if err != nil {
		return nil, document.Persistence("list revisions", err)
	}
	defer cur.Close(ctx)
	out := []*document.Revision{}
	for cur.Next(ctx) {
		var r document.Revision
		if err := cur.Decode(&r); err != nil {
			return nil, document.Persistence("decode revision", err)
		}
		if err := m.loadContent(ctx, &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, document.Persistence("list revisions", cur.Err())
}

func (m *MongoStore) GetRevision(ctx context.Context, documentID string, version int) (*document.Revision, error) {
	var r document.Revision
	err := m.revisions.FindOne(ctx, bson.M{"documentId": documentID, "version": version}).Decode(&r)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, document.Persistence("read revision", err)
	}
	if err := m.loadContent(ctx, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (m *MongoStore) DeleteByVideo(ctx context.Context, videoID string) (int, error) {
	docs, err := m.ListByVideo(ctx, videoID)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}

	sess, err := m.client.StartSession()
	if err != nil {
		return 0, document.Persistence("start session", err)
	}
	defer sess.EndSession(ctx)
	out, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := m.revisions.DeleteMany(sc, bson.M{"documentId": bson.M{"$in": ids}}); err != nil {
			return nil, err
		}
		res, err := m.docs.DeleteMany(sc, bson.M{"_id": bson.M{"$in": ids}})
		if err != nil {
			return nil, err
		}
		return int(res.DeletedCount), nil
	})
	if err != nil {
		return 0, document.Persistence("delete documents", err)
	}
	if m.blobs != nil {
		for _, id := range ids {
			if err := m.blobs.RemovePrefix(ctx, revisionPrefix(id)); err != nil {
				m.logger.Warn("failed to remove revision blobs", zap.String("documentID", id), zap.Error(err))
			}
		}
	}
	return out.(int), nil
}
