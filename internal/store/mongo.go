package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"parlor/pkg/interfaces"
	"parlor/pkg/types"
)

var openStatuses = []string{types.StatusWaiting, types.StatusActive}

// MongoStore is the document-database backend. Compare-and-set is a
// ReplaceOne filtered on (_id, version); join-code uniqueness rides a
// partial unique index over non-terminal sessions.
type MongoStore struct {
	client   *mongo.Client
	sessions *mongo.Collection
}

// sessionDoc mirrors types.Session with bson tags.
type sessionDoc struct {
	ID              string           `bson:"_id"`
	JoinCode        string           `bson:"join_code"`
	HostUserID      string           `bson:"host_user_id"`
	Name            string           `bson:"name"`
	Description     string           `bson:"description"`
	MaxParticipants int              `bson:"max_participants"`
	DurationMinutes int              `bson:"duration_minutes"`
	Status          string           `bson:"status"`
	Participants    []participantDoc `bson:"participants"`
	CreatedAt       time.Time        `bson:"created_at"`
	ExpiresAt       time.Time        `bson:"expires_at"`
	Version         int64            `bson:"version"`
}

type participantDoc struct {
	UserID          string    `bson:"user_id"`
	Role            string    `bson:"role"`
	ConnectionState string    `bson:"connection_state"`
	JoinedAt        time.Time `bson:"joined_at"`
}

func toDoc(s *types.Session) *sessionDoc {
	doc := &sessionDoc{
		ID:              s.ID,
		JoinCode:        s.JoinCode,
		HostUserID:      s.HostUserID,
		Name:            s.Name,
		Description:     s.Description,
		MaxParticipants: s.MaxParticipants,
		DurationMinutes: s.DurationMinutes,
		Status:          s.Status,
		CreatedAt:       s.CreatedAt,
		ExpiresAt:       s.ExpiresAt,
		Version:         s.Version,
	}
	doc.Participants = make([]participantDoc, len(s.Participants))
	for i, p := range s.Participants {
		doc.Participants[i] = participantDoc{
			UserID:          p.UserID,
			Role:            p.Role,
			ConnectionState: p.ConnectionState,
			JoinedAt:        p.JoinedAt,
		}
	}
	return doc
}

func fromDoc(doc *sessionDoc) *types.Session {
	s := &types.Session{
		ID:              doc.ID,
		JoinCode:        doc.JoinCode,
		HostUserID:      doc.HostUserID,
		Name:            doc.Name,
		Description:     doc.Description,
		MaxParticipants: doc.MaxParticipants,
		DurationMinutes: doc.DurationMinutes,
		Status:          doc.Status,
		CreatedAt:       doc.CreatedAt,
		ExpiresAt:       doc.ExpiresAt,
		Version:         doc.Version,
	}
	s.Participants = make([]*types.Participant, len(doc.Participants))
	for i, p := range doc.Participants {
		s.Participants[i] = &types.Participant{
			UserID:          p.UserID,
			Role:            p.Role,
			ConnectionState: p.ConnectionState,
			JoinedAt:        p.JoinedAt,
		}
	}
	return s
}

// NewMongoStore connects to uri and prepares the sessions collection.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb ping failed: %w", err)
	}

	sessions := client.Database(database).Collection("sessions")

	// Join codes are unique only among non-terminal sessions; terminal
	// transitions drop out of the partial index and free the code.
	_, err = sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "join_code", Value: 1}},
		Options: options.Index().
			SetName("open_join_code").
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"status": bson.M{"$in": openStatuses}}),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create join code index: %w", err)
	}

	return &MongoStore{client: client, sessions: sessions}, nil
}

// GetByID returns the session, or ErrSessionNotFound.
func (s *MongoStore) GetByID(ctx context.Context, sessionID string) (*types.Session, error) {
	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromDoc(&doc), nil
}

// GetByJoinCode resolves a code among non-terminal sessions only.
func (s *MongoStore) GetByJoinCode(ctx context.Context, joinCode string) (*types.Session, error) {
	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.M{
		"join_code": joinCode,
		"status":    bson.M{"$in": openStatuses},
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromDoc(&doc), nil
}

// Put inserts at version 0 and otherwise replaces filtered on the
// version the caller read, which is the compare-and-set.
func (s *MongoStore) Put(ctx context.Context, session *types.Session) (*types.Session, error) {
	committed := session.Clone()
	committed.Version = session.Version + 1
	doc := toDoc(committed)

	if session.Version == 0 {
		if _, err := s.sessions.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				if strings.Contains(err.Error(), "open_join_code") {
					return nil, interfaces.ErrJoinCodeInUse
				}
				return nil, interfaces.ErrVersionConflict
			}
			return nil, err
		}
		return committed, nil
	}

	res, err := s.sessions.ReplaceOne(ctx,
		bson.M{"_id": session.ID, "version": session.Version}, doc)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		count, err := s.sessions.CountDocuments(ctx, bson.M{"_id": session.ID})
		if err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, interfaces.ErrVersionConflict
	}
	return committed, nil
}

// ListByParticipant returns the user's non-terminal sessions, newest
// first.
func (s *MongoStore) ListByParticipant(ctx context.Context, userID string) ([]*types.Session, error) {
	return s.find(ctx, bson.M{
		"participants.user_id": userID,
		"status":               bson.M{"$in": openStatuses},
	})
}

// ListOpen returns every non-terminal session, newest first.
func (s *MongoStore) ListOpen(ctx context.Context) ([]*types.Session, error) {
	return s.find(ctx, bson.M{"status": bson.M{"$in": openStatuses}})
}

func (s *MongoStore) find(ctx context.Context, filter bson.M) ([]*types.Session, error) {
	cursor, err := s.sessions.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var result []*types.Session
	for cursor.Next(ctx) {
		var doc sessionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		result = append(result, fromDoc(&doc))
	}
	return result, cursor.Err()
}

// Delete removes the session document.
func (s *MongoStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.sessions.DeleteOne(ctx, bson.M{"_id": sessionID})
	return err
}

// HealthCheck pings the server.
func (s *MongoStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
