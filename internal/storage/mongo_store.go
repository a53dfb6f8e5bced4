package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"soultalk/internal/config"
	"soultalk/internal/emotion"
	"soultalk/internal/models"
)

// MongoStore implements Store on two collections, sessions and messages.
type MongoStore struct {
	client   *mongo.Client
	sessions *mongo.Collection
	messages *mongo.Collection
	logger   *zap.Logger
}

// NewMongoStore connects and makes sure the indexes the store relies on exist.
func NewMongoStore(ctx context.Context, dbCfg config.DatabaseConfig, logger *zap.Logger) (*MongoStore, error) {
	uri := dbCfg.URI
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	dbName := dbCfg.DBName
	if dbName == "" {
		dbName = "soultalk"
	}

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(10).
		SetMinPoolSize(1).
		SetMaxConnIdleTime(30 * time.Minute).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(dbName)
	s := &MongoStore{
		client:   client,
		sessions: db.Collection("sessions"),
		messages: db.Collection("messages"),
		logger:   logger,
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	logger.Info("connected to mongo", zap.String("database", dbName))
	return s, nil
}

// ensureIndexes runs synchronously: the unique (sessionId, seq) index is what
// keeps concurrent appends from sharing a slot.
func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sessionId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "email", Value: 1}, {Key: "createdAt", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create session indexes: %w", err)
	}
	_, err = s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sessionId", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session id is required")
	}
	doc := *session
	doc.CreatedAt = doc.CreatedAt.UTC()
	if _, err := s.sessions.InsertOne(ctx, doc); err != nil {
		s.logger.Error("create session failed", zap.Error(err), zap.String("session_id", session.ID))
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *MongoStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := s.sessions.FindOne(ctx, bson.M{"sessionId": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	session.CreatedAt = session.CreatedAt.UTC()
	return &session, nil
}

func (s *MongoStore) ListSessions(ctx context.Context, email string) ([]models.Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "sessionId", Value: -1}})
	cursor, err := s.sessions.Find(ctx, bson.M{"email": email}, opts)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer cursor.Close(ctx)

	sessions := make([]models.Session, 0)
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	for i := range sessions {
		sessions[i].CreatedAt = sessions[i].CreatedAt.UTC()
	}
	return sessions, nil
}

func (s *MongoStore) PinEmotion(ctx context.Context, id string, label emotion.Label) (emotion.Label, bool, error) {
	// emotion: nil matches both null and a missing field
	filter := bson.M{"sessionId": id, "emotion": nil}
	update := bson.M{"$set": bson.M{"emotion": string(label), "title": string(label)}}
	res, err := s.sessions.UpdateOne(ctx, filter, update)
	if err != nil {
		return "", false, fmt.Errorf("pin emotion: %w", err)
	}
	if res.MatchedCount == 1 {
		return label, true, nil
	}

	session, err := s.GetSession(ctx, id)
	if err != nil {
		return "", false, err
	}
	current, ok := session.Pinned()
	if !ok {
		return "", false, fmt.Errorf("pin emotion: session %s left unpinned", id)
	}
	return current, false, nil
}

func (s *MongoStore) LastMessage(ctx context.Context, sessionID string) (int64, time.Time, error) {
	var last models.Message
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})
	err := s.messages.FindOne(ctx, bson.M{"sessionId": sessionID}, opts).Decode(&last)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("last message: %w", err)
	}
	return last.Seq, last.Timestamp.UTC(), nil
}

func (s *MongoStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	n, err := s.sessions.CountDocuments(ctx, bson.M{"sessionId": msg.SessionID})
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	doc := *msg
	doc.Timestamp = doc.Timestamp.UTC()
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *MongoStore) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cursor, err := s.messages.Find(ctx, bson.M{"sessionId": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer cursor.Close(ctx)

	messages := make([]models.Message, 0)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	for i := range messages {
		messages[i].Timestamp = messages[i].Timestamp.UTC()
	}
	return messages, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		s.logger.Error("disconnect mongo failed", zap.Error(err))
		return err
	}
	return nil
}
