package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"filevault/internal/domain/models"
	"filevault/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type Storage struct {
	client   *mongo.Client
	database *mongo.Database
	users    *mongo.Collection
	sessions *mongo.Collection
	counters *mongo.Collection
}

type userDoc struct {
	ID        int64     `bson:"_id"`
	Email     string    `bson:"email"`
	PassHash  []byte    `bson:"pass_hash"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type sessionDoc struct {
	ID           int64     `bson:"_id"`
	UserID       int64     `bson:"user_id"`
	RefreshToken string    `bson:"refresh_token"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

type counterDoc struct {
	ID    string `bson:"_id"`
	Value int64  `bson:"value"`
}

// New creates a new MongoDB storage instance and sets up indexes.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Storage{
		client:   client,
		database: db,
		users:    db.Collection("users"),
		sessions: db.Collection("sessions"),
		counters: db.Collection("counters"),
	}

	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

// EnsureIndexes creates the indexes the lookups rely on. It is idempotent.
func (s *Storage) EnsureIndexes(ctx context.Context) error {
	// users.email unique
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users.email index: %w", err)
	}

	_, err = s.sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "refresh_token", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("sessions indexes: %w", err)
	}

	return nil
}

// Close disconnects from MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// nextID atomically increments and returns the next ID for a given collection.
func (s *Storage) nextID(ctx context.Context, collectionName string) (int64, error) {
	filter := bson.D{{Key: "_id", Value: collectionName}}
	update := bson.D{{Key: "$inc", Value: bson.D{{Key: "value", Value: int64(1)}}}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var counter counterDoc
	err := s.counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Value, nil
}

// SaveUser saves a new user and returns the generated user ID.
func (s *Storage) SaveUser(ctx context.Context, email string, passHash []byte) (int64, error) {
	const op = "storage.mongodb.SaveUser"

	id, err := s.nextID(ctx, "users")
	if err != nil {
		return 0, fmt.Errorf("%s: nextID: %w", op, err)
	}

	now := time.Now().UTC()
	doc := userDoc{
		ID:        id,
		Email:     email,
		PassHash:  passHash,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.users.InsertOne(ctx, doc)
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

// User retrieves a user by email.
func (s *Storage) User(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.mongodb.User"

	var doc userDoc
	err := s.users.FindOne(ctx, bson.D{{Key: "email", Value: email}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return doc.toModel(), nil
}

// Users lists every user ordered by ID, without password hashes.
func (s *Storage) Users(ctx context.Context) ([]models.User, error) {
	const op = "storage.mongodb.Users"

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetProjection(bson.D{{Key: "pass_hash", Value: 0}})

	cur, err := s.users.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	users := make([]models.User, 0, len(docs))
	for i := range docs {
		users = append(users, *docs[i].toModel())
	}
	return users, nil
}

// SaveSession inserts a new session row for the user.
func (s *Storage) SaveSession(ctx context.Context, userID int64, refreshToken string) (*models.Session, error) {
	const op = "storage.mongodb.SaveSession"

	id, err := s.nextID(ctx, "sessions")
	if err != nil {
		return nil, fmt.Errorf("%s: nextID: %w", op, err)
	}

	now := time.Now().UTC()
	doc := sessionDoc{
		ID:           id,
		UserID:       userID,
		RefreshToken: refreshToken,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := s.sessions.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.withUser(ctx, op, doc)
}

// UpdateSession replaces the refresh token of a session; the last write wins.
func (s *Storage) UpdateSession(ctx context.Context, id int64, refreshToken string) (*models.Session, error) {
	const op = "storage.mongodb.UpdateSession"

	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "refresh_token", Value: refreshToken},
		{Key: "updated_at", Value: time.Now().UTC()},
	}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc sessionDoc
	err := s.sessions.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: id}}, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.withUser(ctx, op, doc)
}

// DeleteSession removes a session. Deleting a missing session is not an error.
func (s *Storage) DeleteSession(ctx context.Context, id int64) error {
	const op = "storage.mongodb.DeleteSession"

	if _, err := s.sessions.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SessionByUser returns the oldest session of the user.
func (s *Storage) SessionByUser(ctx context.Context, userID int64) (*models.Session, error) {
	return s.findSession(ctx, "storage.mongodb.SessionByUser", bson.D{{Key: "user_id", Value: userID}})
}

func (s *Storage) SessionByIDAndToken(ctx context.Context, id int64, refreshToken string) (*models.Session, error) {
	return s.findSession(ctx, "storage.mongodb.SessionByIDAndToken", bson.D{
		{Key: "_id", Value: id},
		{Key: "refresh_token", Value: refreshToken},
	})
}

func (s *Storage) SessionByToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	return s.findSession(ctx, "storage.mongodb.SessionByToken", bson.D{{Key: "refresh_token", Value: refreshToken}})
}

func (s *Storage) findSession(ctx context.Context, op string, filter bson.D) (*models.Session, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})

	var doc sessionDoc
	err := s.sessions.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.withUser(ctx, op, doc)
}

// withUser fills the session's user reference from the users collection.
func (s *Storage) withUser(ctx context.Context, op string, doc sessionDoc) (*models.Session, error) {
	var user userDoc
	err := s.users.FindOne(ctx, bson.D{{Key: "_id", Value: doc.UserID}}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.Session{
		ID:           doc.ID,
		RefreshToken: doc.RefreshToken,
		User: models.User{
			ID:    user.ID,
			Email: user.Email,
		},
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (d *userDoc) toModel() *models.User {
	return &models.User{
		ID:        d.ID,
		Email:     d.Email,
		PassHash:  d.PassHash,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// isDuplicateKeyError checks if the error is a MongoDB duplicate key error (code 11000).
func isDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return false
}
