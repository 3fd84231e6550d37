package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/internal/repository"
	"github.com/utafrali/authservice/pkg/database"
)

// CollectionName is the collection user documents live in.
const CollectionName = "users"

// userDocument is the stored shape of a user.
type userDocument struct {
	ID            bson.ObjectID `bson:"_id,omitempty"`
	Username      string        `bson:"username"`
	Email         string        `bson:"email"`
	Password      string        `bson:"password"`
	FederatedID   string        `bson:"federatedId,omitempty"`
	AuthProvider  string        `bson:"authProvider"`
	RefreshTokens []string      `bson:"refreshTokens"`
	Role          string        `bson:"role"`
	LastLogin     *time.Time    `bson:"lastLogin,omitempty"`
	CreatedAt     time.Time     `bson:"createdAt"`
	UpdatedAt     time.Time     `bson:"updatedAt"`
}

// collection is the subset of *mongo.Collection the repository uses.
type collection interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongo.UpdateResult, error)
}

// UserRepository implements repository.UserRepository on MongoDB. Each
// session mutation is a single-document update, which MongoDB applies
// atomically.
type UserRepository struct {
	coll collection
	now  func() time.Time
}

// NewUserRepository creates a MongoDB-backed user repository.
func NewUserRepository(db *mongo.Database) *UserRepository {
	return newUserRepository(db.Collection(CollectionName))
}

func newUserRepository(coll collection) *UserRepository {
	return &UserRepository{coll: coll, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureIndexes creates the unique indexes backing username and email
// uniqueness, plus a sparse unique index on the federated identity.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(CollectionName).Indexes().CreateMany(ctx, indexModels())
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

func indexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetName("username_unique").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("email_unique").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "federatedId", Value: 1}},
			Options: options.Index().SetName("federated_id_unique").SetUnique(true).SetSparse(true),
		},
	}
}

// Create inserts a new user document.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemMongo, "CreateUser", "users.insertOne")
	defer func() { end(err) }()

	now := r.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	doc, err := toDocument(u)
	if err != nil {
		return err
	}
	if doc.ID.IsZero() {
		doc.ID = bson.NewObjectID()
	}

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}

	u.ID = doc.ID.Hex()
	return nil
}

// GetByID retrieves a user by their ObjectID hex string.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, repository.ErrNotFound
	}
	return r.findOne(ctx, "GetUserByID", "users.findOne({_id})", bson.D{{Key: "_id", Value: oid}})
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, "GetUserByEmail", "users.findOne({email})", bson.D{{Key: "email", Value: email}})
}

// FindByEmailOrUsername returns the user owning either the email or the username.
func (r *UserRepository) FindByEmailOrUsername(ctx context.Context, email, username string) (*domain.User, error) {
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "email", Value: email}},
		bson.D{{Key: "username", Value: username}},
	}}}
	return r.findOne(ctx, "FindUserByEmailOrUsername", "users.findOne({$or:[email,username]})", filter)
}

func (r *UserRepository) findOne(ctx context.Context, operation, statement string, filter bson.D) (_ *domain.User, err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemMongo, operation, statement)
	defer func() { end(err) }()

	var doc userDocument
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.toDomain(), nil
}

// Update writes the profile fields of an existing user.
func (r *UserRepository) Update(ctx context.Context, u *domain.User) error {
	oid, err := bson.ObjectIDFromHex(u.ID)
	if err != nil {
		return repository.ErrNotFound
	}
	u.UpdatedAt = r.now()
	return r.updateOne(ctx, "UpdateUser", bson.D{{Key: "_id", Value: oid}}, profileUpdate(u))
}

// AddSession pushes sessionID and stamps lastLogin in one update.
func (r *UserRepository) AddSession(ctx context.Context, userID, sessionID string, loginAt time.Time) error {
	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return repository.ErrNotFound
	}
	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: "refreshTokens", Value: sessionID}}},
		{Key: "$set", Value: bson.D{
			{Key: "lastLogin", Value: loginAt.UTC()},
			{Key: "updatedAt", Value: r.now()},
		}},
	}
	return r.updateOne(ctx, "AddSession", bson.D{{Key: "_id", Value: oid}}, update)
}

// RotateSession replaces oldID with newID. The filter only matches while
// oldID is still present, so of two concurrent rotations of the same id
// exactly one matches.
func (r *UserRepository) RotateSession(ctx context.Context, userID, oldID, newID string) error {
	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return repository.ErrSessionNotFound
	}
	filter := bson.D{{Key: "_id", Value: oid}, {Key: "refreshTokens", Value: oldID}}

	err = r.updateOne(ctx, "RotateSession", filter, rotatePipeline(oldID, newID, r.now()))
	if errors.Is(err, repository.ErrNotFound) {
		return repository.ErrSessionNotFound
	}
	return err
}

// RemoveSession pulls sessionID from the registry.
func (r *UserRepository) RemoveSession(ctx context.Context, userID, sessionID string) error {
	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return repository.ErrNotFound
	}
	update := bson.D{
		{Key: "$pull", Value: bson.D{{Key: "refreshTokens", Value: sessionID}}},
		{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: r.now()}}},
	}
	return r.updateOne(ctx, "RemoveSession", bson.D{{Key: "_id", Value: oid}}, update)
}

// ClearSessions empties the registry.
func (r *UserRepository) ClearSessions(ctx context.Context, userID string) error {
	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return repository.ErrNotFound
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "refreshTokens", Value: bson.A{}},
		{Key: "updatedAt", Value: r.now()},
	}}}
	return r.updateOne(ctx, "ClearSessions", bson.D{{Key: "_id", Value: oid}}, update)
}

func (r *UserRepository) updateOne(ctx context.Context, operation string, filter bson.D, update any) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemMongo, operation, "users.updateOne")
	defer func() { end(err) }()

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// profileUpdate sets every profile field. An empty federated id is unset
// rather than stored so the sparse unique index ignores the document.
func profileUpdate(u *domain.User) bson.D {
	set := bson.D{
		{Key: "username", Value: u.Username},
		{Key: "email", Value: u.Email},
		{Key: "password", Value: u.PasswordHash},
		{Key: "authProvider", Value: u.AuthProvider},
		{Key: "role", Value: u.Role},
		{Key: "updatedAt", Value: u.UpdatedAt},
	}
	if u.FederatedID == "" {
		return bson.D{
			{Key: "$set", Value: set},
			{Key: "$unset", Value: bson.D{{Key: "federatedId", Value: ""}}},
		}
	}
	set = append(set, bson.E{Key: "federatedId", Value: u.FederatedID})
	return bson.D{{Key: "$set", Value: set}}
}

// rotatePipeline removes oldID and appends newID. An update pipeline is
// required because $pull and $push cannot target the same field in one
// classic update.
func rotatePipeline(oldID, newID string, now time.Time) mongo.Pipeline {
	remaining := bson.D{{Key: "$filter", Value: bson.D{
		{Key: "input", Value: "$refreshTokens"},
		{Key: "cond", Value: bson.D{{Key: "$ne", Value: bson.A{"$$this", oldID}}}},
	}}}
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "refreshTokens", Value: bson.D{{Key: "$concatArrays", Value: bson.A{remaining, bson.A{newID}}}}},
			{Key: "updatedAt", Value: now},
		}}},
	}
}

func toDocument(u *domain.User) (*userDocument, error) {
	doc := &userDocument{
		Username:      u.Username,
		Email:         u.Email,
		Password:      u.PasswordHash,
		FederatedID:   u.FederatedID,
		AuthProvider:  u.AuthProvider,
		RefreshTokens: u.Sessions.IDs(),
		Role:          u.Role,
		LastLogin:     u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
	if u.ID != "" {
		oid, err := bson.ObjectIDFromHex(u.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", u.ID, err)
		}
		doc.ID = oid
	}
	return doc, nil
}

func (d *userDocument) toDomain() *domain.User {
	return &domain.User{
		ID:           d.ID.Hex(),
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.Password,
		FederatedID:  d.FederatedID,
		AuthProvider: d.AuthProvider,
		Sessions:     domain.NewSessionRegistry(d.RefreshTokens...),
		Role:         d.Role,
		LastLoginAt:  d.LastLogin,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}
