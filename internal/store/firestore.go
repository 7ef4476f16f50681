package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alphatech-ng/alphatech-site/internal/domain"
)

const profilesCollection = "users"

// FirestoreProfiles implements ProfileStore on a Firestore "users" collection,
// one document per identity ID.
type FirestoreProfiles struct {
	client *firestore.Client
}

// NewFirestoreProfiles creates a Firestore-backed profile store.
func NewFirestoreProfiles(ctx context.Context, projectID string) (*FirestoreProfiles, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore profile store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &FirestoreProfiles{client: client}, nil
}

// profileDoc mirrors the document layout written by the registration form.
type profileDoc struct {
	Name      string `firestore:"name"`
	Email     string `firestore:"email"`
	CreatedAt string `firestore:"createdAt"`
	UserID    string `firestore:"userId"`
}

func toProfileDoc(p *domain.Profile) profileDoc {
	return profileDoc{
		Name:      p.Name,
		Email:     p.Email,
		CreatedAt: p.CreatedAt,
		UserID:    p.UserID,
	}
}

func fromProfileDoc(id string, d profileDoc) *domain.Profile {
	userID := d.UserID
	if userID == "" {
		userID = id
	}
	return &domain.Profile{
		UserID:    userID,
		Name:      d.Name,
		Email:     d.Email,
		CreatedAt: d.CreatedAt,
	}
}

func (s *FirestoreProfiles) users() *firestore.CollectionRef {
	return s.client.Collection(profilesCollection)
}

// WriteProfile creates or replaces the profile document.
func (s *FirestoreProfiles) WriteProfile(ctx context.Context, profile *domain.Profile) error {
	if _, err := s.users().Doc(profile.UserID).Set(ctx, toProfileDoc(profile)); err != nil {
		return fmt.Errorf("firestore set profile: %w", err)
	}
	return nil
}

// ReadProfile returns the profile document, or nil when it does not exist.
func (s *FirestoreProfiles) ReadProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	snap, err := s.users().Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("firestore get profile: %w", err)
	}

	var d profileDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return fromProfileDoc(snap.Ref.ID, d), nil
}

// ListAllProfiles returns every profile ordered by creation time.
func (s *FirestoreProfiles) ListAllProfiles(ctx context.Context) ([]*domain.Profile, error) {
	iter := s.users().OrderBy("createdAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var profiles []*domain.Profile
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore list profiles: %w", err)
		}

		var d profileDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, fmt.Errorf("decode profile %s: %w", snap.Ref.ID, err)
		}
		profiles = append(profiles, fromProfileDoc(snap.Ref.ID, d))
	}
	return profiles, nil
}

// CountProfiles returns the number of profile documents.
func (s *FirestoreProfiles) CountProfiles(ctx context.Context) (int, error) {
	res, err := s.users().NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("firestore count profiles: %w", err)
	}
	v, ok := res["total"]
	if !ok {
		return 0, fmt.Errorf("firestore count profiles: missing total")
	}
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case interface{ GetIntegerValue() int64 }:
		return int(n.GetIntegerValue()), nil
	default:
		return 0, fmt.Errorf("firestore count profiles: unexpected result %T", v)
	}
}

// Close releases the Firestore client.
func (s *FirestoreProfiles) Close() error {
	return s.client.Close()
}

var _ ProfileStore = (*FirestoreProfiles)(nil)
