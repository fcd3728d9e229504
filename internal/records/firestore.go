package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"

	"vidpipe/internal/video"
)

type firestoreStore struct {
	client     *firestore.Client
	collection *firestore.CollectionRef
}

// OpenFirestore returns a store backed by a Firestore collection of app's project.
func OpenFirestore(ctx context.Context, app *firebase.App, collection string) (Store, error) {
	if app == nil {
		return nil, errors.New("firestore backend needs a firebase app")
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &firestoreStore{client: client, collection: client.Collection(collection)}, nil
}

type firestoreVideo struct {
	Status          string    `firestore:"status"`
	ModerationScore *float64  `firestore:"moderationScore,omitempty"`
	HLSURL          string    `firestore:"hlsUrl,omitempty"`
	Qualities       []string  `firestore:"qualities,omitempty"`
	Error           string    `firestore:"error,omitempty"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

func (f *firestoreStore) Create(ctx context.Context, id string) (*video.Record, error) {
	if err := video.ValidateID(id); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	doc := firestoreVideo{Status: string(video.StatusUploading), CreatedAt: now, UpdatedAt: now}
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := f.collection.Doc(id)
		snap, err := tx.Get(ref)
		if snap != nil && snap.Exists() {
			return fmt.Errorf("%w: %s", ErrExists, id)
		}
		if snap == nil {
			return err
		}
		return tx.Create(ref, doc)
	})
	if err != nil {
		if errors.Is(err, ErrExists) {
			return nil, err
		}
		return nil, fmt.Errorf("create video: %w", err)
	}
	rec := doc.record(id)
	return &rec, nil
}

func (f *firestoreStore) Get(ctx context.Context, id string) (*video.Record, error) {
	snap, err := f.collection.Doc(id).Get(ctx)
	if snap != nil && !snap.Exists() {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	return decodeSnapshot(snap)
}

func (f *firestoreStore) Apply(ctx context.Context, id string, p video.Patch) (*video.Record, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ref := f.collection.Doc(id)
	var current video.Status
	var applied bool
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false
		snap, err := tx.Get(ref)
		if snap != nil && !snap.Exists() {
			return notFound(id)
		}
		if err != nil {
			return err
		}
		rec, err := decodeSnapshot(snap)
		if err != nil {
			return err
		}
		current = rec.Status
		if !p.AllowsFrom(current) {
			return nil
		}
		updates := []firestore.Update{{Path: "updatedAt", Value: time.Now().UTC()}}
		for field, value := range p.Fields() {
			if value == nil {
				value = firestore.Delete
			}
			updates = append(updates, firestore.Update{Path: field, Value: value})
		}
		applied = true
		return tx.Update(ref, updates)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update video: %w", err)
	}
	rec, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		return rec, rejected(id, current, p)
	}
	return rec, nil
}

func (f *firestoreStore) List(ctx context.Context, limit int) ([]video.Record, error) {
	iter := f.collection.OrderBy("updatedAt", firestore.Desc).Limit(listLimit(limit)).Documents(ctx)
	defer iter.Stop()
	var out []video.Record
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list videos: %w", err)
		}
		rec, err := decodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (f *firestoreStore) Ping(ctx context.Context) error {
	iter := f.collection.Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

func (f *firestoreStore) Close() error {
	return f.client.Close()
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (*video.Record, error) {
	var doc firestoreVideo
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode video %s: %w", snap.Ref.ID, err)
	}
	rec := doc.record(snap.Ref.ID)
	return &rec, nil
}

func (doc firestoreVideo) record(id string) video.Record {
	status, _ := video.ParseStatus(doc.Status)
	return video.Record{
		ID:              id,
		Status:          status,
		ModerationScore: doc.ModerationScore,
		HLSURL:          doc.HLSURL,
		Qualities:       doc.Qualities,
		Error:           doc.Error,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
}
