package jobs

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCollection 默认集合名
const DefaultCollection = "translationJobs"

// FirestoreStore Firestore 存储，更新在事务中执行
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	owned      bool
}

var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore 创建 Firestore 客户端与存储
func NewFirestoreStore(ctx context.Context, projectID, collection string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	s := NewFirestoreStoreWithClient(client, collection)
	s.owned = true
	return s, nil
}

// NewFirestoreStoreWithClient 使用已有客户端
func NewFirestoreStoreWithClient(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &FirestoreStore{client: client, collection: collection}
}

// Close 关闭自建的客户端
func (s *FirestoreStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

func (s *FirestoreStore) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

// Create 创建记录
func (s *FirestoreStore) Create(ctx context.Context, job *Job) error {
	if _, err := s.doc(job.ID).Create(ctx, job); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("%w: %s", ErrExists, job.ID)
		}
		return fmt.Errorf("failed to create job document: %w", err)
	}
	return nil
}

// Get 获取记录
func (s *FirestoreStore) Get(ctx context.Context, id string) (*Job, error) {
	snap, err := s.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job document: %w", err)
	}
	return decode(snap)
}

// Update 在事务中读改写
func (s *FirestoreStore) Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	ref := s.doc(id)
	var updated *Job

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}

		job, err := decode(snap)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		updated = job
		return tx.Set(ref, job)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete 删除记录
func (s *FirestoreStore) Delete(ctx context.Context, id string) error {
	if _, err := s.doc(id).Delete(ctx, firestore.Exists); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to delete job document: %w", err)
	}
	return nil
}

// List 查询记录，排序在内存中完成以避免复合索引
func (s *FirestoreStore) List(ctx context.Context, filter Filter) ([]*Job, error) {
	query := s.client.Collection(s.collection).Query
	if filter.OwnerID != "" {
		query = query.Where("ownerId", "==", filter.OwnerID)
	}
	if len(filter.Statuses) > 0 {
		values := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			values[i] = string(st)
		}
		query = query.Where("status", "in", values)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []*Job
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list job documents: %w", err)
		}
		job, err := decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return filter.apply(out), nil
}

func decode(snap *firestore.DocumentSnapshot) (*Job, error) {
	var job Job
	if err := snap.DataTo(&job); err != nil {
		return nil, fmt.Errorf("failed to decode job document %s: %w", snap.Ref.ID, err)
	}
	return &job, nil
}
