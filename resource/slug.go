package resource

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/poiesic/kbingest/storage"
)

const maxSlugAttempts = 16

// UniqueSlug returns slug if it is free or already points at rid, otherwise
// slug with a random suffix that is free.
func UniqueSlug(ctx context.Context, txn storage.Txn, kbid, rid, slug string) (string, error) {
	candidate := slug
	for range maxSlugAttempts {
		owner, err := txn.Get(ctx, storage.ResourceSlugKey(kbid, candidate))
		if errors.Is(err, storage.ErrNotFound) || (err == nil && string(owner) == rid) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = slug + "-" + uuid.NewString()[:8]
	}
	return "", ErrSlugExhausted
}
