package blob

import (
	"context"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Delete hides the blob by removing its metadata first, then removes its
// chunks. Deleting an absent blob reports false and still sweeps chunks
// left behind by an interrupted upload.
func (u *UseCase) Delete(
	ctx context.Context,
	id model.ID,
) (bool, error) {
	existed, err := u.repo.DeleteBlobMeta(ctx, id)
	if err != nil {
		return false, goerr.Wrap(err, "failed to delete blob metadata", goerr.V("blob_id", id.String()))
	}

	n, err := u.chunks.DeleteChunks(ctx, id)
	if err != nil {
		return existed, goerr.Wrap(err, "failed to delete chunks", goerr.V("blob_id", id.String()))
	}

	if existed || n > 0 {
		logging.From(ctx).Info("blob deleted", "blob_id", id.String(), "chunks", n, "existed", existed)
	}
	return existed, nil
}
