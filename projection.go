package feedcache

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// projector joins raw rows with derived counts and viewer state.
type projector struct {
	backend     Backend
	viewerID    string
	concurrency int
	logger      *zap.Logger
}

// project builds one Post per row. Aggregate and viewer-state lookups for all
// rows run concurrently. A failed lookup leaves that field at its zero value;
// only cancellation of ctx fails the whole page.
func (p projector) project(ctx context.Context, rows []Row) ([]Post, error) {
	posts := make([]Post, len(rows))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.concurrency)

	for i, row := range rows {
		row := row
		posts[i] = postFromRow(row)
		post := &posts[i]

		for _, kind := range []AggregateKind{AggregateLikes, AggregateComments} {
			kind := kind
			group.Go(func() error {
				count, err := p.backend.FetchAggregate(groupCtx, row.ID, kind)
				if err != nil {
					return p.degrade(groupCtx, row.ID, string(kind), err)
				}
				post.setAggregate(kind, count)
				return nil
			})
		}
		if p.viewerID == "" {
			continue
		}
		group.Go(func() error {
			state, err := p.backend.FetchViewerState(groupCtx, row.ID, p.viewerID)
			if err != nil {
				return p.degrade(groupCtx, row.ID, "viewer_state", err)
			}
			post.setViewerState(state)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return posts, nil
}

func (p projector) degrade(ctx context.Context, postID, field string, err error) error {
	if ctx.Err() != nil {
		return err
	}
	p.logger.Warn("projection lookup failed, using default",
		zap.String("post", postID),
		zap.String("field", field),
		zap.Error(err),
	)
	return nil
}
