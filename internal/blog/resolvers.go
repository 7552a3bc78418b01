package blog

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	executor "github.com/hanpama/nestgraph/internal/executor"
	nestedfilter "github.com/hanpama/nestgraph/internal/nestedfilter"
	store "github.com/hanpama/nestgraph/internal/store"
)

type resolvers struct {
	store *store.Store
}

func (r *resolvers) register(rt *executor.FuncRuntime) {
	rt.SetResolver("Query", "posts", r.list(TypePost, nestedfilter.Mapping{}, &notDeleted))
	rt.SetResolver("Query", "post", r.post)
	rt.SetResolver("Query", "authors", r.list(TypeAuthor, nestedfilter.Mapping{}, &notDeleted))
	rt.SetResolver("Post", "author", r.related(TypeAuthor, "authorId"))
	rt.SetResolver("Post", "commentList", r.list(TypeComment, nestedfilter.Mapping{}, &notDeleted))
	rt.SetResolver("Author", "postList", r.list(TypePost, authorPostMapping, &notDeleted))
	rt.SetResolver("Author", "commentList", r.list(TypeComment, authorCommentMapping, &notDeleted))
	rt.SetResolver("Comment", "post", r.related(TypePost, "postId"))
	rt.SetResolver("Comment", "author", r.related(TypeAuthor, "authorId"))
	rt.SetResolver("Mutation", "post", r.post)
	rt.SetResolver("PostMutation", "addComment", r.addComment)
	rt.SetResolver("PostMutation", "rename", r.rename)
	rt.SetFallback(executor.PropertyResolver)
}

// list composes the nested filter of t for the call and loads the matching
// rows. where is resolved for t itself and applies at every depth.
func (r *resolvers) list(t nestedfilter.Type, mapping nestedfilter.Mapping, where *nestedfilter.Value) executor.ResolverFunc {
	return func(ctx context.Context, source any, args map[string]any) (any, error) {
		cond, err := nestedfilter.WithNestedFilters(ctx, nestedfilter.ComposeOptions{
			Type:    t,
			Mapping: mapping,
			Where:   where,
		})
		if err != nil {
			return nil, err
		}
		return r.store.FindMany(ctx, string(t), cond)
	}
}

// related returns the ancestor of type t, loading it by the foreign key held
// in attr when no ancestor is known.
func (r *resolvers) related(t nestedfilter.Type, attr string) executor.ResolverFunc {
	return func(ctx context.Context, source any, args map[string]any) (any, error) {
		id := executor.Property(source, attr)
		if id == nil {
			return nil, nil
		}
		return nestedfilter.GetNestedResult(ctx, nestedfilter.GetOptions{
			Type:     t,
			CacheKey: id,
			OnGet: func(ctx context.Context) (any, error) {
				return r.find(ctx, t, id)
			},
		})
	}
}

func (r *resolvers) find(ctx context.Context, t nestedfilter.Type, id any) (any, error) {
	row, err := r.store.FindUnique(ctx, string(t), id)
	if err != nil || row == nil {
		return nil, err
	}
	return row, nil
}

func (r *resolvers) post(ctx context.Context, source any, args map[string]any) (any, error) {
	return r.find(ctx, TypePost, args["id"])
}

func (r *resolvers) addComment(ctx context.Context, source any, args map[string]any) (any, error) {
	post, err := nestedfilter.GetNestedResult(ctx, nestedfilter.GetOptions{Type: TypePost})
	if err != nil {
		return nil, err
	}
	authorID := args["authorId"]
	author, err := nestedfilter.GetNestedResult(ctx, nestedfilter.GetOptions{
		Type:     TypeAuthor,
		CacheKey: authorID,
		OnGet: func(ctx context.Context) (any, error) {
			return r.find(ctx, TypeAuthor, authorID)
		},
	})
	if err != nil {
		return nil, err
	}
	if author == nil {
		return nil, fmt.Errorf("author (%v) not found", authorID)
	}

	comment, err := r.store.Create(ctx, string(TypeComment), store.Row{
		"id":       uuid.NewString(),
		"text":     args["text"],
		"postId":   executor.Property(post, "id"),
		"authorId": authorID,
	})
	if err != nil {
		return nil, err
	}
	if err := nestedfilter.AddNestedResult(ctx, TypeAuthor, author, nestedfilter.Children); err != nil {
		return nil, err
	}
	return comment, nil
}

func (r *resolvers) rename(ctx context.Context, source any, args map[string]any) (any, error) {
	post, err := nestedfilter.GetNestedResult(ctx, nestedfilter.GetOptions{Type: TypePost})
	if err != nil {
		return nil, err
	}
	id := executor.Property(post, "id")
	updated, err := r.store.Update(ctx, string(TypePost), id, store.Row{"title": args["title"]})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("post (%v) not found", id)
	}
	if err := nestedfilter.ReplaceNestedResult(ctx, TypePost, updated); err != nil {
		return nil, err
	}
	return updated, nil
}
