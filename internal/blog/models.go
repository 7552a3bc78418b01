package blog

import (
	store "github.com/hanpama/nestgraph/internal/store"
)

// Models returns the store models backing the blog schema.
func Models() (store.Models, error) {
	return store.NewModels(
		&store.Model{
			Name:  "Author",
			Table: "author",
			Fields: []store.Field{
				{Name: "id", Column: "id"},
				{Name: "firstName", Column: "first_name"},
				{Name: "lastName", Column: "last_name"},
				{Name: "deleted", Column: "deleted"},
			},
			Relations: map[string]store.Relation{
				"postList":    {Model: "Post", Many: true, Local: "id", Remote: "author_id"},
				"commentList": {Model: "Comment", Many: true, Local: "id", Remote: "author_id"},
			},
		},
		&store.Model{
			Name:  "Post",
			Table: "post",
			Fields: []store.Field{
				{Name: "id", Column: "id"},
				{Name: "title", Column: "title"},
				{Name: "deleted", Column: "deleted"},
				{Name: "authorId", Column: "author_id"},
			},
			Relations: map[string]store.Relation{
				"author":      {Model: "Author", Local: "author_id", Remote: "id"},
				"commentList": {Model: "Comment", Many: true, Local: "id", Remote: "post_id"},
			},
		},
		&store.Model{
			Name:  "Comment",
			Table: "comment",
			Fields: []store.Field{
				{Name: "id", Column: "id"},
				{Name: "text", Column: "text"},
				{Name: "deleted", Column: "deleted"},
				{Name: "postId", Column: "post_id"},
				{Name: "authorId", Column: "author_id"},
			},
			Relations: map[string]store.Relation{
				"post":   {Model: "Post", Local: "post_id", Remote: "id"},
				"author": {Model: "Author", Local: "author_id", Remote: "id"},
			},
		},
	)
}

type seedRow struct {
	model string
	row   store.Row
}

var seedRows = []seedRow{
	{"Author", store.Row{"id": "a1", "firstName": "John", "lastName": "Smith"}},
	{"Author", store.Row{"id": "a2", "firstName": "Jane", "lastName": "Doe"}},
	{"Author", store.Row{"id": "a3", "firstName": "Old", "lastName": "Timer", "deleted": true}},
	{"Post", store.Row{"id": "p1", "title": "Nested filters", "authorId": "a1"}},
	{"Post", store.Row{"id": "p2", "title": "Resolver trees", "authorId": "a2"}},
	{"Post", store.Row{"id": "p3", "title": "Draft", "authorId": "a1", "deleted": true}},
	{"Comment", store.Row{"id": "c1", "text": "Thanks", "postId": "p1", "authorId": "a1"}},
	{"Comment", store.Row{"id": "c2", "text": "Nice", "postId": "p1", "authorId": "a2"}},
	{"Comment", store.Row{"id": "c3", "text": "Follow-up", "postId": "p1", "authorId": "a1"}},
	{"Comment", store.Row{"id": "c4", "text": "Question", "postId": "p2", "authorId": "a1"}},
	{"Comment", store.Row{"id": "c5", "text": "Answer", "postId": "p2", "authorId": "a2"}},
	{"Comment", store.Row{"id": "c6", "text": "Spam", "postId": "p2", "authorId": "a2", "deleted": true}},
	{"Comment", store.Row{"id": "c7", "text": "Archived", "postId": "p2", "authorId": "a3"}},
}
