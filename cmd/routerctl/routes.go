package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/ryihan/dataroute/pkg/router"
)

// sampleRoutes builds a small, self-contained route tree exercising a
// layout loader, an index route, a dynamic segment with a loader and
// action, an exception boundary, and a submission target — enough surface
// for routerctl's HTTP API to demonstrate every cycle the router supports.
func sampleRoutes() []router.Route {
	posts := newPostStore()

	return []router.Route{
		{
			ID:                "root",
			Path:              "",
			ExceptionBoundary: true,
			Loader: func(ctx context.Context, req *router.Request) (any, error) {
				return map[string]any{"nav": []string{"/", "/posts"}}, nil
			},
			Children: []router.Route{
				{
					ID:    "home",
					Path:  "",
					Index: true,
					Loader: func(ctx context.Context, req *router.Request) (any, error) {
						return map[string]any{"message": "welcome"}, nil
					},
				},
				{
					ID:   "posts",
					Path: "posts",
					Loader: func(ctx context.Context, req *router.Request) (any, error) {
						return posts.list(), nil
					},
					Children: []router.Route{
						{
							ID:   "postDetail",
							Path: ":id",
							Loader: func(ctx context.Context, req *router.Request) (any, error) {
								post, ok := posts.get(req.Params["id"])
								if !ok {
									return nil, &router.Response{
										StatusCode: 404, StatusText: "Not Found",
										Data: fmt.Sprintf("no post %q", req.Params["id"]),
									}
								}
								return post, nil
							},
							Action: func(ctx context.Context, req *router.Request) (any, error) {
								title := req.FormData.Get("title")
								if title == "" {
									return nil, &router.Response{
										StatusCode: 400, StatusText: "Bad Request",
										Data: "title is required",
									}
								}
								return posts.update(req.Params["id"], title)
							},
						},
					},
				},
			},
		},
	}
}

type post struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// postStore is an in-memory, concurrency-safe backing store for the sample
// route tree's loaders/actions — routerctl has no real persistence layer.
type postStore struct {
	mu    sync.Mutex
	posts map[string]*post
}

func newPostStore() *postStore {
	s := &postStore{posts: map[string]*post{}}
	s.posts["1"] = &post{ID: "1", Title: "Hello, router"}
	s.posts["2"] = &post{ID: "2", Title: "Transition Planner rules"}
	return s
}

func (s *postStore) list() []*post {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*post, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, p)
	}
	return out
}

func (s *postStore) get(id string) (*post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	return p, ok
}

func (s *postStore) update(id, title string) (*post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, &router.Response{StatusCode: 404, StatusText: "Not Found", Data: fmt.Sprintf("no post %q", id)}
	}
	p.Title = title
	return p, nil
}
