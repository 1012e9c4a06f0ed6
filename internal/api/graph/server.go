package graph

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql/playground"
	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/lvdashuaibi/livepoll/internal/model"
	"github.com/lvdashuaibi/livepoll/internal/service"
)

// GraphQLServer serves the poll schema and its playground.
type GraphQLServer struct {
	schema   *graphql.Schema
	handler  *relay.Handler
	resolver *Resolver
}

const schemaString = `
type Poll {
  id: ID!
  question: String!
  options: [String!]!
  state: String!
  votes: [Int!]!
  total: Int!
  timeLimitSeconds: Int!
  createdAt: String!
  activatedAt: String
  closedAt: String
}

type Stats {
  created: Int!
  active: Int!
  closed: Int!
}

type Query {
  # null when the poll does not exist
  poll(id: ID!): Poll

  # the most recently posted poll while it is active
  currentPoll: Poll

  stats: Stats!
}

type Mutation {
  createPoll(question: String!, options: [String!]!): Poll!

  # timeLimitSeconds defaults to the server setting
  startPoll(id: ID!, timeLimitSeconds: Int): Poll!

  closePoll(id: ID!): Poll!
}

schema {
  query: Query
  mutation: Mutation
}
`

func NewGraphQLServer(polls *service.PollService) *GraphQLServer {
	resolver := NewResolver(polls)

	schema := graphql.MustParseSchema(schemaString, resolver,
		graphql.UseFieldResolvers(),
	)

	return &GraphQLServer{
		schema:   schema,
		handler:  &relay.Handler{Schema: schema},
		resolver: resolver,
	}
}

// Handler answers GraphQL POST requests.
func (s *GraphQLServer) Handler() http.Handler {
	return s.handler
}

// Playground serves an in-browser IDE pointed at endpoint.
func (s *GraphQLServer) Playground(endpoint string) http.Handler {
	return playground.Handler("LivePoll GraphQL Playground", endpoint)
}

type Resolver struct {
	polls *service.PollService
}

func NewResolver(polls *service.PollService) *Resolver {
	return &Resolver{polls: polls}
}

func (r *Resolver) Poll(ctx context.Context, args struct{ ID graphql.ID }) (*PollResolver, error) {
	poll, err := r.polls.Get(string(args.ID))
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &PollResolver{poll: poll}, nil
}

func (r *Resolver) CurrentPoll(ctx context.Context) (*PollResolver, error) {
	poll, ok := r.polls.Current()
	if !ok {
		return nil, nil
	}
	return &PollResolver{poll: poll}, nil
}

func (r *Resolver) Stats(ctx context.Context) *StatsResolver {
	return &StatsResolver{stats: r.polls.Stats()}
}

func (r *Resolver) CreatePoll(ctx context.Context, args struct {
	Question string
	Options  []string
}) (*PollResolver, error) {
	poll, err := r.polls.Create(args.Question, args.Options)
	if err != nil {
		return nil, err
	}
	return &PollResolver{poll: poll}, nil
}

func (r *Resolver) StartPoll(ctx context.Context, args struct {
	ID               graphql.ID
	TimeLimitSeconds *int32
}) (*PollResolver, error) {
	var limit int
	if args.TimeLimitSeconds != nil {
		limit = int(*args.TimeLimitSeconds)
	}
	poll, err := r.polls.Start(string(args.ID), limit)
	if err != nil {
		return nil, err
	}
	return &PollResolver{poll: poll}, nil
}

func (r *Resolver) ClosePoll(ctx context.Context, args struct{ ID graphql.ID }) (*PollResolver, error) {
	poll, err := r.polls.Close(string(args.ID))
	if err != nil {
		return nil, err
	}
	return &PollResolver{poll: poll}, nil
}

type PollResolver struct {
	poll model.Poll
}

func (r *PollResolver) ID() graphql.ID {
	return graphql.ID(r.poll.ID)
}

func (r *PollResolver) Question() string {
	return r.poll.Question
}

func (r *PollResolver) Options() []string {
	return r.poll.Options
}

func (r *PollResolver) State() string {
	return string(r.poll.State)
}

func (r *PollResolver) Votes() []int32 {
	votes := make([]int32, len(r.poll.Votes))
	for i, v := range r.poll.Votes {
		votes[i] = int32(v)
	}
	return votes
}

func (r *PollResolver) Total() int32 {
	return int32(r.poll.Total)
}

func (r *PollResolver) TimeLimitSeconds() int32 {
	return int32(r.poll.TimeLimitSeconds)
}

func (r *PollResolver) CreatedAt() string {
	return r.poll.CreatedAt.Format(time.RFC3339)
}

func (r *PollResolver) ActivatedAt() *string {
	return formatTime(r.poll.ActivatedAt)
}

func (r *PollResolver) ClosedAt() *string {
	return formatTime(r.poll.ClosedAt)
}

type StatsResolver struct {
	stats model.Stats
}

func (r *StatsResolver) Created() int32 {
	return int32(r.stats.Created)
}

func (r *StatsResolver) Active() int32 {
	return int32(r.stats.Active)
}

func (r *StatsResolver) Closed() int32 {
	return int32(r.stats.Closed)
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
