package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/livepoll/config"
	"github.com/lvdashuaibi/livepoll/internal/api/graph"
	"github.com/lvdashuaibi/livepoll/internal/room"
	"github.com/lvdashuaibi/livepoll/internal/service"
)

// NewRouter mounts the REST, WebSocket and GraphQL endpoints on one engine.
// ws and gql may be nil.
func NewRouter(cfg *config.Config, polls *service.PollService, rooms *room.Registry, ws http.Handler, gql *graph.GraphQLServer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(), CORS(cfg.Server.AllowedOrigins))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	pollHandler := NewPollHandler(polls, rooms)
	api := r.Group("/api")
	{
		api.POST("/poll", pollHandler.CreatePoll)
		api.GET("/poll/:id", pollHandler.GetPoll)
		api.GET("/poll/:id/members", pollHandler.Members)
		api.GET("/stats", pollHandler.Stats)
	}

	if ws != nil {
		r.GET("/ws", gin.WrapH(ws))
	}
	if gql != nil {
		r.POST(cfg.GraphQL.Path, gin.WrapH(gql.Handler()))
		r.GET(cfg.GraphQL.PlaygroundPath, gin.WrapH(gql.Playground(cfg.GraphQL.Path)))
	}

	return r
}
