// Package mcp は会話とキャラクター操作を MCP のツールとして公開します。
package mcp

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sat8bit/tavern/chain"
	"github.com/sat8bit/tavern/character"
)

// Invoker は 1 ターン分の会話を実行します。
type Invoker interface {
	Invoke(ctx context.Context, req chain.Request) (*chain.Response, error)
}

type Server struct {
	chars *character.Repository
	chat  Invoker
	mcp   *sdk.Server
}

func NewServer(chars *character.Repository, chat Invoker, version string) *Server {
	s := &Server{
		chars: chars,
		chat:  chat,
		mcp: sdk.NewServer(&sdk.Implementation{
			Name:    "tavern",
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

func (s *Server) Run(ctx context.Context, transport sdk.Transport) error {
	return s.mcp.Run(ctx, transport)
}
