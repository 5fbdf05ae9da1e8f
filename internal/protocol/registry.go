package protocol

import (
	"context"
	"encoding/json"

	"github.com/openfloor/nftindex/internal/domain"
)

// Registry is the closed dispatch table over protocol kinds. It is built once
// at startup and read-only afterwards.
type Registry struct {
	parsers map[domain.OrderKind]Parser
}

// NewRegistry constructs the full parser table from the shared protocol
// configuration.
func NewRegistry(cfg Config) *Registry {
	list := []Parser{
		NewSeaportParser(cfg),
		NewLooksRareParser(cfg),
		NewX2Y2Parser(cfg),
		NewZoraParser(cfg),
		NewElementParser(cfg, domain.OrderKindElementERC721),
		NewElementParser(cfg, domain.OrderKindElementERC1155),
		NewManifoldParser(cfg),
		NewSudoswapParser(cfg),
		NewCryptoPunksParser(cfg),
		NewFoundationParser(cfg),
		NewInfinityParser(cfg),
		NewWyvernParser(cfg),
		NewPaymentProcessorParser(cfg),
	}

	parsers := make(map[domain.OrderKind]Parser, len(list))
	for _, p := range list {
		parsers[p.Kind()] = p
	}
	return &Registry{parsers: parsers}
}

// Get returns the parser for kind, or ok=false for unknown kinds.
func (r *Registry) Get(kind domain.OrderKind) (Parser, bool) {
	p, ok := r.parsers[kind]
	return p, ok
}

// Parse dispatches a raw payload to the parser registered for its kind.
func (r *Registry) Parse(ctx context.Context, kind domain.OrderKind, raw json.RawMessage, meta domain.OrderMetadata, origin domain.SignalOrigin) (domain.NormalizedOrder, error) {
	p, ok := r.parsers[kind]
	if !ok {
		return domain.NormalizedOrder{}, domain.Reject(domain.RejectUnknownOrderKind)
	}
	return p.Parse(ctx, raw, meta, origin)
}

// Kinds lists every registered protocol kind.
func (r *Registry) Kinds() []domain.OrderKind {
	kinds := make([]domain.OrderKind, 0, len(r.parsers))
	for k := range r.parsers {
		kinds = append(kinds, k)
	}
	return kinds
}
