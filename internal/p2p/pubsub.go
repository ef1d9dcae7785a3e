package p2p

import (
	"context"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PubSub manages GossipSub for dispute announcements.
type PubSub struct {
	ps     *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	self   peer.ID
	logger *zap.Logger

	peerLimiters   map[peer.ID]*rate.Limiter
	peerLimitersMu sync.Mutex
}

// NewPubSub creates a new GossipSub instance.
func NewPubSub(ctx context.Context, h host.Host, incomingDisputes chan *DisputeAnnounceMsg, logger *zap.Logger) (*PubSub, error) {
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	topic, err := ps.Join(DisputeTopicName)
	if err != nil {
		return nil, err
	}

	sub, err := topic.Subscribe()
	if err != nil {
		return nil, err
	}

	p := &PubSub{
		ps:           ps,
		topic:        topic,
		sub:          sub,
		self:         h.ID(),
		logger:       logger,
		peerLimiters: make(map[peer.ID]*rate.Limiter),
	}

	go p.readLoop(ctx, incomingDisputes)

	return p, nil
}

// AnnounceDispute publishes a dispute announcement to the gossipsub network.
func (p *PubSub) AnnounceDispute(msg *DisputeAnnounceMsg) error {
	msg.Type = MsgTypeDisputeAnnounce
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	return p.topic.Publish(context.Background(), data)
}

func (p *PubSub) readLoop(ctx context.Context, incomingDisputes chan *DisputeAnnounceMsg) {
	for {
		msg, err := p.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("pubsub read error", zap.Error(err))
			continue
		}

		// Ignore our own messages
		if msg.GetFrom() == p.self {
			continue
		}

		if !p.getPeerLimiter(msg.GetFrom()).Allow() {
			p.logger.Warn("peer rate limited", zap.String("peer", msg.GetFrom().String()))
			continue
		}

		dispute, err := DecodeDisputeAnnounce(msg.Data)
		if err != nil {
			p.logger.Debug("invalid dispute announcement", zap.Error(err))
			continue
		}

		select {
		case incomingDisputes <- dispute:
		default:
			p.logger.Warn("incoming disputes channel full, dropping announcement")
		}
	}
}

func (p *PubSub) getPeerLimiter(peerID peer.ID) *rate.Limiter {
	p.peerLimitersMu.Lock()
	defer p.peerLimitersMu.Unlock()

	if lim, ok := p.peerLimiters[peerID]; ok {
		return lim
	}

	// Evict a random entry if map is too large
	if len(p.peerLimiters) >= 500 {
		for id := range p.peerLimiters {
			delete(p.peerLimiters, id)
			break
		}
	}

	lim := rate.NewLimiter(10, 20)
	p.peerLimiters[peerID] = lim
	return lim
}
