package messaging

import (
	"context"
	"strings"

	"go.uber.org/ratelimit"
)

// RepairReport summarizes a fleet-wide participant repair.
type RepairReport struct {
	Conversations int `json:"conversations"`
	Added         int `json:"added"`
	Failed        int `json:"failed"`
}

// RepairParticipants restores the creator's participant row of one conversation. Past senders
// are not promoted: a send does not make anyone a member. Safe to re-run.
func (s *Service) RepairParticipants(ctx context.Context, conversationID string) (int, error) {
	const op = "messaging.RepairParticipants"

	id := strings.TrimSpace(conversationID)
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	added, err := s.conversations.EnsureParticipants(sctx, id, s.clock())
	if err != nil {
		return 0, storeErr(op, err, conversationNotFound(id))
	}
	if added > 0 {
		s.log.Info("conversation.repair", "conversation_id", id, "added", added)
	}
	return added, nil
}

// RepairAllParticipants runs RepairParticipants over every conversation, at most perSecond
// conversations per second (0 means unpaced). Per-conversation failures are counted and logged;
// only listing failures and cancellation abort the run.
func (s *Service) RepairAllParticipants(ctx context.Context, perSecond int) (RepairReport, error) {
	const op = "messaging.RepairAllParticipants"

	sctx, cancel := s.storeCtx(ctx)
	ids, err := s.conversations.IDs(sctx)
	cancel()
	if err != nil {
		return RepairReport{}, storeErr(op, err, "")
	}

	limiter := ratelimit.NewUnlimited()
	if perSecond > 0 {
		limiter = ratelimit.New(perSecond, ratelimit.WithoutSlack)
	}

	var rep RepairReport
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, opErr(op, ErrInternal, "interrupted", err)
		}
		limiter.Take()

		added, err := s.RepairParticipants(ctx, id)
		rep.Conversations++
		if err != nil {
			rep.Failed++
			s.log.Warn("conversation.repair.fail", "conversation_id", id, "err", err)
			continue
		}
		rep.Added += added
	}

	s.log.Info("conversation.repair.done", "conversations", rep.Conversations, "added", rep.Added, "failed", rep.Failed)
	return rep, nil
}
