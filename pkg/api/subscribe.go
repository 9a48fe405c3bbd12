package api

import (
	"github.com/cuemby/chatcluster/pkg/metrics"
	"github.com/cuemby/chatcluster/pkg/rpc"
	"github.com/cuemby/chatcluster/pkg/types"
)

// Subscribe serves the READ_MESSAGES streaming subscription (orig §4.3):
// first flush every undelivered message for username in commit order, then
// push each newly-published message as it arrives until the caller
// disconnects or the broker drops the subscription for backpressure (orig
// §5 "disconnect subscriber" policy, pkg/broker.Publish).
func (s *Server) Subscribe(env *rpc.ClientEnvelope, stream rpc.ClientSubscribeStream) error {
	var payload rpc.ReadMessagesPayload
	if err := rpc.DecodePayload(env.Payload, &payload); err != nil {
		return stream.Send(errorEnvelope("invalid", err.Error()))
	}
	if payload.Username == "" {
		return stream.Send(errorEnvelope("invalid", "username is required"))
	}

	backlog, err := s.manager.Store().UndeliveredFor(payload.Username)
	if err != nil {
		return stream.Send(errorEnvelope("invalid", err.Error()))
	}
	for _, msg := range backlog {
		if err := stream.Send(readMessagesEnvelope(msg)); err != nil {
			return err
		}
		if err := s.manager.Store().MarkDelivered(msg.ID); err != nil {
			return err
		}
	}

	sub := s.manager.Broker().Subscribe(payload.Username)
	defer sub.Close()

	metrics.ActiveSubscriptions.Inc()
	defer metrics.ActiveSubscriptions.Dec()

	ctx := stream.Context()
	for {
		metrics.SubscriptionQueueDepth.WithLabelValues(payload.Username).Set(float64(len(sub.C)))

		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done:
			metrics.SubscriptionDroppedTotal.Inc()
			return nil
		case msg := <-sub.C:
			if err := stream.Send(readMessagesEnvelope(msg)); err != nil {
				return err
			}
			if err := s.manager.Store().MarkDelivered(msg.ID); err != nil {
				return err
			}
		}
	}
}

func readMessagesEnvelope(msg *types.Message) *rpc.ClientEnvelope {
	payload, _ := rpc.EncodePayload(rpc.ReadMessagesResult{
		MessageID: msg.ID,
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Content:   msg.Content,
		Timestamp: msg.Timestamp.Unix(),
	})
	return &rpc.ClientEnvelope{Type: rpc.TypeReadMessages, Payload: payload}
}
