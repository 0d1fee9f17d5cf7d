package webhook

import (
	"github.com/concertlabs/concert/internal/event"
)

// Attach subscribes the manager to a session bus, translating the bus-level
// event taxonomy into the seven subscriber-visible webhook events. Bus events
// with no webhook counterpart are ignored. Returns the unsubscribe func.
func Attach(bus *event.Bus, m *Manager) func() {
	return bus.Subscribe(Listener(m))
}

// Listener returns a bus listener forwarding events to the manager, for
// callers that subscribe through a session rather than a raw bus.
func Listener(m *Manager) func(event.Event) {
	return func(e event.Event) {
		eventType, data := translate(e)
		if eventType == "" {
			return
		}
		m.Dispatch(eventType, data)
	}
}

// translate maps one bus event to a webhook event and payload data. Returns
// an empty event type for bus events subscribers do not see.
func translate(e event.Event) (EventType, map[string]any) {
	switch e.Type {
	case event.TypeGameCreated:
		data := map[string]any{"game_id": e.GameID}
		if p, ok := e.Payload.(event.GameCreated); ok {
			data["name"] = p.Name
		}
		return EventGameCreated, data

	case event.TypeGameStarted:
		p, ok := e.Payload.(event.GameStarted)
		if !ok {
			return "", nil
		}
		return EventGameStarted, map[string]any{
			"game_id": e.GameID,
			"year":    p.Year,
			"season":  p.Season,
			"phase":   p.Phase,
		}

	case event.TypeGameCompleted:
		data := map[string]any{"game_id": e.GameID}
		if p, ok := e.Payload.(event.GameCompleted); ok {
			if p.Winner != "" {
				data["winner"] = p.Winner
			}
			data["draw"] = p.IsDraw
		}
		return EventGameEnded, data

	case event.TypeGameAbandoned:
		return EventGameEnded, map[string]any{"game_id": e.GameID}

	case event.TypePhaseStarted:
		p, ok := e.Payload.(event.PhaseStarted)
		if !ok {
			return "", nil
		}
		return EventPhaseStarted, map[string]any{
			"game_id": e.GameID,
			"year":    p.Year,
			"season":  p.Season,
			"phase":   p.Phase,
		}

	case event.TypeOrdersResolved:
		p, ok := e.Payload.(event.OrdersResolved)
		if !ok {
			return "", nil
		}
		return EventPhaseResolved, map[string]any{
			"game_id": e.GameID,
			"year":    p.Year,
			"season":  p.Season,
			"phase":   p.Phase,
		}

	case event.TypeOrdersSubmitted:
		p, ok := e.Payload.(event.OrdersSubmitted)
		if !ok {
			return "", nil
		}
		return EventOrdersSubmitted, map[string]any{
			"game_id":     e.GameID,
			"power":       p.Power,
			"order_count": p.OrderCount,
		}

	case event.TypeMessageSent:
		p, ok := e.Payload.(event.MessageSent)
		if !ok {
			return "", nil
		}
		return EventMessageSent, map[string]any{
			"game_id":    e.GameID,
			"sender":     p.Sender,
			"channel_id": p.ChannelID,
			"preview":    p.Preview,
		}
	}
	return "", nil
}
