package client

import (
	"encoding/json"

	"github.com/opsdesk/internal/logger"
	"github.com/opsdesk/internal/model"
	"github.com/opsdesk/internal/ws"
)

// Bind registers the ledger, room intent set and aggregator on the manager's
// event stream and resync hook. Call once, before Open. Any of the three may
// be nil.
func Bind(m *Manager, rooms *RoomIntentSet, ledger *Ledger, agg *Aggregator) {
	if rooms != nil {
		m.OnConnect(rooms.ResyncAll)
	}

	if ledger != nil {
		m.OnEvent(ws.EventChatNewMessage, func(raw json.RawMessage) {
			var p ws.NewMessagePayload
			if err := json.Unmarshal(raw, &p); err != nil {
				logger.Errorf("decode chat_new_message: %v", err)
				return
			}
			ledger.HandleConfirmed(p)
		})
		m.OnEvent(ws.EventSendFailed, func(raw json.RawMessage) {
			var p ws.SendFailedPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				logger.Errorf("decode send_failed: %v", err)
				return
			}
			ledger.HandleSendFailed(p)
		})
	}

	if agg != nil {
		m.OnEvent(ws.EventChatNewMessage, func(raw json.RawMessage) {
			var p ws.NewMessagePayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return
			}
			agg.HandleChatNewMessage(p)
		})
		m.OnEvent(ws.EventChatUpdated, func(raw json.RawMessage) {
			var p ws.ChatUpdatedPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				logger.Errorf("decode chat_updated: %v", err)
				return
			}
			agg.HandleChatUpdated(p)
		})
		m.OnEvent(ws.EventChatNew, func(json.RawMessage) {
			agg.HandleChatNew()
		})
		m.OnEvent(ws.EventActivityNew, func(raw json.RawMessage) {
			var e model.ActivityEntry
			if err := json.Unmarshal(raw, &e); err != nil {
				logger.Errorf("decode activity_new: %v", err)
				return
			}
			agg.HandleActivity(e)
		})
		m.OnEvent(ws.EventAlertCritical, func(raw json.RawMessage) {
			var e model.AlertEntry
			if err := json.Unmarshal(raw, &e); err != nil {
				logger.Errorf("decode alert_critical: %v", err)
				return
			}
			agg.HandleAlert(e)
		})
		m.OnEvent(ws.EventJobUpdated, func(raw json.RawMessage) {
			var p ws.JobUpdatedPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				logger.Errorf("decode job_updated: %v", err)
				return
			}
			agg.HandleJobUpdated(p)
		})
	}
}
