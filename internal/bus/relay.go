// Package bus relays timer events between server instances over NATS, so
// clients of the same room converge no matter which instance they landed on.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/synctick/synctick/internal/room"
	"github.com/synctick/synctick/internal/timer"
)

const subjectPrefix = "timer.rooms."

// envelope is the wire format on the bus. Instance identifies the publisher
// so an instance never re-applies its own events.
type envelope struct {
	Instance string      `json:"instance"`
	Room     string      `json:"room"`
	Event    timer.Event `json:"event"`
}

// Relay publishes locally applied events and applies remote ones to the
// local registry. Events carry full post-mutation snapshots, so applying a
// remote event is an overwrite, never a merge.
type Relay struct {
	nc         *nats.Conn
	sub        *nats.Subscription
	instanceID string
	registry   *room.Registry
}

// Connect dials NATS and subscribes to every room subject. The connection
// reconnects indefinitely; events missed while disconnected are self-healing
// because the next event carries the full room state.
func Connect(url string, registry *room.Registry) (*Relay, error) {
	r := &Relay{
		instanceID: uuid.New().String(),
		registry:   registry,
	}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	r.nc = nc

	sub, err := nc.Subscribe(subjectPrefix+">", func(msg *nats.Msg) {
		r.handleMessage(msg.Data)
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe to room events: %w", err)
	}
	r.sub = sub

	log.Info().Str("instance", r.instanceID).Str("url", url).Msg("event relay connected")
	return r, nil
}

// Publish forwards a locally applied event to the other instances.
// Fire-and-forget, matching the local broadcast contract.
func (r *Relay) Publish(roomCode string, ev timer.Event) {
	data, err := json.Marshal(envelope{
		Instance: r.instanceID,
		Room:     roomCode,
		Event:    ev,
	})
	if err != nil {
		log.Error().Err(err).Str("room", roomCode).Msg("failed to marshal relay envelope")
		return
	}
	if err := r.nc.Publish(subjectPrefix+roomCode, data); err != nil {
		log.Error().Err(err).Str("room", roomCode).Msg("failed to publish relay event")
	}
}

// handleMessage applies one envelope from the bus. Own events are skipped;
// events for rooms with no local clients are dropped, since a room is only
// worth tracking where someone is watching it.
func (r *Relay) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Debug().Err(err).Msg("ignoring malformed relay envelope")
		return
	}
	if env.Instance == r.instanceID {
		return
	}

	rm := r.registry.Lookup(env.Room)
	if rm == nil {
		return
	}
	rm.ApplyRemote(env.Event)

	log.Debug().
		Str("room", env.Room).
		Str("event_type", string(env.Event.Type)).
		Str("origin", env.Instance).
		Msg("remote event applied")
}

// Close drains the subscription and closes the connection.
func (r *Relay) Close() {
	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil {
			log.Error().Err(err).Msg("failed to unsubscribe relay")
		}
	}
	if r.nc != nil {
		r.nc.Close()
	}
}
