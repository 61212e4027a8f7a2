package roadmap

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher publishes session events (selections and render passes) to MQTT.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
}

// NewPublisher creates a publisher writing under prefix.
// If client is nil, publishing is disabled.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = defaultPublishPrefix
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true,
	}
}

type selectionMessage struct {
	SessionID string     `json:"sessionId"`
	Open      bool       `json:"open"`
	Selection *Selection `json:"selection,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

type renderMessage struct {
	SessionID string `json:"sessionId"`
	RenderSummary
	Timestamp int64 `json:"timestamp"`
}

// PublishSelection publishes the current selection of a session. A nil
// selection announces that the detail view closed.
func (p *Publisher) PublishSelection(sessionID string, sel *Selection) error {
	return p.publish(fmt.Sprintf("%s/%s/selection", p.publishPrefix, sessionID), selectionMessage{
		SessionID: sessionID,
		Open:      sel != nil,
		Selection: sel,
		Timestamp: time.Now().Unix(),
	})
}

// PublishRender publishes the summary of a render pass.
func (p *Publisher) PublishRender(sessionID string, summary RenderSummary) error {
	return p.publish(fmt.Sprintf("%s/%s/render", p.publishPrefix, sessionID), renderMessage{
		SessionID:     sessionID,
		RenderSummary: summary,
		Timestamp:     time.Now().Unix(),
	})
}

// ClearSession removes the retained selection and render messages of a
// session by publishing empty retained payloads to its topics.
func (p *Publisher) ClearSession(sessionID string) error {
	for _, kind := range []string{"selection", "render"} {
		topic := fmt.Sprintf("%s/%s/%s", p.publishPrefix, sessionID, kind)
		if err := p.send(topic, true, []byte{}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", topic, err)
	}
	return p.send(topic, p.retain, payload)
}

func (p *Publisher) send(topic string, retain bool, payload []byte) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}

// Prefix returns the topic prefix.
func (p *Publisher) Prefix() string {
	return p.publishPrefix
}
