package roadmap

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DatasetHandler is called when the backend announces a dataset change.
// The payload is passed through untouched.
type DatasetHandler func(payload []byte)

// MQTTClient manages the broker connection and the dataset-change
// subscription.
type MQTTClient struct {
	client      mqtt.Client
	config      MQTTConfig
	handler     DatasetHandler
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT connects to the configured broker in the background. It returns
// nil, nil when no broker is configured, which disables MQTT.
func InitMQTT(config MQTTConfig, handler DatasetHandler) (*MQTTClient, error) {
	if config.Broker == "" {
		Logf("[MQTT] disabled: no broker configured")
		return nil, nil
	}
	if config.DatasetTopic == "" {
		config.DatasetTopic = defaultDatasetTopic
	}

	client := &MQTTClient{
		config:  config,
		handler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)

	clientID := config.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}
	opts.SetClientID(clientID)

	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep the subscription across reconnects

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()
	return client, nil
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		Logf("[MQTT] Connecting to %s...", c.config.Broker)

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				Logf("[MQTT] Connected")
				c.setConnected(true)
				return
			}
			Logf("[MQTT] Connection failed: %v", token.Error())
		} else {
			Logf("[MQTT] Connection timeout")
		}

		Logf("[MQTT] Retrying in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the dataset topic on every (re)connect.
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := c.config.DatasetTopic
	Logf("[MQTT] Subscribing to %s", topic)
	token := client.Subscribe(topic, 0, c.datasetMessage)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		Logf("[MQTT] Error subscribing to %s: %v", topic, token.Error())
		return
	}
	Logf("[MQTT] Subscribed to %s", topic)
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	Logf("[MQTT] Connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	Logf("[MQTT] Reconnecting...")
}

func (c *MQTTClient) datasetMessage(client mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	Logf("[MQTT] Dataset update on %s (%d bytes)", msg.Topic(), len(payload))
	if c.handler != nil {
		c.handler(payload)
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		Logf("[MQTT] Disconnecting...")
		c.client.Disconnect(250) // ms quiesce
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// DatasetTopic returns the subscribed dataset-change topic.
func (c *MQTTClient) DatasetTopic() string {
	return c.config.DatasetTopic
}

// NewMQTTClientWithMock wraps an existing mqtt.Client, typically a
// MockClient, without dialing a broker. A MockClient gets the same on-connect
// subscription a broker connection would.
func NewMQTTClientWithMock(client mqtt.Client, config MQTTConfig, handler DatasetHandler) *MQTTClient {
	if config.DatasetTopic == "" {
		config.DatasetTopic = defaultDatasetTopic
	}
	c := &MQTTClient{
		client:  client,
		config:  config,
		handler: handler,
	}
	if mock, ok := client.(*MockClient); ok {
		mock.SetOnConnect(c.onConnect)
	}
	return c
}
